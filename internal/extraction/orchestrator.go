// Package extraction drives progressive, batched field extraction for one page.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// Config controls batch planning and pacing.
type Config struct {
	BatchSize int
	// Cooldown is the delay inserted between consecutive batches. Zero disables it.
	Cooldown time.Duration
	Arbiter  ArbiterConfig
}

// DefaultConfig returns the stock batch size and cooldown.
func DefaultConfig() Config {
	return Config{BatchSize: 5, Cooldown: 500 * time.Millisecond, Arbiter: DefaultArbiterConfig()}
}

// RunInput is everything one extraction run needs.
type RunInput struct {
	Page     domain.PageRef
	Requests []domain.FieldRequest
	// Tokens are the normalized page tokens, used to position answers the service did not localize.
	Tokens []domain.OCRToken
	// Hints are keyed by field label.
	Hints map[string]domain.TemplateHint
	// StartBatch re-enters a previous run at the given batch index.
	StartBatch int
	// Completed carries fields extracted by the batches before StartBatch.
	Completed []domain.ExtractedField
}

// Orchestrator runs field requests through the answer service batch by batch.
type Orchestrator struct {
	answers port.AnswerService
	arbiter *Arbiter
	cfg     Config
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A non-positive batch size falls back to the default.
func NewOrchestrator(answers port.AnswerService, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		answers: answers,
		arbiter: NewArbiter(cfg.Arbiter),
		cfg:     cfg,
		logger:  logger,
	}
}

// PlanBatches orders requests required-first (stable within each group), drops
// repeated labels keeping the first occurrence, and slices the result into
// pending batches of at most size requests.
func PlanBatches(requests []domain.FieldRequest, size int) []domain.Batch {
	if size <= 0 {
		size = DefaultConfig().BatchSize
	}
	seen := make(map[string]bool, len(requests))
	var required, optional []domain.FieldRequest
	for _, r := range requests {
		if seen[r.Label] {
			continue
		}
		seen[r.Label] = true
		if r.Required {
			required = append(required, r)
		} else {
			optional = append(optional, r)
		}
	}
	ordered := append(required, optional...)

	var batches []domain.Batch
	for start := 0; start < len(ordered); start += size {
		end := min(start+size, len(ordered))
		batches = append(batches, domain.Batch{
			Index:    len(batches),
			Requests: ordered[start:end:end],
			Status:   domain.BatchStatusPending,
		})
	}
	return batches
}

// Plan is PlanBatches with the orchestrator's batch size.
func (o *Orchestrator) Plan(requests []domain.FieldRequest) []domain.Batch {
	return PlanBatches(requests, o.cfg.BatchSize)
}

// Run returns the lazy event sequence of one extraction run. Each element is
// either the progress of a completed batch or the terminal failure of a batch.
// The context is only checked between batches; a batch already dispatched
// always completes. The sequence is single-pass.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) iter.Seq[domain.BatchResult] {
	return func(yield func(domain.BatchResult) bool) {
		batches := PlanBatches(in.Requests, o.cfg.BatchSize)
		total := 0
		for _, b := range batches {
			total += len(b.Requests)
		}

		fields := make([]domain.ExtractedField, 0, total)
		fields = append(fields, in.Completed...)

		if len(batches) == 0 {
			yield(failure(0, fields, domain.ErrNoFieldRequests))
			return
		}
		if in.StartBatch < 0 || in.StartBatch >= len(batches) {
			yield(failure(in.StartBatch, fields, fmt.Errorf("start batch %d of %d: %w", in.StartBatch, len(batches), domain.ErrBatchOutOfRange)))
			return
		}

		processed := 0
		for _, b := range batches[:in.StartBatch] {
			processed += len(b.Requests)
		}

		for i := in.StartBatch; i < len(batches); i++ {
			if i > in.StartBatch {
				if err := o.cooldown(ctx); err != nil {
					o.logger.Info("extraction.Run: stopped between batches",
						"document_id", in.Page.DocumentID, "next_batch", i, "reason", err)
					return
				}
			} else if err := ctx.Err(); err != nil {
				return
			}

			b := &batches[i]
			_ = b.Transition(domain.BatchStatusInProgress)
			got, err := o.runBatch(context.WithoutCancel(ctx), in, b)
			if err != nil {
				_ = b.Transition(domain.BatchStatusFailed)
				o.logger.Warn("extraction.Run: batch failed",
					"document_id", in.Page.DocumentID, "batch", i, "error", err)
				yield(failure(i, fields, err))
				return
			}
			_ = b.Transition(domain.BatchStatusDone)

			fields = append(fields, got...)
			processed += len(b.Requests)
			o.logger.Debug("extraction.Run: batch done",
				"document_id", in.Page.DocumentID, "batch", i, "processed", processed, "total", total)

			progress := &domain.BatchProgress{
				BatchIndex:      i,
				TotalBatches:    len(batches),
				FieldsProcessed: processed,
				TotalFields:     total,
				IsPriorityBatch: i == 0 && b.HasRequired(),
				Fields:          got,
			}
			if !yield(domain.BatchResult{Progress: progress}) {
				return
			}
		}
	}
}

func (o *Orchestrator) runBatch(ctx context.Context, in RunInput, b *domain.Batch) ([]domain.ExtractedField, error) {
	questions := make([]string, len(b.Requests))
	for i, r := range b.Requests {
		questions[i] = r.QuestionText()
	}

	answers, err := o.answers.Answer(ctx, port.AnswerRequest{Page: in.Page, Questions: questions})
	if err != nil {
		if errors.Is(err, domain.ErrExternalService) {
			return nil, fmt.Errorf("batch %d: %w", b.Index, err)
		}
		return nil, fmt.Errorf("batch %d: %w: %w", b.Index, domain.ErrExternalService, err)
	}
	if len(answers) != len(questions) {
		return nil, fmt.Errorf("batch %d: got %d answers for %d questions: %w",
			b.Index, len(answers), len(questions), domain.ErrAnswerCountMismatch)
	}

	out := make([]domain.ExtractedField, len(b.Requests))
	for i, r := range b.Requests {
		ans := o.position(answers[i], in)
		var hint *domain.TemplateHint
		if h, ok := in.Hints[r.Label]; ok {
			hint = &h
		}
		out[i] = o.arbiter.Fuse(r.Label, ans, hint)
	}
	return out, nil
}

// position fills in the bbox of an answer the service did not localize.
func (o *Orchestrator) position(ans domain.AnswerResult, in RunInput) domain.AnswerResult {
	if ans.PageIndex == 0 {
		ans.PageIndex = in.Page.PageIndex
	}
	if !ans.BBox.IsZero() {
		return ans
	}
	if tok, ok := Locate(in.Tokens, ans.Answer); ok {
		ans.BBox = tok.BBox
		ans.PageIndex = tok.PageIndex
	}
	return ans
}

func (o *Orchestrator) cooldown(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.cfg.Cooldown == 0 {
		return nil
	}
	t := time.NewTimer(o.cfg.Cooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func failure(index int, fields []domain.ExtractedField, err error) domain.BatchResult {
	soFar := make([]domain.ExtractedField, len(fields))
	copy(soFar, fields)
	return domain.BatchResult{Failure: &domain.BatchFailure{
		FailedBatchIndex: index,
		FieldsSoFar:      soFar,
		Err:              err,
	}}
}
