package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fieldscan/internal/detector"
	"fieldscan/internal/domain"
	"fieldscan/internal/extraction"
	"fieldscan/internal/layout"
	"fieldscan/internal/matcher"
	"fieldscan/internal/port"
	"fieldscan/internal/templatefile"
	"fieldscan/internal/textsim"
)

// ExtractInput is the DTO for starting or resuming an extraction run.
type ExtractInput struct {
	Page     domain.PageRef
	Requests []domain.FieldRequest
	// StartBatch and Completed are only set when resuming.
	StartBatch int
	Completed  []domain.ExtractedField
}

// ExtractionRun describes a run that has been planned but not yet consumed.
type ExtractionRun struct {
	TotalBatches  int
	TotalFields   int
	TemplateID    *uuid.UUID
	TemplateScore float64
	// Completed echoes the fields carried into a resumed run. Events never
	// repeat them except inside a failure's FieldsSoFar.
	Completed []domain.ExtractedField
	// Events yields batch progress and at most one terminal failure. Ranging
	// over it performs the answer service calls.
	Events iter.Seq[domain.BatchResult]
}

// ConfirmTemplateInput is the DTO for saving a confirmed extraction as a template.
type ConfirmTemplateInput struct {
	// Page is used to derive the vendor signature when VendorSignature is empty.
	Page            *domain.PageRef
	VendorSignature string
	Fields          []domain.TemplateField
}

// DetectInput is the DTO for a column/header detection call.
type DetectInput struct {
	Page       domain.PageRef
	Column     []domain.TemplateField
	Candidates []string
}

// ImportResult reports the outcome of a template file import.
type ImportResult struct {
	Imported int
	Rejected []templatefile.Rejection
}

// ExtractionService defines the extraction and template contract.
type ExtractionService interface {
	Start(ctx context.Context, input *ExtractInput) (*ExtractionRun, error)
	Resume(ctx context.Context, input *ExtractInput) (*ExtractionRun, error)
	ConfirmTemplate(ctx context.Context, input *ConfirmTemplateInput) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	ImportTemplates(ctx context.Context, r io.Reader) (*ImportResult, error)
	DetectColumns(ctx context.Context, input *DetectInput) (*detector.Result, error)
}

type extractionService struct {
	tokens       port.TokenService
	templateRepo port.TemplateRepository
	orchestrator *extraction.Orchestrator
	matcher      *matcher.Matcher
	detector     *detector.Detector
	rowTol       float64
	logger       *slog.Logger
	now          func() time.Time
}

// NewExtractionService creates a new ExtractionService implementation.
// rowTol is the reading-order row tolerance, in normalized units, used to
// rebuild page text for template matching.
func NewExtractionService(
	tokens port.TokenService,
	templateRepo port.TemplateRepository,
	orchestrator *extraction.Orchestrator,
	m *matcher.Matcher,
	det *detector.Detector,
	rowTol float64,
	logger *slog.Logger,
) ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &extractionService{
		tokens:       tokens,
		templateRepo: templateRepo,
		orchestrator: orchestrator,
		matcher:      m,
		detector:     det,
		rowTol:       rowTol,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *extractionService) Start(ctx context.Context, input *ExtractInput) (*ExtractionRun, error) {
	if input.StartBatch != 0 || len(input.Completed) > 0 {
		return nil, fmt.Errorf("start cannot carry resume state: %w", domain.ErrInvalidInput)
	}
	return s.run(ctx, input)
}

func (s *extractionService) Resume(ctx context.Context, input *ExtractInput) (*ExtractionRun, error) {
	return s.run(ctx, input)
}

func (s *extractionService) run(ctx context.Context, input *ExtractInput) (*ExtractionRun, error) {
	if len(input.Requests) == 0 {
		return nil, domain.ErrNoFieldRequests
	}
	batches := s.orchestrator.Plan(input.Requests)
	if input.StartBatch < 0 || input.StartBatch >= len(batches) {
		return nil, fmt.Errorf("start batch %d of %d: %w", input.StartBatch, len(batches), domain.ErrBatchOutOfRange)
	}
	totalFields := 0
	labels := make([]string, 0, len(input.Requests))
	for _, b := range batches {
		totalFields += len(b.Requests)
		for _, r := range b.Requests {
			labels = append(labels, r.Label)
		}
	}

	// Without tokens the run still proceeds: answers keep their own positions
	// and no template hints apply.
	tokens, err := s.pageTokens(ctx, input.Page)
	if err != nil {
		s.logger.Warn("extraction.run: tokens unavailable, continuing without hints",
			"document_id", input.Page.DocumentID, "page_key", input.Page.Key, "error", err)
	}

	run := &ExtractionRun{TotalBatches: len(batches), TotalFields: totalFields, Completed: input.Completed}
	var match *matcher.Match
	if len(tokens) > 0 {
		match, err = s.matcher.Match(ctx, layout.Text(tokens, s.rowTol), labels)
		if err != nil {
			s.logger.Warn("extraction.run: template matching failed, continuing without hints",
				"document_id", input.Page.DocumentID, "error", err)
			match = nil
		}
	}
	if match != nil {
		id := match.Template.ID
		run.TemplateID = &id
		run.TemplateScore = match.Score
	}

	s.logger.Info("extraction.run: planned",
		"document_id", input.Page.DocumentID,
		"page_index", input.Page.PageIndex,
		"batches", len(batches),
		"fields", totalFields,
		"start_batch", input.StartBatch,
		"template_id", run.TemplateID,
	)

	run.Events = s.orchestrator.Run(ctx, extraction.RunInput{
		Page:       input.Page,
		Requests:   input.Requests,
		Tokens:     tokens,
		Hints:      match.HintsOf(),
		StartBatch: input.StartBatch,
		Completed:  input.Completed,
	})
	return run, nil
}

// pageTokens fetches and normalizes the tokens of one page.
func (s *extractionService) pageTokens(ctx context.Context, page domain.PageRef) ([]domain.OCRToken, error) {
	raw, err := s.tokens.Tokens(ctx, page)
	if err != nil {
		return nil, err
	}
	return layout.Normalize(raw, page.PageIndex), nil
}

func (s *extractionService) ConfirmTemplate(ctx context.Context, input *ConfirmTemplateInput) (*domain.Template, error) {
	sig := input.VendorSignature
	if sig == "" && input.Page != nil {
		tokens, err := s.pageTokens(ctx, *input.Page)
		if err != nil {
			return nil, fmt.Errorf("deriving vendor signature: %w", err)
		}
		sig = textsim.VendorSignature(layout.Text(tokens, s.rowTol))
	}

	t := &domain.Template{
		ID:              uuid.New(),
		VendorSignature: sig,
		Fields:          input.Fields,
		CreatedAt:       s.now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := s.templateRepo.Append(ctx, t); err != nil {
		return nil, fmt.Errorf("saving template: %w", err)
	}
	s.logger.Info("extraction.ConfirmTemplate: template saved",
		"template_id", t.ID, "vendor_signature", sig, "fields", len(t.Fields))
	return t, nil
}

func (s *extractionService) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return s.templateRepo.Query(ctx)
}

func (s *extractionService) ImportTemplates(ctx context.Context, r io.Reader) (*ImportResult, error) {
	decoded, err := templatefile.Decode(r)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Rejected: decoded.Rejected}
	for _, rej := range decoded.Rejected {
		s.logger.Warn("extraction.ImportTemplates: skipping record", "index", rej.Index, "template_id", rej.ID, "error", rej.Err)
	}
	for i := range decoded.Templates {
		t := &decoded.Templates[i]
		if err := s.templateRepo.Append(ctx, t); err != nil {
			if !errors.Is(err, domain.ErrDuplicateTemplate) {
				return res, fmt.Errorf("importing template %s: %w", t.ID, err)
			}
			res.Rejected = append(res.Rejected, templatefile.Rejection{Index: -1, ID: t.ID.String(), Err: err})
			continue
		}
		res.Imported++
	}
	s.logger.Info("extraction.ImportTemplates: done", "imported", res.Imported, "rejected", len(res.Rejected))
	return res, nil
}

func (s *extractionService) DetectColumns(ctx context.Context, input *DetectInput) (*detector.Result, error) {
	tokens, err := s.pageTokens(ctx, input.Page)
	if err != nil {
		return nil, fmt.Errorf("loading page tokens: %w", err)
	}
	res, err := s.detector.Detect(ctx, detector.Input{
		Page:       input.Page,
		Column:     input.Column,
		Tokens:     tokens,
		Candidates: input.Candidates,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("extraction.DetectColumns: done",
		"document_id", input.Page.DocumentID,
		"tabular", res.Tabular,
		"fields", len(res.Fields),
		"escalations", res.Escalations,
		"questions", res.Questions,
	)
	return res, nil
}
