package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldRequest describes one field the caller wants extracted from a document.
type FieldRequest struct {
	Label        string    `json:"label"`
	Question     string    `json:"question_text"`
	Required     bool      `json:"required"`
	DeclaredType FieldType `json:"declared_type"`
}

// QuestionText returns the natural-language question for the field,
// deriving one from the label when none was supplied.
func (r FieldRequest) QuestionText() string {
	if q := strings.TrimSpace(r.Question); q != "" {
		return q
	}
	return fmt.Sprintf("What is the %s?", strings.ReplaceAll(r.Label, "_", " "))
}

// PageRef identifies a single page image in object storage.
type PageRef struct {
	DocumentID string `json:"document_id"`
	PageIndex  int    `json:"page_index"`
	Key        string `json:"key"`
}

// RawPoint is a vertex of a token polygon in source pixel space.
type RawPoint struct {
	X float64
	Y float64
}

// RawToken is a text span as reported by the token service, before normalization.
type RawToken struct {
	Text       string
	Quad       [4]RawPoint
	Confidence float64
}

// RawPage is the token service output for one page image.
// Width and Height are zero when the service does not report the image size.
type RawPage struct {
	Width  float64
	Height float64
	Tokens []RawToken
}

// OCRToken is a recognized text span positioned in the normalized space.
type OCRToken struct {
	Text       string  `json:"text"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	PageIndex  int     `json:"page_index"`
}

// AnswerResult is one answer from the answer service.
// BBox is zero when the service does not localize its answer.
type AnswerResult struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	PageIndex  int     `json:"page_index"`
}

// ExtractedField is the outcome of one extraction attempt for a label.
// It is never mutated; a re-extraction produces a new value.
type ExtractedField struct {
	Label      string  `json:"label"`
	Value      string  `json:"value"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	PageIndex  int     `json:"page_index"`
	Source     Source  `json:"source"`
}

// TemplateField is one confirmed field stored in a template.
type TemplateField struct {
	Label      string  `json:"label"`
	Value      string  `json:"value"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Template is a previously confirmed field set used to bias extraction on similar documents.
type Template struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	VendorSignature string          `db:"vendor_signature" json:"vendor_signature"`
	Fields          []TemplateField `db:"-" json:"fields"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Labels returns the set of field labels recorded in the template.
func (t *Template) Labels() map[string]struct{} {
	out := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Label] = struct{}{}
	}
	return out
}

// Validate checks the invariants every stored template must satisfy.
func (t *Template) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("template id is empty: %w", ErrMalformedTemplate)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("template %s has no fields: %w", t.ID, ErrMalformedTemplate)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if strings.TrimSpace(f.Label) == "" {
			return fmt.Errorf("template %s has a field without label: %w", t.ID, ErrMalformedTemplate)
		}
		if seen[f.Label] {
			return fmt.Errorf("template %s repeats label %q: %w", t.ID, f.Label, ErrDuplicateLabel)
		}
		seen[f.Label] = true
		if !f.BBox.Valid() {
			return fmt.Errorf("template %s field %q: %w", t.ID, f.Label, ErrInvalidBBox)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return fmt.Errorf("template %s field %q confidence %v out of range: %w", t.ID, f.Label, f.Confidence, ErrMalformedTemplate)
		}
	}
	return nil
}

// TemplateHint is a per-label spatial hint derived from the best-matching template.
type TemplateHint struct {
	Label      string  `json:"label"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Batch is a fixed-size slice of field requests executed as one answer service call.
type Batch struct {
	Index    int            `json:"index"`
	Requests []FieldRequest `json:"field_requests"`
	Status   BatchStatus    `json:"status"`
}

// Transition moves the batch to the next status, rejecting backwards or repeated moves.
func (b *Batch) Transition(to BatchStatus) error {
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("batch %d %s -> %s: %w", b.Index, b.Status, to, ErrInvalidBatchTransition)
	}
	b.Status = to
	return nil
}

// HasRequired reports whether any request in the batch is required.
func (b *Batch) HasRequired() bool {
	for _, r := range b.Requests {
		if r.Required {
			return true
		}
	}
	return false
}

// BatchProgress is emitted after each successful batch.
type BatchProgress struct {
	BatchIndex      int              `json:"batch_index"`
	TotalBatches    int              `json:"total_batches"`
	FieldsProcessed int              `json:"fields_processed"`
	TotalFields     int              `json:"total_fields"`
	IsPriorityBatch bool             `json:"is_priority_batch"`
	Fields          []ExtractedField `json:"fields"`
}

// Percent is the share of requested fields processed so far.
func (p *BatchProgress) Percent() float64 {
	if p.TotalFields == 0 {
		return 100
	}
	return float64(p.FieldsProcessed) / float64(p.TotalFields) * 100
}

// BatchFailure is the terminal event of a run whose batch failed.
type BatchFailure struct {
	FailedBatchIndex int              `json:"failed_batch_index"`
	FieldsSoFar      []ExtractedField `json:"fields_so_far"`
	Err              error            `json:"-"`
}

// BatchResult is one element of an extraction run's event sequence.
// Exactly one of Progress or Failure is set.
type BatchResult struct {
	Progress *BatchProgress
	Failure  *BatchFailure
}
