// Package heuristic answers common invoice questions with regular expressions
// over the page text, positioned with the page's own tokens.
package heuristic

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"fieldscan/internal/answer"
	"fieldscan/internal/config"
	"fieldscan/internal/domain"
	"fieldscan/internal/extraction"
	"fieldscan/internal/layout"
	"fieldscan/internal/port"
	"fieldscan/internal/textsim"
)

const (
	// ProviderName is the registry key of this provider.
	ProviderName = "heuristic"

	unlocatedConfidence = 0.5
	rowTol              = 10.0
)

func init() {
	answer.RegisterProvider(ProviderName, func(_ *config.AnswerProviderConfig, deps answer.Deps) (port.AnswerService, error) {
		if deps.Tokens == nil {
			return nil, fmt.Errorf("heuristic provider needs a token service")
		}
		return New(deps.Tokens, deps.Logger), nil
	})
}

type rule struct {
	field    string
	keywords []string
	pattern  *regexp.Regexp
}

// rules are checked against the question; the longest matching keyword wins,
// so "invoice date" is preferred over "date" and "subtotal" over "total".
var rules = []rule{
	{"invoice_number", []string{"invoice number", "invoice no", "invoice #", "invoice id"},
		regexp.MustCompile(`(?im)(?:invoice\s*(?:number|#|no\.?)\s*[:#]?\s*)([A-Z0-9-]+)`)},
	{"invoice_date", []string{"invoice date", "date"},
		regexp.MustCompile(`(?im)(?:date|invoice\s*date)\s*[:.]?\s*([A-Za-z]+\s+\d{1,2},?\s+\d{4}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)},
	{"due_date", []string{"due date", "payment due"},
		regexp.MustCompile(`(?im)(?:due\s*date|payment\s*due)\s*[:.]?\s*([A-Za-z]+\s+\d{1,2},?\s+\d{4}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)},
	{"total", []string{"total", "amount due", "grand total"},
		regexp.MustCompile(`(?im)\b(?:total|amount\s*due)\s*[:.]?\s*\$?\s*([\d,]+\.?\d{0,2})`)},
	{"subtotal", []string{"subtotal", "sub total"},
		regexp.MustCompile(`(?im)(?:subtotal|sub\s*total)\s*[:.]?\s*\$?\s*([\d,]+\.?\d{0,2})`)},
	{"tax", []string{"tax", "vat"},
		regexp.MustCompile(`(?im)(?:tax|vat)\s*(?:\([\d.]+%\))?\s*[:.]?\s*\$?\s*([\d,]+\.?\d{0,2})`)},
	{"bill_to_name", []string{"bill to", "customer", "buyer"},
		regexp.MustCompile(`(?im)(?:bill\s*to|customer)[:\s]*([A-Za-z ]+?)\s*$`)},
}

// Answerer implements port.AnswerService without a model.
type Answerer struct {
	tokens port.TokenService
	logger *slog.Logger
}

var _ port.AnswerService = (*Answerer)(nil)

// New creates a heuristic Answerer reading page text from the token service.
func New(tokens port.TokenService, logger *slog.Logger) *Answerer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{tokens: tokens, logger: logger}
}

func (a *Answerer) Answer(ctx context.Context, req port.AnswerRequest) ([]domain.AnswerResult, error) {
	raw, err := a.tokens.Tokens(ctx, req.Page)
	if err != nil {
		return nil, fmt.Errorf("heuristic: fetching tokens: %w: %w", domain.ErrExternalService, err)
	}
	tokens := layout.Normalize(raw, req.Page.PageIndex)
	text := layout.Text(tokens, rowTol)

	out := make([]domain.AnswerResult, len(req.Questions))
	for i, q := range req.Questions {
		out[i] = domain.AnswerResult{PageIndex: req.Page.PageIndex}
		r, ok := ruleFor(q)
		if !ok {
			continue
		}
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		out[i].Answer = value
		out[i].Confidence = unlocatedConfidence
		if tok, ok := extraction.Locate(tokens, value); ok {
			out[i].BBox = tok.BBox
			out[i].Confidence = tok.Confidence
		}
	}
	a.logger.Debug("heuristic.Answer: answered", "document_id", req.Page.DocumentID, "questions", len(req.Questions))
	return out, nil
}

func ruleFor(question string) (rule, bool) {
	q := textsim.Normalize(question)
	best, bestLen := -1, 0
	for i, r := range rules {
		for _, kw := range r.keywords {
			if len(kw) > bestLen && strings.Contains(q, kw) {
				best, bestLen = i, len(kw)
			}
		}
	}
	if best < 0 {
		return rule{}, false
	}
	return rules[best], true
}
