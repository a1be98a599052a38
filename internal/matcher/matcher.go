// Package matcher selects the stored template that best fits a new document
// and turns it into per-label spatial hints.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
	"fieldscan/internal/textsim"
)

// Config holds the scoring constants.
type Config struct {
	AcceptanceFloor float64
	VendorBonus     float64
}

// DefaultConfig returns the stock acceptance floor and vendor bonus.
func DefaultConfig() Config {
	return Config{AcceptanceFloor: 0.2, VendorBonus: 0.3}
}

// Match is the winning template and the hints derived from it.
type Match struct {
	Template domain.Template
	Score    float64
	Hints    map[string]domain.TemplateHint
}

// Matcher scores every stored template against a document.
type Matcher struct {
	repo   port.TemplateRepository
	cfg    Config
	logger *slog.Logger
}

// New creates a Matcher over the given template repository. Zero settings take
// the defaults; a negative vendor bonus disables the bonus.
func New(repo port.TemplateRepository, cfg Config, logger *slog.Logger) *Matcher {
	def := DefaultConfig()
	if cfg.AcceptanceFloor <= 0 {
		cfg.AcceptanceFloor = def.AcceptanceFloor
	}
	switch {
	case cfg.VendorBonus == 0:
		cfg.VendorBonus = def.VendorBonus
	case cfg.VendorBonus < 0:
		cfg.VendorBonus = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{repo: repo, cfg: cfg, logger: logger}
}

// Match picks the highest scoring template at or above the acceptance floor,
// breaking ties by the most recent creation time. A nil Match with a nil error
// means no template qualified. Templates that fail validation are skipped.
func (m *Matcher) Match(ctx context.Context, docText string, labels []string) (*Match, error) {
	templates, err := m.repo.Query(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}

	signature := textsim.VendorSignature(docText)
	current := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		current[l] = struct{}{}
	}

	var best *domain.Template
	bestScore := math.Inf(-1)
	for i := range templates {
		t := &templates[i]
		if err := t.Validate(); err != nil {
			m.logger.Warn("matcher.Match: skipping malformed template", "template_id", t.ID, "error", err)
			continue
		}
		score := Score(signature, current, t, m.cfg.VendorBonus)
		if score < m.cfg.AcceptanceFloor {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && t.CreatedAt.After(best.CreatedAt)) {
			best, bestScore = t, score
		}
	}
	if best == nil {
		m.logger.Debug("matcher.Match: no template above floor", "templates", len(templates), "signature", signature)
		return nil, nil
	}

	m.logger.Debug("matcher.Match: selected template", "template_id", best.ID, "score", bestScore)
	return &Match{Template: *best, Score: bestScore, Hints: Hints(best)}, nil
}

// HintsOf returns the hints of a match, or an empty map when there is none.
func (mt *Match) HintsOf() map[string]domain.TemplateHint {
	if mt == nil {
		return map[string]domain.TemplateHint{}
	}
	return mt.Hints
}

// Score combines the structural label overlap with the vendor bonus, capped at 1.
func Score(docSignature string, labels map[string]struct{}, t *domain.Template, vendorBonus float64) float64 {
	score := Jaccard(labels, t.Labels())
	if textsim.SignatureMatches(docSignature, t.VendorSignature) {
		score += vendorBonus
	}
	return math.Min(1, score)
}

// Jaccard is |a ∩ b| / |a ∪ b|; two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Hints derives one hint per field of the template.
func Hints(t *domain.Template) map[string]domain.TemplateHint {
	out := make(map[string]domain.TemplateHint, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Label] = domain.TemplateHint{Label: f.Label, BBox: f.BBox, Confidence: f.Confidence}
	}
	return out
}
