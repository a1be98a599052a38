package extraction

import (
	"math"

	"fieldscan/internal/domain"
)

// ArbiterConfig holds the confidence thresholds used when fusing answers with template hints.
type ArbiterConfig struct {
	// PassThreshold is the answer confidence at or above which the answer is trusted as is.
	PassThreshold float64
	// HintCap bounds the confidence a template hint can lend to a field.
	HintCap float64
}

// DefaultArbiterConfig returns the stock thresholds.
func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{PassThreshold: 0.7, HintCap: 0.85}
}

// Arbiter decides the final bbox, confidence and source of each answered field.
type Arbiter struct {
	cfg ArbiterConfig
}

// NewArbiter creates an Arbiter, filling zero thresholds with defaults.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	def := DefaultArbiterConfig()
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = def.PassThreshold
	}
	if cfg.HintCap <= 0 {
		cfg.HintCap = def.HintCap
	}
	return &Arbiter{cfg: cfg}
}

// Fuse combines an answer with an optional template hint.
// The value always comes from the answer. A hint only replaces the bbox when
// the answer is below the pass threshold and the hint is strictly more
// confident; the fused confidence never drops below the answer's own.
func (a *Arbiter) Fuse(label string, ans domain.AnswerResult, hint *domain.TemplateHint) domain.ExtractedField {
	field := domain.ExtractedField{
		Label:      label,
		Value:      ans.Answer,
		BBox:       ans.BBox,
		Confidence: ans.Confidence,
		PageIndex:  ans.PageIndex,
		Source:     domain.SourceAnswerOnly,
	}
	if ans.Confidence >= a.cfg.PassThreshold {
		return field
	}
	if hint == nil || hint.Confidence <= ans.Confidence || !hint.BBox.Valid() {
		return field
	}

	field.BBox = hint.BBox
	field.Confidence = math.Max(ans.Confidence, math.Min(hint.Confidence, a.cfg.HintCap))
	field.Source = domain.SourceAnswerTemplate
	return field
}
