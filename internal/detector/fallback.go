package detector

import (
	"context"
	"math"

	"fieldscan/internal/domain"
	"fieldscan/internal/extraction"
	"fieldscan/internal/port"
	"fieldscan/internal/textsim"
)

// nonTabular handles template cells that do not form a single column: each
// field takes the nearest unused token within NeighborRadius, and fields left
// empty get one targeted question each, up to MaxTargetedQuestions in total.
func (d *Detector) nonTabular(ctx context.Context, in Input) *Result {
	radius := d.cfg.NeighborRadius * domain.CoordSpace * math.Sqrt2
	res := &Result{}
	used := make([]bool, len(in.Tokens))
	seen := make(map[string]bool, len(in.Column))

	var missing []domain.TemplateField
	for _, cell := range in.Column {
		label := textsim.Identifier(cell.Label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true

		best, bestDist := -1, math.Inf(1)
		for i, t := range in.Tokens {
			if used[i] {
				continue
			}
			if dist := t.BBox.CenterDistance(cell.BBox); dist <= radius && dist < bestDist {
				best, bestDist = i, dist
			}
		}
		if best < 0 {
			missing = append(missing, cell)
			continue
		}
		used[best] = true
		tok := in.Tokens[best]
		res.Fields = append(res.Fields, domain.ExtractedField{
			Label:      label,
			Value:      tok.Text,
			BBox:       tok.BBox,
			Confidence: tok.Confidence,
			PageIndex:  tok.PageIndex,
			Source:     domain.SourcePositionFallback,
		})
	}

	for _, cell := range missing {
		if d.answers == nil || res.Questions >= d.cfg.MaxTargetedQuestions {
			break
		}
		res.Questions++
		if f, ok := d.ask(ctx, in, cell); ok {
			res.Fields = append(res.Fields, f)
		}
	}

	d.logger.Debug("detector.Detect: non-tabular",
		"document_id", in.Page.DocumentID, "fields", len(res.Fields),
		"missing", len(missing), "questions", res.Questions)
	return res
}

func (d *Detector) ask(ctx context.Context, in Input, cell domain.TemplateField) (domain.ExtractedField, bool) {
	label := textsim.Identifier(cell.Label)
	q := domain.FieldRequest{Label: label}.QuestionText()
	answers, err := d.answers.Answer(ctx, port.AnswerRequest{Page: in.Page, Questions: []string{q}})
	if err != nil {
		d.logger.Warn("detector.ask: answer service failed", "document_id", in.Page.DocumentID, "label", label, "error", err)
		return domain.ExtractedField{}, false
	}
	if len(answers) == 0 || answers[0].Answer == "" {
		return domain.ExtractedField{}, false
	}

	ans := answers[0]
	f := domain.ExtractedField{
		Label:      label,
		Value:      ans.Answer,
		BBox:       ans.BBox,
		Confidence: ans.Confidence,
		PageIndex:  in.Page.PageIndex,
		Source:     domain.SourceAnswerOnly,
	}
	if f.BBox.IsZero() {
		if tok, ok := extraction.Locate(in.Tokens, ans.Answer); ok {
			f.BBox, f.PageIndex = tok.BBox, tok.PageIndex
		}
	}
	return f, true
}
