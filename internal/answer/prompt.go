package answer

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// BuildQuestionPrompt returns the instruction text sent to chat-style vision models.
func BuildQuestionPrompt(questions []string) string {
	var b strings.Builder
	b.WriteString(`You are a document question-answering assistant. Look at the attached page image and answer each numbered question using only text visible on the page.

Return ONLY valid JSON with no markdown formatting and no code fences, of the form:
{"answers": [{"answer": "", "confidence": 0.0, "bbox": [x1, y1, x2, y2]}]}

Rules:
- Return exactly one entry per question, in question order.
- Use an empty string when the page does not contain the answer, with confidence 0.
- confidence is between 0 and 1.
- bbox is optional; when given, coordinates are on a 0-1000 scale with the origin at the top-left of the page.

Questions:
`)
	for i, q := range questions {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(q)
		b.WriteByte('\n')
	}
	return b.String()
}

// ImageMediaType sniffs the media type of a page image.
func ImageMediaType(img []byte) (string, error) {
	ct := http.DetectContentType(img)
	switch ct {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return ct, nil
	default:
		return "", fmt.Errorf("unsupported page image type %s: %w", ct, domain.ErrInvalidInput)
	}
}

type modelAnswer struct {
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}

// DecodeModelAnswers parses a model's JSON reply into one result per question.
func DecodeModelAnswers(text string, req port.AnswerRequest) ([]domain.AnswerResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var parsed struct {
		Answers []modelAnswer `json:"answers"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing model JSON output: %w: %w", domain.ErrExternalService, err)
	}
	if len(parsed.Answers) != len(req.Questions) {
		return nil, fmt.Errorf("model returned %d answers for %d questions: %w",
			len(parsed.Answers), len(req.Questions), domain.ErrAnswerCountMismatch)
	}

	out := make([]domain.AnswerResult, len(parsed.Answers))
	for i, a := range parsed.Answers {
		out[i] = domain.AnswerResult{
			Answer:     strings.TrimSpace(a.Answer),
			Confidence: math.Min(math.Max(a.Confidence, 0), 1),
			PageIndex:  req.Page.PageIndex,
		}
		if len(a.BBox) == 4 {
			out[i].BBox = domain.NewBBox(a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3])
		}
	}
	return out, nil
}
