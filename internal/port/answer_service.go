package port

import (
	"context"

	"fieldscan/internal/domain"
)

// AnswerRequest carries a page image reference and the questions to ask about it.
type AnswerRequest struct {
	Page      domain.PageRef
	Questions []string
}

// AnswerService abstracts the document question-answering service.
// Implementations return exactly one result per question, in question order.
type AnswerService interface {
	Answer(ctx context.Context, req AnswerRequest) ([]domain.AnswerResult, error)
}
