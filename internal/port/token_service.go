package port

import (
	"context"

	"fieldscan/internal/domain"
)

// TokenService abstracts the text-recognition service that positions text tokens on a page.
type TokenService interface {
	Tokens(ctx context.Context, page domain.PageRef) (*domain.RawPage, error)
}
