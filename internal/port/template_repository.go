package port

import (
	"context"

	"fieldscan/internal/domain"
)

// TemplateRepository is the append-mostly store of confirmed templates.
// Query returns a point-in-time snapshot; records that cannot be decoded are
// skipped rather than failing the whole query.
type TemplateRepository interface {
	Append(ctx context.Context, t *domain.Template) error
	Query(ctx context.Context) ([]domain.Template, error)
}
