// Package memory provides an in-process, append-only template store.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// TemplateRepo keeps templates in an immutable slice that is swapped on every
// append. Readers load the current slice without locking and never observe a
// partial write.
type TemplateRepo struct {
	mu       sync.Mutex // serializes writers
	snapshot atomic.Pointer[[]domain.Template]
}

var _ port.TemplateRepository = (*TemplateRepo)(nil)

// NewTemplateRepo creates an empty in-memory template store.
func NewTemplateRepo() *TemplateRepo {
	r := &TemplateRepo{}
	r.snapshot.Store(&[]domain.Template{})
	return r
}

func (r *TemplateRepo) Append(_ context.Context, t *domain.Template) error {
	if t == nil {
		return domain.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	for i := range cur {
		if cur[i].ID == t.ID {
			return domain.ErrDuplicateTemplate
		}
	}
	next := make([]domain.Template, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, cloneTemplate(*t))
	r.snapshot.Store(&next)
	return nil
}

// Query returns the templates present at the time of the call.
func (r *TemplateRepo) Query(_ context.Context) ([]domain.Template, error) {
	cur := *r.snapshot.Load()
	out := make([]domain.Template, len(cur))
	for i := range cur {
		out[i] = cloneTemplate(cur[i])
	}
	return out, nil
}

func cloneTemplate(t domain.Template) domain.Template {
	t.Fields = append([]domain.TemplateField(nil), t.Fields...)
	return t
}
