package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldscan/internal/domain"
	"fieldscan/internal/repository/memory"
)

func template(label string) *domain.Template {
	return &domain.Template{
		ID:              uuid.New(),
		VendorSignature: "acme",
		CreatedAt:       time.Now(),
		Fields: []domain.TemplateField{
			{Label: label, Value: "v", BBox: domain.NewBBox(1, 2, 3, 4), Confidence: 0.9},
		},
	}
}

func TestTemplateRepo_AppendAndQuery(t *testing.T) {
	repo := memory.NewTemplateRepo()
	ctx := context.Background()

	empty, err := repo.Query(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := template("total")
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, template("invoice_number")))

	got, err := repo.Query(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.ErrorIs(t, repo.Append(ctx, first), domain.ErrDuplicateTemplate)
}

func TestTemplateRepo_SnapshotIsIsolated(t *testing.T) {
	repo := memory.NewTemplateRepo()
	ctx := context.Background()
	tmpl := template("total")
	require.NoError(t, repo.Append(ctx, tmpl))

	snap, err := repo.Query(ctx)
	require.NoError(t, err)

	tmpl.Fields[0].Label = "mutated"
	snap[0].Fields[0].Label = "also mutated"
	require.NoError(t, repo.Append(ctx, template("due_date")))

	again, err := repo.Query(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Equal(t, "total", again[0].Fields[0].Label)
}

func TestTemplateRepo_ConcurrentAppends(t *testing.T) {
	repo := memory.NewTemplateRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Append(ctx, template(fmt.Sprintf("f%d", i))))
		}()
		go func() {
			defer wg.Done()
			_, err := repo.Query(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Query(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}
