package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fieldscan/internal/domain"
)

// MockTemplateRepo is a mock implementation of port.TemplateRepository.
type MockTemplateRepo struct {
	mock.Mock
}

func (m *MockTemplateRepo) Append(ctx context.Context, t *domain.Template) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTemplateRepo) Query(ctx context.Context) ([]domain.Template, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Template), args.Error(1)
}
