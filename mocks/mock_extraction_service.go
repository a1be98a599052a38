package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"fieldscan/internal/detector"
	"fieldscan/internal/domain"
	"fieldscan/internal/service"
)

// MockExtractionService is a mock implementation of service.ExtractionService.
type MockExtractionService struct {
	mock.Mock
}

func (m *MockExtractionService) Start(ctx context.Context, input *service.ExtractInput) (*service.ExtractionRun, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ExtractionRun), args.Error(1)
}

func (m *MockExtractionService) Resume(ctx context.Context, input *service.ExtractInput) (*service.ExtractionRun, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ExtractionRun), args.Error(1)
}

func (m *MockExtractionService) ConfirmTemplate(ctx context.Context, input *service.ConfirmTemplateInput) (*domain.Template, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Template), args.Error(1)
}

func (m *MockExtractionService) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Template), args.Error(1)
}

func (m *MockExtractionService) ImportTemplates(ctx context.Context, r io.Reader) (*service.ImportResult, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ImportResult), args.Error(1)
}

func (m *MockExtractionService) DetectColumns(ctx context.Context, input *service.DetectInput) (*detector.Result, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*detector.Result), args.Error(1)
}
