package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// MockAnswerService is a mock implementation of port.AnswerService.
type MockAnswerService struct {
	mock.Mock
}

func (m *MockAnswerService) Answer(ctx context.Context, req port.AnswerRequest) ([]domain.AnswerResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AnswerResult), args.Error(1)
}
