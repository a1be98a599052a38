package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fieldscan/internal/domain"
)

// MockTokenService is a mock implementation of port.TokenService.
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) Tokens(ctx context.Context, page domain.PageRef) (*domain.RawPage, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RawPage), args.Error(1)
}
