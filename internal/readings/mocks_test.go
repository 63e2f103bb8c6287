package readings

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/agoradebate/agora/internal/domain"
)

// MockLookup mocks the domain.ReadingLookup interface
type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) Lookup(ctx context.Context, query string) ([]domain.ReadingResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ReadingResult), args.Error(1)
}
