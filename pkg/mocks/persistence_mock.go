package mocks

import (
	"context"

	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	args := m.Called()

	return args.Get(0).(persistence.RunRepository)
}

func (m *MockPersistence) ApprovalRepository() persistence.ApprovalRepository {
	args := m.Called()

	return args.Get(0).(persistence.ApprovalRepository)
}

func (m *MockPersistence) LogRepository() persistence.LogRepository {
	args := m.Called()

	return args.Get(0).(persistence.LogRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
