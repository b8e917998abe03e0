package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"docmeta/internal/domain"
	"docmeta/internal/service"
)

// MockExtractionService is a mock implementation of service.ExtractionService.
type MockExtractionService struct {
	mock.Mock
}

func (m *MockExtractionService) Run(ctx context.Context, input *service.RunInput) (*service.Run, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Run), args.Error(1)
}

func (m *MockExtractionService) GetRun(id uuid.UUID) (*service.Run, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Run), args.Error(1)
}

func (m *MockExtractionService) ListRuns() []*service.Run {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*service.Run)
}

func (m *MockExtractionService) ValidateOnly(docType string, extracted map[string]domain.FieldValue) *service.Evaluation {
	args := m.Called(docType, extracted)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*service.Evaluation)
}

func (m *MockExtractionService) Status() service.Status {
	args := m.Called()
	return args.Get(0).(service.Status)
}
