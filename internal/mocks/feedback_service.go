package mocks

import (
	"context"
	"sync/atomic"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/health"
	"github.com/phrazzld/scry-feedback-api/internal/service"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// MockFeedbackService implements service.FeedbackService for testing
type MockFeedbackService struct {
	// SubmitFn allows test cases to mock the Submit behavior
	SubmitFn func(ctx context.Context, sub service.Submission) (*service.SubmitResult, error)

	// GetByRecordFn allows test cases to mock the GetByRecord behavior
	GetByRecordFn func(ctx context.Context, exerciseRecordID string) (*domain.GenerationTask, error)

	// HealthFn allows test cases to mock the Health behavior
	HealthFn func(ctx context.Context) health.Report

	submitCalls atomic.Int32
}

var _ service.FeedbackService = (*MockFeedbackService)(nil)

// Submit implements the service.FeedbackService interface. Without SubmitFn
// it fails the way an unconfigured provider does.
func (m *MockFeedbackService) Submit(ctx context.Context, sub service.Submission) (*service.SubmitResult, error) {
	m.submitCalls.Add(1)
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, sub)
	}
	return nil, &service.DependencyError{
		Dependency: service.DependencyProvider,
		Err:        service.ErrProviderNotConfigured,
	}
}

// GetByRecord implements the service.FeedbackService interface. Without
// GetByRecordFn every record is unknown.
func (m *MockFeedbackService) GetByRecord(ctx context.Context, exerciseRecordID string) (*domain.GenerationTask, error) {
	if m.GetByRecordFn != nil {
		return m.GetByRecordFn(ctx, exerciseRecordID)
	}
	return nil, store.ErrNotFound
}

// Health implements the service.FeedbackService interface. Without HealthFn
// it reports a healthy service with no checks.
func (m *MockFeedbackService) Health(ctx context.Context) health.Report {
	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return health.Report{Status: health.StatusHealthy, Failing: []string{}}
}

// SubmitCalls returns how many times Submit was called.
func (m *MockFeedbackService) SubmitCalls() int {
	return int(m.submitCalls.Load())
}
