package ingest

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/azure/brand-mentions-pipeline/internal/aiclient"
	"github.com/azure/brand-mentions-pipeline/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// recordingQueue collects enqueued payloads in memory
type recordingQueue struct {
	mu       sync.Mutex
	payloads []interface{}
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, payload interface{}) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, payload)
	return "job", nil
}

func (q *recordingQueue) mentionJobs() []models.MentionJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var jobs []models.MentionJob
	for _, p := range q.payloads {
		jobs = append(jobs, p.(models.MentionJob))
	}
	return jobs
}

// MockAnalyzer is a mock implementation of aiclient.Analyzer
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) AnalyzeSentiment(ctx context.Context, text string) (*aiclient.SentimentResult, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*aiclient.SentimentResult), args.Error(1)
}

func (m *MockAnalyzer) ExtractKeywords(ctx context.Context, text string, limit int) ([]string, error) {
	args := m.Called(ctx, text, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockAlertChecker is a mock implementation of AlertChecker
type MockAlertChecker struct {
	mock.Mock
}

func (m *MockAlertChecker) Check(ctx context.Context, mentionID, brandID string) error {
	args := m.Called(ctx, mentionID, brandID)
	return args.Error(0)
}
