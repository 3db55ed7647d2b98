package digest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

// MockEnqueuer is a mock implementation of Enqueuer
type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, payload interface{}) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	st.PutBrand(models.Brand{ID: "b1", OrganizationID: "org1", Name: "Acme"})
	st.PutBrand(models.Brand{ID: "b2", OrganizationID: "org1", Name: "Quiet"})
	st.AddMember("org1", "user-1", "ops@example.com")
	st.AddMember("org1", "user-2", "")

	for _, m := range sampleMentions() {
		m := m
		m.BrandID = "b1"
		m.ExternalID = m.ID
		require.NoError(t, st.CreateMention(context.Background(), &m))
	}
	return st
}

func newTestService(t *testing.T, st Store, q Enqueuer) *Service {
	t.Helper()
	svc, err := NewService(st, q, Options{Schedule: Daily, Clock: clock.NewFake(testTo), Logger: testLogger()})
	require.NoError(t, err)
	return svc
}

func TestService_Run(t *testing.T) {
	q := new(MockEnqueuer)
	var jobs []models.NotificationJob
	q.On("Enqueue", mock.Anything, mock.AnythingOfType("models.NotificationJob")).
		Run(func(args mock.Arguments) { jobs = append(jobs, args.Get(1).(models.NotificationJob)) }).
		Return("job", nil)

	svc := newTestService(t, seededStore(t), q)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Brands: 2, Sent: 1, Skipped: 1}, result)

	require.Len(t, jobs, 2)
	assert.Empty(t, jobs[0].UserID)
	assert.Equal(t, "user-1", jobs[1].UserID)
	assert.Equal(t, "ops@example.com", jobs[1].Data["email"])
	assert.NotContains(t, jobs[0].Data, "email")
	q.AssertExpectations(t)
}

func TestService_RunEnqueueFailure(t *testing.T) {
	q := new(MockEnqueuer)
	q.On("Enqueue", mock.Anything, mock.Anything).Return("", errors.New("redis down"))

	svc := newTestService(t, seededStore(t), q)

	result, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Skipped)
}

func TestService_Build(t *testing.T) {
	svc := newTestService(t, seededStore(t), nil)

	report, err := svc.Build(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", report.BrandName)
	assert.Equal(t, 3, report.TotalMentions)
	assert.True(t, testFrom.Equal(report.From))

	_, err = svc.Build(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewService_Schedule(t *testing.T) {
	svc, err := NewService(store.NewMemory(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "0 0 9 * * *", svc.Spec())

	_, err = NewService(store.NewMemory(), nil, Options{Schedule: Off})
	assert.Error(t, err)
}
