package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
)

type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func alertJob(userID string) *models.NotificationJob {
	job := &models.NotificationJob{
		Type:           models.NotificationAlertTriggered,
		UserID:         userID,
		OrganizationID: "org-1",
		Title:          "[HIGH] Angry customers",
		Message:        "Negative sentiment detected on YELP (score -0.90)",
		Data: map[string]interface{}{
			"condition": "NEGATIVE_SENTIMENT_THRESHOLD",
			"level":     "HIGH",
			"platform":  "YELP",
			"value":     -0.9,
			"url":       "https://www.yelp.com/biz/acme",
			"excerpt":   "Worst service <ever>",
		},
	}
	if userID != "" {
		job.Data["email"] = "alice@example.com"
	}
	return job
}

func TestService_DeliverToTeams(t *testing.T) {
	var received TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mailer := &fakeMailer{}
	s := NewService(Settings{TeamsWebhookURL: server.URL}, quietLogger())
	s.mailer = mailer

	require.NoError(t, s.Deliver(context.Background(), alertJob("")))

	assert.Equal(t, "MessageCard", received.Type)
	assert.Equal(t, "[HIGH] Angry customers", received.Title)
	assert.Equal(t, "d83b01", received.ThemeColor)
	require.Len(t, received.Sections, 2)
	assert.Contains(t, received.Sections[0].Facts, TeamsFact{Name: "Value", Value: "-0.90"})
	assert.Contains(t, received.Sections[0].Facts, TeamsFact{Name: "Platform", Value: "YELP"})
	require.Len(t, received.PotentialAction, 1)
	assert.Equal(t, "https://www.yelp.com/biz/acme", received.PotentialAction[0].Targets[0].URI)
	assert.Empty(t, mailer.sent)
}

func TestService_TeamsErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantPermanent bool
	}{
		{name: "gone webhook is permanent", status: http.StatusNotFound, wantPermanent: true},
		{name: "throttled is retried", status: http.StatusTooManyRequests, wantPermanent: false},
		{name: "server error is retried", status: http.StatusBadGateway, wantPermanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewService(Settings{TeamsWebhookURL: server.URL}, quietLogger()).Deliver(context.Background(), alertJob(""))
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, queue.IsPermanent(err))
		})
	}
}

func TestService_DeliverEmail(t *testing.T) {
	mailer := &fakeMailer{}
	s := NewService(Settings{From: "alerts@example.com"}, quietLogger())
	s.mailer = mailer

	require.NoError(t, s.Deliver(context.Background(), alertJob("user-1")))
	require.Len(t, mailer.sent, 1)

	msg := mailer.sent[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"alerts@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"[HIGH] Angry customers"}, msg.GetHeader("Subject"))
}

func TestService_SkipsUnconfiguredChannels(t *testing.T) {
	tests := []struct {
		name string
		job  *models.NotificationJob
	}{
		{name: "organization job without webhook", job: alertJob("")},
		{name: "user job without smtp", job: alertJob("user-1")},
		{name: "user job without email", job: &models.NotificationJob{Type: models.NotificationAlertTriggered, UserID: "user-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, NewService(Settings{}, quietLogger()).Deliver(context.Background(), tt.job))
		})
	}
}

func TestService_EmailFailureIsRetried(t *testing.T) {
	s := NewService(Settings{}, quietLogger())
	s.mailer = &fakeMailer{err: errors.New("dial tcp: connection refused")}

	err := s.Deliver(context.Background(), alertJob("user-1"))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
}

func TestBuildEmailBodies(t *testing.T) {
	job := alertJob("user-1")

	html, err := buildEmailHTML(job)
	require.NoError(t, err)
	assert.Contains(t, html, "[HIGH] Angry customers")
	assert.Contains(t, html, "Worst service &lt;ever&gt;")
	assert.Contains(t, html, `href="https://www.yelp.com/biz/acme"`)

	text := buildEmailText(job)
	assert.Contains(t, text, "Condition: NEGATIVE_SENTIMENT_THRESHOLD")
	assert.Contains(t, text, "View mention: https://www.yelp.com/biz/acme")
}

func TestBuildTeamsMessage_Digest(t *testing.T) {
	job := &models.NotificationJob{
		Type:  models.NotificationBrandDigest,
		Title: "Acme daily digest",
		Data: map[string]interface{}{
			"brand_id":            "b1",
			"mentions":            "12",
			"sentiment_breakdown": "7 positive, 3 neutral, 2 negative",
			"top_platforms":       "REDDIT (8), NEWS (4)",
		},
	}

	msg := buildTeamsMessage(job)
	assert.Empty(t, msg.ThemeColor)
	assert.Empty(t, msg.PotentialAction)
	require.Len(t, msg.Sections, 1)
	assert.Equal(t, []TeamsFact{
		{Name: "Mentions", Value: "12"},
		{Name: "Sentiment", Value: "7 positive, 3 neutral, 2 negative"},
		{Name: "Top platforms", Value: "REDDIT (8), NEWS (4)"},
	}, msg.Sections[0].Facts)
}

func TestService_Handle(t *testing.T) {
	mailer := &fakeMailer{}
	s := NewService(Settings{}, quietLogger())
	s.mailer = mailer

	payload, err := json.Marshal(alertJob("user-1"))
	require.NoError(t, err)
	require.NoError(t, s.Handle(context.Background(), &queue.Job{Queue: queue.Notifications, Payload: payload}))
	assert.Len(t, mailer.sent, 1)
}
