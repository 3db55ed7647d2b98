package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
)

// Settings configures the delivery channels. Empty values disable a channel.
type Settings struct {
	TeamsWebhookURL string
	From            string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
}

// Mailer sends email messages. *gomail.Dialer implements it.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service delivers notification jobs. Organization-wide jobs (no user id) go to the
// Teams webhook, user jobs go by email to the address carried in the job data.
type Service struct {
	settings Settings
	client   *resty.Client
	mailer   Mailer
	logger   logrus.FieldLogger
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type            string         `json:"@type"`
	Context         string         `json:"@context"`
	ThemeColor      string         `json:"themeColor,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	Title           string         `json:"title"`
	Text            string         `json:"text"`
	Sections        []TeamsSection `json:"sections,omitempty"`
	PotentialAction []TeamsAction  `json:"potentialAction,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	ActivityText  string      `json:"activityText,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type TeamsAction struct {
	Type    string        `json:"@type"`
	Name    string        `json:"name"`
	Targets []TeamsTarget `json:"targets"`
}

type TeamsTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

var levelColors = map[string]string{
	string(models.AlertLevelLow):      "605e5c",
	string(models.AlertLevelMedium):   "ffb900",
	string(models.AlertLevelHigh):     "d83b01",
	string(models.AlertLevelCritical): "d13438",
}

// NewService creates a new notification service
func NewService(settings Settings, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		settings: settings,
		client:   resty.New().SetTimeout(30 * time.Second),
		logger:   logger,
	}
	if settings.SMTPHost != "" {
		s.mailer = gomail.NewDialer(settings.SMTPHost, settings.SMTPPort, settings.SMTPUsername, settings.SMTPPassword)
	}
	if s.settings.From == "" {
		s.settings.From = settings.SMTPUsername
	}
	return s
}

// Handle is the queue.Handler for the notifications queue
func (s *Service) Handle(ctx context.Context, job *queue.Job) error {
	var payload models.NotificationJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return s.Deliver(ctx, &payload)
}

// Deliver sends one notification. A job with no configured channel is dropped with a log line.
func (s *Service) Deliver(ctx context.Context, job *models.NotificationJob) error {
	logger := s.logger.WithFields(logrus.Fields{
		"type":            job.Type,
		"organization_id": job.OrganizationID,
		"user_id":         job.UserID,
	})

	if job.UserID == "" {
		if s.settings.TeamsWebhookURL == "" {
			logger.Debug("No Teams webhook configured, skipping organization notification")
			return nil
		}
		if err := s.sendToTeams(ctx, job); err != nil {
			logger.WithError(err).Error("Failed to send Teams notification")
			return err
		}
		logger.Info("Sent notification to Teams")
		return nil
	}

	email := dataString(job.Data, "email")
	if email == "" || s.mailer == nil {
		logger.Debug("No email channel for user, skipping notification")
		return nil
	}
	if err := s.sendEmail(job, email); err != nil {
		logger.WithError(err).Error("Failed to send email notification")
		return err
	}
	logger.Info("Sent notification via email")
	return nil
}

func (s *Service) sendToTeams(ctx context.Context, job *models.NotificationJob) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(buildTeamsMessage(job)).
		Post(s.settings.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		err := fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
			return queue.Permanent(err)
		}
		return err
	}
	return nil
}

func buildTeamsMessage(job *models.NotificationJob) *TeamsMessage {
	level := dataString(job.Data, "level")
	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: levelColors[level],
		Summary:    job.Title,
		Title:      job.Title,
		Text:       job.Message,
	}

	if facts := buildFacts(job.Data); len(facts) > 0 {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Details",
			Facts:         facts,
			Markdown:      true,
		})
	}

	if excerpt := dataString(job.Data, "excerpt"); excerpt != "" {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Mention",
			ActivityText:  excerpt,
			Markdown:      true,
		})
	}

	if url := dataString(job.Data, "url"); url != "" {
		message.PotentialAction = []TeamsAction{{
			Type:    "OpenUri",
			Name:    "View mention",
			Targets: []TeamsTarget{{OS: "default", URI: url}},
		}}
	}

	return message
}

var factLabels = map[string]string{
	"condition":           "Condition",
	"level":               "Level",
	"platform":            "Platform",
	"value":               "Value",
	"period":              "Period",
	"mentions":            "Mentions",
	"engagement":          "Engagement",
	"average_sentiment":   "Average sentiment",
	"sentiment_breakdown": "Sentiment",
	"top_platforms":       "Top platforms",
	"top_keywords":        "Top keywords",
}

func buildFacts(data map[string]interface{}) []TeamsFact {
	var facts []TeamsFact
	for key, label := range factLabels {
		v, ok := data[key]
		if !ok || v == nil || v == "" {
			continue
		}
		value := fmt.Sprint(v)
		if f, ok := v.(float64); ok {
			value = fmt.Sprintf("%.2f", f)
		}
		facts = append(facts, TeamsFact{Name: label, Value: value})
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].Name < facts[j].Name })
	return facts
}

func (s *Service) sendEmail(job *models.NotificationJob, to string) error {
	htmlBody, err := buildEmailHTML(job)
	if err != nil {
		return queue.Permanent(fmt.Errorf("failed to build email HTML: %w", err))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.settings.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", job.Title)
	m.SetBody("text/plain", buildEmailText(job))
	m.AddAlternative("text/html", htmlBody)

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #{{.Color}}; color: white; padding: 20px; border-radius: 5px; }
        .facts { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .mention { border-left: 4px solid #{{.Color}}; padding: 10px; margin: 10px 0; background-color: #fafafa; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>
    {{if .Facts}}
    <div class="facts">
        {{range .Facts}}<p><strong>{{.Name}}:</strong> {{.Value}}</p>
        {{end}}
    </div>
    {{end}}
    {{if .Excerpt}}<div class="mention"><p>{{.Excerpt}}</p></div>{{end}}
    {{if .URL}}<p><a href="{{.URL}}" target="_blank">View mention</a></p>{{end}}
    <hr>
    <p><small>This notification was sent automatically by the brand mentions pipeline.</small></p>
</body>
</html>
`))

type emailView struct {
	Title   string
	Message string
	Color   string
	Facts   []TeamsFact
	Excerpt string
	URL     string
}

func buildEmailHTML(job *models.NotificationJob) (string, error) {
	color := levelColors[dataString(job.Data, "level")]
	if color == "" {
		color = "0078d4"
	}
	view := emailView{
		Title:   job.Title,
		Message: job.Message,
		Color:   color,
		Facts:   buildFacts(job.Data),
		Excerpt: dataString(job.Data, "excerpt"),
		URL:     dataString(job.Data, "url"),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildEmailText(job *models.NotificationJob) string {
	var text strings.Builder

	text.WriteString(job.Title + "\n")
	text.WriteString(strings.Repeat("=", len(job.Title)) + "\n\n")
	text.WriteString(job.Message + "\n\n")

	for _, fact := range buildFacts(job.Data) {
		text.WriteString(fmt.Sprintf("%s: %s\n", fact.Name, fact.Value))
	}
	if excerpt := dataString(job.Data, "excerpt"); excerpt != "" {
		text.WriteString(fmt.Sprintf("\n%s\n", excerpt))
	}
	if url := dataString(job.Data, "url"); url != "" {
		text.WriteString(fmt.Sprintf("\nView mention: %s\n", url))
	}

	text.WriteString("\n---\nThis notification was sent automatically by the brand mentions pipeline.\n")
	return text.String()
}

func dataString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
