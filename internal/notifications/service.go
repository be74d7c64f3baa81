package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// Service records notifications and forwards important ones to operators
type Service struct {
	config *config.Config
	db     *gorm.DB
	client *resty.Client
	dialer emailDialer
	now    func() time.Time
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

type emailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config, db *gorm.DB) *Service {
	s := &Service{
		config: cfg,
		db:     db,
		client: resty.New().SetTimeout(30 * time.Second),
		now:    time.Now,
	}
	if cfg.NotificationEmail != "" {
		s.dialer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return s
}

// Emit stores the notification and, when its priority is high enough,
// forwards it to Teams and email. Channel failures are logged only.
func (s *Service) Emit(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.now().UTC()
	}
	if notification.Priority == "" {
		notification.Priority = models.PriorityLow
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"organization_id": notification.OrganizationID,
		"type":            notification.Type,
		"priority":        notification.Priority,
		"target_id":       notification.TargetID,
	}).Info("Notification emitted")

	if notification.Priority.Rank() < s.config.NotifyMinPriority.Rank() {
		return nil
	}

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(ctx, notification); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
		}
	}

	if s.dialer != nil {
		if err := s.sendEmail(notification); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
		}
	}

	return nil
}

func (s *Service) sendToTeams(ctx context.Context, notification *models.Notification) error {
	message := s.buildTeamsMessage(notification)

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) buildTeamsMessage(notification *models.Notification) *TeamsMessage {
	facts := []TeamsFact{
		{Name: "Organization", Value: notification.OrganizationID},
		{Name: "Type", Value: notification.Type},
		{Name: "Priority", Value: string(notification.Priority)},
		{Name: "Created", Value: notification.CreatedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	if notification.TargetID != "" {
		facts = append(facts, TeamsFact{
			Name:  fmt.Sprintf("Target (%s)", notification.TargetType),
			Value: notification.TargetID,
		})
	}

	return &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: themeColor(notification.Priority),
		Title:      notification.Title,
		Text:       notification.Message,
		Sections: []TeamsSection{{
			ActivityTitle: "Details",
			Facts:         facts,
			Markdown:      true,
		}},
	}
}

func themeColor(p models.Priority) string {
	switch p {
	case models.PriorityHigh:
		return "d13438"
	case models.PriorityMedium:
		return "ffaa44"
	}
	return "605e5c"
}

func (s *Service) sendEmail(notification *models.Notification) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(notification.Priority)), notification.Title)

	htmlBody, err := s.buildEmailHTML(notification)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", s.buildEmailText(notification))
	m.AddAlternative("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

var emailTemplate = template.Must(template.New("email").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .body { border-left: 4px solid #0078d4; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
        <p>{{.Priority}} priority, {{.CreatedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>
    <div class="body"><p>{{.Message}}</p></div>
    <p class="meta">Organization {{.OrganizationID}}{{if .TargetID}} | {{.TargetType}} {{.TargetID}}{{end}}</p>
</body>
</html>
`))

func (s *Service) buildEmailHTML(notification *models.Notification) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, notification); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Service) buildEmailText(notification *models.Notification) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("%s\n", notification.Title))
	text.WriteString(fmt.Sprintf("Priority: %s | Organization: %s\n", notification.Priority, notification.OrganizationID))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", notification.CreatedAt.Format("2006-01-02 15:04:05 UTC")))
	text.WriteString(notification.Message)
	text.WriteString("\n")
	if notification.TargetID != "" {
		text.WriteString(fmt.Sprintf("\n%s: %s\n", notification.TargetType, notification.TargetID))
	}

	return text.String()
}
