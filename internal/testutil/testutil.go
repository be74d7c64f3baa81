// Package testutil holds fixtures shared by package tests: an in-memory
// database with every table migrated, a mock platform client and a
// notification recorder.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/db"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/partyhub/mention-lifecycle/internal/platform"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// OpenDB returns a migrated in-memory SQLite database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Connect("sqlite", ":memory:", false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return conn
}

// SeedOrganization inserts an organization with a stored access token.
func SeedOrganization(t *testing.T, conn *gorm.DB, id, accountID, token string) *models.Organization {
	t.Helper()
	org := &models.Organization{ID: id, Name: "Org " + id, InstagramAccountID: accountID}
	require.NoError(t, conn.Create(org).Error)
	if token != "" {
		require.NoError(t, conn.Create(&models.PlatformCredential{
			OwnerType:   models.CredentialOwnerOrganization,
			OwnerID:     id,
			AccessToken: token,
		}).Error)
	}
	return org
}

// SeedEvents inserts active events named after names, one day apart from start.
func SeedEvents(t *testing.T, conn *gorm.DB, organizationID string, start time.Time, names ...string) []models.Event {
	t.Helper()
	events := make([]models.Event, 0, len(names))
	for i, name := range names {
		date := start.Add(time.Duration(i) * 24 * time.Hour)
		e := models.Event{
			ID:             organizationID + "-event-" + string(rune('a'+i)),
			OrganizationID: organizationID,
			Name:           name,
			EventDate:      &date,
			Status:         models.EventStatusActive,
		}
		require.NoError(t, conn.Create(&e).Error)
		events = append(events, e)
	}
	return events
}

// MockPlatform is a testify mock of platform.Client.
type MockPlatform struct {
	mock.Mock
}

var _ platform.Client = (*MockPlatform)(nil)

func (m *MockPlatform) StoryExists(ctx context.Context, storyID, token string) platform.VerificationResult {
	args := m.Called(storyID, token)
	return args.Get(0).(platform.VerificationResult)
}

func (m *MockPlatform) FetchStoryInsights(ctx context.Context, storyID, token string) (*platform.StoryInsights, error) {
	args := m.Called(storyID, token)
	insights, _ := args.Get(0).(*platform.StoryInsights)
	return insights, args.Error(1)
}

func (m *MockPlatform) StoryPermalink(ctx context.Context, storyID, token string) (string, error) {
	args := m.Called(storyID, token)
	return args.String(0), args.Error(1)
}

func (m *MockPlatform) SendMessage(ctx context.Context, recipientID, text, token string) (string, error) {
	args := m.Called(recipientID, text, token)
	return args.String(0), args.Error(1)
}

func (m *MockPlatform) SendMessageWithQuickReplies(ctx context.Context, recipientID, text string, options []platform.QuickReply, token string) (string, error) {
	args := m.Called(recipientID, text, options, token)
	return args.String(0), args.Error(1)
}

// Notifications records every emitted notification in memory.
type Notifications struct {
	mu      sync.Mutex
	emitted []models.Notification
}

func (n *Notifications) Emit(ctx context.Context, notification *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emitted = append(n.emitted, *notification)
	return nil
}

// All returns a copy of everything emitted so far.
func (n *Notifications) All() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.emitted...)
}

// OfType returns the emitted notifications with the given type.
func (n *Notifications) OfType(notificationType string) []models.Notification {
	var out []models.Notification
	for _, notification := range n.All() {
		if notification.Type == notificationType {
			out = append(out, notification)
		}
	}
	return out
}
