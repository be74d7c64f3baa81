package storage

import (
	"context"
	"errors"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// MentionStore is the persistent table of mentions plus the rows hanging off
// it. Every mutating method is a conditional single-row update that reports
// whether it won; callers use that result instead of locks.
type MentionStore interface {
	Get(ctx context.Context, id string) (*models.Mention, error)
	FindByIdentity(ctx context.Context, organizationID, platformUserID string, mentionedAt time.Time, mentionType models.MentionType) (*models.Mention, error)
	// Create inserts m. It returns false without error when a row with the
	// same identity key already exists.
	Create(ctx context.Context, m *models.Mention) (bool, error)

	// ListDueForVerification returns new story mentions posted in
	// (from, to] with fewer than maxChecks recorded checks.
	ListDueForVerification(ctx context.Context, from, to time.Time, maxChecks int) ([]models.Mention, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.Mention, error)
	RecordCheck(ctx context.Context, id string, at time.Time, visibility models.AccountVisibility, maxChecks int) (bool, error)
	TransitionState(ctx context.Context, id string, to models.MentionState, at time.Time) (bool, error)
	SaveSnapshot(ctx context.Context, snapshot *models.InsightsSnapshot) (bool, error)

	AssignFiesta(ctx context.Context, id, eventID string) (bool, error)
	ClaimPartySelection(ctx context.Context, id string, options []models.PartyOption, at time.Time) (bool, error)
	RecordPartySelectionMessage(ctx context.Context, id, messageID string) error
	ReleasePartySelection(ctx context.Context, id string, claimedAt time.Time) error
	FindPendingPartySelection(ctx context.Context, organizationID, platformUserID string) (*models.Mention, error)
	ResolvePartySelection(ctx context.Context, id, eventID string, at time.Time) (bool, error)
	ListPartySelectionTimeouts(ctx context.Context, sentBefore time.Time) ([]models.Mention, error)
	TimeoutPartySelection(ctx context.Context, id string) (bool, error)
}

// DeliveryLog records inbound webhook deliveries for later inspection.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	CompleteDelivery(ctx context.Context, id string, mentionsCreated int, processingErr error, at time.Time) error
}

// Archive keeps opaque provider payloads for audits and replays.
type Archive interface {
	Store(ctx context.Context, name string, data []byte) error
}
