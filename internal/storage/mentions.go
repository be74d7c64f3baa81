package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/models"
	"gorm.io/gorm"
)

// GormStore keeps mentions, snapshots and delivery audits in a SQL database.
type GormStore struct {
	db *gorm.DB
}

// Ensure GormStore implements the store interfaces
var (
	_ MentionStore = (*GormStore)(nil)
	_ DeliveryLog  = (*GormStore)(nil)
)

// NewGormStore wraps an open GORM connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Mention, error) {
	var m models.Mention
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "get mention %s", id)
	}
	return &m, nil
}

func (s *GormStore) FindByIdentity(ctx context.Context, organizationID, platformUserID string, mentionedAt time.Time, mentionType models.MentionType) (*models.Mention, error) {
	var m models.Mention
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND platform_user_id = ? AND mentioned_at = ? AND mention_type = ?",
			organizationID, platformUserID, mentionedAt.UTC(), mentionType).
		First(&m).Error
	if err != nil {
		return nil, notFound(err, "find mention by identity")
	}
	return &m, nil
}

func (s *GormStore) Create(ctx context.Context, m *models.Mention) (bool, error) {
	err := s.db.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: create mention: %w", err)
	}
	return true, nil
}

// ListDueForVerification returns new story mentions posted in (from, to]
// with fewer than maxChecks recorded checks.
func (s *GormStore) ListDueForVerification(ctx context.Context, from, to time.Time, maxChecks int) ([]models.Mention, error) {
	var mentions []models.Mention
	err := s.db.WithContext(ctx).
		Where("mention_type = ? AND state = ? AND checks_count < ? AND mentioned_at > ? AND mentioned_at <= ?",
			models.MentionTypeStoryReferral, models.StateNew, maxChecks, from.UTC(), to.UTC()).
		Order("mentioned_at").
		Find(&mentions).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list due for verification: %w", err)
	}
	return mentions, nil
}

func (s *GormStore) ListExpired(ctx context.Context, now time.Time) ([]models.Mention, error) {
	var mentions []models.Mention
	err := s.db.WithContext(ctx).
		Where("mention_type = ? AND state = ? AND expires_at < ?",
			models.MentionTypeStoryReferral, models.StateNew, now.UTC()).
		Order("expires_at").
		Find(&mentions).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list expired: %w", err)
	}
	return mentions, nil
}

// RecordCheck counts one permanent verification outcome. It only applies
// while the mention is still new and under the check budget.
func (s *GormStore) RecordCheck(ctx context.Context, id string, at time.Time, visibility models.AccountVisibility, maxChecks int) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ? AND state = ? AND checks_count < ?", id, models.StateNew, maxChecks).
		Updates(map[string]interface{}{
			"checks_count":       gorm.Expr("checks_count + 1"),
			"last_check_at":      at.UTC(),
			"account_visibility": visibility,
		})
	if result.Error != nil {
		return false, fmt.Errorf("storage: record check for %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TransitionState moves a new mention to a terminal state and marks it
// processed. Mentions that already left "new" are never touched.
func (s *GormStore) TransitionState(ctx context.Context, id string, to models.MentionState, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("storage: transition %s: %q is not a terminal state", id, to)
	}
	result := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ? AND state = ?", id, models.StateNew).
		Updates(map[string]interface{}{
			"state":        to,
			"processed":    true,
			"processed_at": at.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("storage: transition %s to %s: %w", id, to, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SaveSnapshot stores an insights snapshot. A second snapshot of the same
// type for the same mention is ignored.
func (s *GormStore) SaveSnapshot(ctx context.Context, snapshot *models.InsightsSnapshot) (bool, error) {
	err := s.db.WithContext(ctx).Create(snapshot).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: save snapshot for %s: %w", snapshot.MentionID, err)
	}
	return true, nil
}

func (s *GormStore) AssignFiesta(ctx context.Context, id, eventID string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ? AND matched_fiesta_id IS NULL", id).
		Update("matched_fiesta_id", eventID)
	if result.Error != nil {
		return false, fmt.Errorf("storage: assign fiesta to %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClaimPartySelection records the options about to be offered. Only one
// caller can ever claim a mention.
func (s *GormStore) ClaimPartySelection(ctx context.Context, id string, options []models.PartyOption, at time.Time) (bool, error) {
	sentAt := at.UTC()
	result := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ? AND party_selection_message_sent_at IS NULL AND party_selection_status = ?", id, models.PartySelectionNone).
		Select("party_selection_status", "party_selection_message_sent_at", "party_options_sent").
		Updates(&models.Mention{
			PartySelectionStatus:        models.PartySelectionPendingResponse,
			PartySelectionMessageSentAt: &sentAt,
			PartyOptionsSent:            options,
		})
	if result.Error != nil {
		return false, fmt.Errorf("storage: claim party selection for %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) RecordPartySelectionMessage(ctx context.Context, id, messageID string) error {
	err := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ?", id).
		Update("party_selection_message_id", messageID).Error
	if err != nil {
		return fmt.Errorf("storage: record party selection message for %s: %w", id, err)
	}
	return nil
}

// ReleasePartySelection undoes a claim whose message could not be sent.
func (s *GormStore) ReleasePartySelection(ctx context.Context, id string, claimedAt time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ? AND party_selection_status = ? AND party_selection_message_sent_at = ?",
			id, models.PartySelectionPendingResponse, claimedAt.UTC()).
		Updates(map[string]interface{}{
			"party_selection_status":          models.PartySelectionNone,
			"party_selection_message_sent_at": nil,
			"party_options_sent":              nil,
		}).Error
	if err != nil {
		return fmt.Errorf("storage: release party selection for %s: %w", id, err)
	}
	return nil
}

func (s *GormStore) FindPendingPartySelection(ctx context.Context, organizationID, platformUserID string) (*models.Mention, error) {
	var m models.Mention
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND platform_user_id = ? AND party_selection_status = ?",
			organizationID, platformUserID, models.PartySelectionPendingResponse).
		Order("party_selection_message_sent_at DESC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err, "find pending party selection")
	}
	return &m, nil
}

func (s *GormStore) ResolvePartySelection(ctx context.Context, id, eventID string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ? AND party_selection_status = ? AND matched_fiesta_id IS NULL", id, models.PartySelectionPendingResponse).
		Updates(map[string]interface{}{
			"matched_fiesta_id":      eventID,
			"party_selection_status": models.PartySelectionResolved,
			"processed":              true,
			"processed_at":           at.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("storage: resolve party selection for %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) ListPartySelectionTimeouts(ctx context.Context, sentBefore time.Time) ([]models.Mention, error) {
	var mentions []models.Mention
	err := s.db.WithContext(ctx).
		Where("party_selection_status = ? AND party_selection_message_sent_at < ?",
			models.PartySelectionPendingResponse, sentBefore.UTC()).
		Order("organization_id, party_selection_message_sent_at").
		Find(&mentions).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list party selection timeouts: %w", err)
	}
	return mentions, nil
}

// TimeoutPartySelection closes an unanswered dialog. The mention is left
// unprocessed so operators pick it up by hand.
func (s *GormStore) TimeoutPartySelection(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Mention{}).
		Where("id = ? AND party_selection_status = ?", id, models.PartySelectionPendingResponse).
		Updates(map[string]interface{}{
			"party_selection_status": models.PartySelectionTimeout,
			"processed":              false,
		})
	if result.Error != nil {
		return false, fmt.Errorf("storage: timeout party selection for %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) RecordDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	if err := s.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return fmt.Errorf("storage: record delivery: %w", err)
	}
	return nil
}

func (s *GormStore) CompleteDelivery(ctx context.Context, id string, mentionsCreated int, processingErr error, at time.Time) error {
	updates := map[string]interface{}{
		"mentions_created": mentionsCreated,
		"processed_at":     at.UTC(),
	}
	if processingErr != nil {
		updates["processing_error"] = processingErr.Error()
	}
	err := s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("storage: complete delivery %s: %w", id, err)
	}
	return nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("storage: "+format+": %w", append(args, err)...)
}
