package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Mention{}, &models.InsightsSnapshot{}, &models.WebhookDelivery{}))
	return NewGormStore(db)
}

var baseTime = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

func newReferral(userID string, at time.Time) *models.Mention {
	return models.NewMention("org-1", models.Sender{UserID: userID, Username: "dj_" + userID}, at,
		models.StoryReferral{StoryID: "story-" + userID}, nil)
}

func TestGormStore_CreateIsIdempotentOnIdentity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.Create(ctx, newReferral("u1", baseTime))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Create(ctx, newReferral("u1", baseTime))
	require.NoError(t, err)
	assert.False(t, created, "same identity key must not create a second row")

	var count int64
	require.NoError(t, s.db.Model(&models.Mention{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	found, err := s.FindByIdentity(ctx, "org-1", "u1", baseTime, models.MentionTypeStoryReferral)
	require.NoError(t, err)
	assert.Equal(t, "story-u1", found.InstagramStoryID)
	require.NotNil(t, found.ExpiresAt)
	assert.True(t, found.ExpiresAt.Equal(baseTime.Add(24*time.Hour)))

	_, err = s.FindByIdentity(ctx, "org-1", "u1", baseTime, models.MentionTypeStory)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGormStore_RecordCheckRespectsBudgetAndState(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := newReferral("u1", baseTime)
	_, err := s.Create(ctx, m)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := s.RecordCheck(ctx, m.ID, baseTime.Add(time.Duration(i+1)*time.Hour), models.VisibilityPublic, 2)
		require.NoError(t, err)
		assert.Equal(t, i < 2, ok, "check %d", i+1)
	}

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChecksCount)
	assert.Equal(t, models.VisibilityPublic, got.AccountVisibility)
	require.NotNil(t, got.LastCheckAt)
}

func TestGormStore_TransitionStateIsTerminalOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := newReferral("u1", baseTime)
	_, err := s.Create(ctx, m)
	require.NoError(t, err)

	_, err = s.TransitionState(ctx, m.ID, models.StateNew, baseTime)
	assert.Error(t, err)

	ok, err := s.TransitionState(ctx, m.ID, models.StateFlaggedEarlyDelete, baseTime.Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionState(ctx, m.ID, models.StateCompleted, baseTime.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RecordCheck(ctx, m.ID, baseTime.Add(5*time.Hour), models.VisibilityPublic, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFlaggedEarlyDelete, got.State)
	assert.True(t, got.Processed)
}

func TestGormStore_ListDueForVerification(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	inside := newReferral("inside", baseTime)
	outside := newReferral("outside", baseTime.Add(-2*time.Hour))
	story := models.NewMention("org-1", models.Sender{UserID: "s"}, baseTime, models.Story{StoryID: "x"}, nil)
	for _, m := range []*models.Mention{inside, outside, story} {
		_, err := s.Create(ctx, m)
		require.NoError(t, err)
	}

	due, err := s.ListDueForVerification(ctx, baseTime.Add(-30*time.Minute), baseTime.Add(30*time.Minute), 6)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, inside.ID, due[0].ID)

	due, err = s.ListDueForVerification(ctx, baseTime.Add(-30*time.Minute), baseTime.Add(30*time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	// The window excludes its lower bound and includes its upper bound.
	due, err = s.ListDueForVerification(ctx, baseTime, baseTime.Add(time.Hour), 6)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ListDueForVerification(ctx, baseTime.Add(-time.Hour), baseTime, 6)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, inside.ID, due[0].ID)
}

func TestGormStore_ListExpired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	old := newReferral("old", baseTime.Add(-25*time.Hour))
	fresh := newReferral("fresh", baseTime.Add(-1*time.Hour))
	for _, m := range []*models.Mention{old, fresh} {
		_, err := s.Create(ctx, m)
		require.NoError(t, err)
	}

	expired, err := s.ListExpired(ctx, baseTime)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
}

func TestGormStore_PartySelectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := newReferral("u1", baseTime)
	_, err := s.Create(ctx, m)
	require.NoError(t, err)

	options := []models.PartyOption{
		{EventID: "e1", Name: "Halloween Bash", Payload: "party_1_e1"},
		{EventID: "e2", Name: "Neon Night", Payload: "party_2_e2"},
	}
	claimedAt := baseTime.Add(time.Minute)

	ok, err := s.ClaimPartySelection(ctx, m.ID, options, claimedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimPartySelection(ctx, m.ID, options, claimedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a mention is only ever claimed once")

	require.NoError(t, s.RecordPartySelectionMessage(ctx, m.ID, "mid.1"))

	pending, err := s.FindPendingPartySelection(ctx, "org-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, pending.ID)
	assert.Equal(t, options, pending.PartyOptionsSent)
	assert.Equal(t, "mid.1", pending.PartySelectionMessageID)

	ok, err = s.ResolvePartySelection(ctx, m.ID, "e2", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TimeoutPartySelection(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok, "resolved dialogs cannot time out")

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PartySelectionResolved, got.PartySelectionStatus)
	require.NotNil(t, got.MatchedFiestaID)
	assert.Equal(t, "e2", *got.MatchedFiestaID)
	assert.True(t, got.Processed)
}

func TestGormStore_ReleasePartySelection(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := newReferral("u1", baseTime)
	_, err := s.Create(ctx, m)
	require.NoError(t, err)

	claimedAt := baseTime.Add(time.Minute)
	ok, err := s.ClaimPartySelection(ctx, m.ID, []models.PartyOption{{EventID: "e1", Name: "A", Payload: "party_1_e1"}}, claimedAt)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleasePartySelection(ctx, m.ID, claimedAt))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PartySelectionNone, got.PartySelectionStatus)
	assert.Nil(t, got.PartySelectionMessageSentAt)
	assert.Empty(t, got.PartyOptionsSent)
}

func TestGormStore_TimeoutPartySelection(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	stale := newReferral("stale", baseTime)
	recent := newReferral("recent", baseTime)
	for _, m := range []*models.Mention{stale, recent} {
		_, err := s.Create(ctx, m)
		require.NoError(t, err)
	}
	options := []models.PartyOption{{EventID: "e1", Name: "A", Payload: "party_1_e1"}}
	_, err := s.ClaimPartySelection(ctx, stale.ID, options, baseTime)
	require.NoError(t, err)
	_, err = s.ClaimPartySelection(ctx, recent.ID, options, baseTime.Add(3*time.Hour))
	require.NoError(t, err)

	due, err := s.ListPartySelectionTimeouts(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, stale.ID, due[0].ID)

	ok, err := s.TimeoutPartySelection(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PartySelectionTimeout, got.PartySelectionStatus)
	assert.False(t, got.Processed)
}

func TestGormStore_SaveSnapshotOncePerMention(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	snap := func(id string) *models.InsightsSnapshot {
		return &models.InsightsSnapshot{ID: id, MentionID: "m1", OrganizationID: "org-1", SnapshotType: models.SnapshotTypeFinal, Reach: 10, CapturedAt: baseTime}
	}

	ok, err := s.SaveSnapshot(ctx, snap("s1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SaveSnapshot(ctx, snap("s2"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStore_DeliveryLog(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := &models.WebhookDelivery{ID: "d1", Object: "instagram", Payload: []byte(`{"object":"instagram"}`), ReceivedAt: baseTime}
	require.NoError(t, s.RecordDelivery(ctx, d))
	require.NoError(t, s.CompleteDelivery(ctx, "d1", 2, errors.New("boom"), baseTime.Add(time.Second)))

	var got models.WebhookDelivery
	require.NoError(t, s.db.First(&got, "id = ?", "d1").Error)
	assert.Equal(t, 2, got.MentionsCreated)
	assert.Equal(t, "boom", got.ProcessingError)
	assert.NotNil(t, got.ProcessedAt)
}
