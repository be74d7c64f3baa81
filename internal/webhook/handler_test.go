package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/directory"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/partyhub/mention-lifecycle/internal/partyselection"
	"github.com/partyhub/mention-lifecycle/internal/storage"
	"github.com/partyhub/mention-lifecycle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "app-secret"

// MockParty is a mock implementation of the party selection dialog
type MockParty struct {
	mock.Mock
}

func (m *MockParty) Resolve(ctx context.Context, mentionID string) (partyselection.Decision, error) {
	args := m.Called(mentionID)
	return args.Get(0).(partyselection.Decision), args.Error(1)
}

func (m *MockParty) HandleReply(ctx context.Context, organizationID, senderID, payload, text string) (*models.PartyOption, error) {
	args := m.Called(organizationID, senderID, payload, text)
	option, _ := args.Get(0).(*models.PartyOption)
	return option, args.Error(1)
}

type fixture struct {
	router *mux.Router
	svc    *Service
	db     *gorm.DB
	client *testutil.MockPlatform
	party  *MockParty
	notes  *testutil.Notifications
}

func newFixture(t *testing.T) *fixture {
	conn := testutil.OpenDB(t)
	testutil.SeedOrganization(t, conn, "org-1", "ig-1", "tok")
	require.NoError(t, conn.Create(&models.Ambassador{
		ID: "amb-1", OrganizationID: "org-1", InstagramUsername: "dj_mike", InstagramUserID: "u1",
	}).Error)

	cfg := &config.Config{
		AppSecret:     testSecret,
		VerifyToken:   "verify-me",
		InboxBaseURL:  "https://business.facebook.com/latest/inbox/all",
		ArchivePrefix: "instagram",
	}
	store := storage.NewGormStore(conn)
	dir := directory.NewGormDirectory(conn)

	f := &fixture{
		db:     conn,
		client: &testutil.MockPlatform{},
		party:  &MockParty{},
		notes:  &testutil.Notifications{},
	}
	f.svc = NewService(cfg, store, store, dir, f.client, f.notes, f.party, nil, nil)
	f.svc.async = func(fn func()) { fn() }

	f.router = mux.NewRouter()
	NewHandler(cfg, f.svc, dir).RegisterRoutes(f.router)
	return f
}

func (f *fixture) post(path, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

const storyMentionBody = `{"object":"instagram","entry":[{"id":"ig-1","time":1791000000,"messaging":[
	{"sender":{"id":"u1"},"recipient":{"id":"ig-1"},"timestamp":1791000000123,
	 "message":{"mid":"mid.1","attachments":[{"type":"story_mention","payload":{"id":"st-1","url":"https://cdn.example/st-1"}}]}}]}]}`

func TestHandler_Verify(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1158201444", rec.Body.String())

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram/nope?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Verify_OrganizationToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&models.Organization{}).Where("id = ?", "org-1").Update("verify_token", "org-token").Error)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram/org-1?hub.mode=subscribe&hub.verify_token=org-token&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
}

func TestHandler_TamperedBodyIsRejected(t *testing.T) {
	f := newFixture(t)
	signature := Sign(testSecret, []byte(storyMentionBody))
	tampered := strings.Replace(storyMentionBody, `"u1"`, `"u2"`, 1)

	rec := f.post("/webhooks/instagram", tampered, signature)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_signature"}`, rec.Body.String())

	rec = f.post("/webhooks/instagram", storyMentionBody, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, int64(0), f.count(t, &models.Mention{}))
	assert.Equal(t, int64(0), f.count(t, &models.WebhookDelivery{}))
	f.party.AssertNotCalled(t, "Resolve", mock.Anything)
}

func TestHandler_InvalidJSONAfterValidSignature(t *testing.T) {
	f := newFixture(t)
	body := `{"object":`
	rec := f.post("/webhooks/instagram", body, Sign(testSecret, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	assert.Equal(t, int64(0), f.count(t, &models.Mention{}))
	var delivery models.WebhookDelivery
	require.NoError(t, f.db.First(&delivery).Error)
	assert.Contains(t, delivery.ProcessingError, "invalid payload")
	assert.NotNil(t, delivery.ProcessedAt)
	assert.Equal(t, 0, delivery.MentionsCreated)
}

func TestHandler_StoryMentionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.client.On("StoryPermalink", "st-1", "tok").Return("https://www.instagram.com/stories/dj_mike/st-1/", nil).Once()
	f.party.On("Resolve", mock.Anything).Return(partyselection.DecisionAskUser, nil).Once()

	signature := Sign(testSecret, []byte(storyMentionBody))
	for i := 0; i < 2; i++ {
		rec := f.post("/webhooks/instagram", storyMentionBody, signature)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	}

	assert.Equal(t, int64(1), f.count(t, &models.Mention{}))
	assert.Equal(t, int64(2), f.count(t, &models.WebhookDelivery{}))

	var m models.Mention
	require.NoError(t, f.db.First(&m).Error)
	assert.Equal(t, models.MentionTypeStoryReferral, m.MentionType)
	assert.Equal(t, "st-1", m.InstagramStoryID)
	assert.Equal(t, "dj_mike", m.PlatformUsername)
	require.NotNil(t, m.MatchedAmbassadorID)
	assert.Equal(t, "amb-1", *m.MatchedAmbassadorID)
	assert.Equal(t, "https://www.instagram.com/stories/dj_mike/st-1/", m.DeepLink)
	assert.Equal(t, "u1", m.ConversationID)
	assert.Contains(t, m.InboxLink, "selected_item_id=u1")
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, models.StateNew, m.State)
	assert.NotEmpty(t, m.RawData)

	f.party.AssertCalled(t, "Resolve", m.ID)
	f.party.AssertNumberOfCalls(t, "Resolve", 1)
	assert.Empty(t, f.notes.OfType(models.NotificationUnassignedMention))
}

func TestHandler_UnknownSenderWithPermalinkFailure(t *testing.T) {
	f := newFixture(t)
	body := `{"object":"instagram","entry":[{"id":"ig-1","time":1791000000,"messaging":[
		{"sender":{"id":"u9","username":"newcomer"},"recipient":{"id":"ig-1"},"timestamp":1791000500000,
		 "message":{"mid":"mid.9","attachments":[{"type":"story_mention","payload":{"id":"st-9","url":"https://cdn.example/st-9"}}]}}]}]}`
	f.client.On("StoryPermalink", "st-9", "tok").Return("", errors.New("timeout"))
	f.party.On("Resolve", mock.Anything).Return(partyselection.DecisionNoParties, nil)

	rec := f.post("/webhooks/instagram", body, Sign(testSecret, []byte(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var m models.Mention
	require.NoError(t, f.db.First(&m).Error)
	assert.Nil(t, m.MatchedAmbassadorID)
	assert.Equal(t, "https://www.instagram.com/stories/newcomer/st-9/", m.DeepLink)

	notes := f.notes.OfType(models.NotificationUnassignedMention)
	require.Len(t, notes, 1)
	assert.Equal(t, m.ID, notes[0].TargetID)
	assert.Contains(t, notes[0].Message, "@newcomer")
}

func TestHandler_RepliesGoToPartySelection(t *testing.T) {
	f := newFixture(t)
	body := `{"object":"instagram","entry":[{"id":"ig-1","time":1791000000,"messaging":[
		{"sender":{"id":"u1"},"recipient":{"id":"ig-1"},"timestamp":1791001000000,
		 "message":{"mid":"mid.2","text":"Halloween Bash","quick_reply":{"payload":"party_2_e2"}}},
		{"sender":{"id":"ig-1"},"recipient":{"id":"u1"},"timestamp":1791001000001,
		 "message":{"mid":"mid.3","text":"Got it!","is_echo":true}}]}]}`
	f.party.On("HandleReply", "org-1", "u1", "party_2_e2", "Halloween Bash").
		Return(&models.PartyOption{EventID: "e2"}, nil).Once()

	rec := f.post("/webhooks/instagram", body, Sign(testSecret, []byte(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	f.party.AssertExpectations(t)
	assert.Equal(t, int64(0), f.count(t, &models.Mention{}))
}

func TestHandler_StoryReplyAndChanges(t *testing.T) {
	f := newFixture(t)
	body := `{"object":"instagram","entry":[{"id":"ig-1","time":1791002000,
		"messaging":[{"sender":{"id":"u1"},"recipient":{"id":"ig-1"},"timestamp":1791002000000,
			"message":{"mid":"mid.4","text":"see you there","reply_to":{"story":{"id":"own-1","url":"https://cdn.example/own-1"}}}}],
		"changes":[
			{"field":"mentions","value":{"media_id":"media-1","comment_id":"c-1"}},
			{"field":"tags","value":{"media_id":"media-2"}},
			{"field":"story_insights","value":{"media_id":"media-3"}}]}]}`

	rec := f.post("/webhooks/instagram", body, Sign(testSecret, []byte(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var mentions []models.Mention
	require.NoError(t, f.db.Order("mention_type").Find(&mentions).Error)
	require.Len(t, mentions, 3)

	kinds := map[models.MentionType]models.MentionKind{}
	for i := range mentions {
		kinds[mentions[i].MentionType] = mentions[i].Kind()
	}
	assert.Equal(t, models.Comment{MediaID: "media-1", CommentID: "c-1"}, kinds[models.MentionTypeComment])
	assert.Equal(t, models.Tag{MediaID: "media-2"}, kinds[models.MentionTypeTag])
	assert.Equal(t, models.Story{StoryID: "own-1", StoryURL: "https://cdn.example/own-1", Text: "see you there"}, kinds[models.MentionTypeStory])

	f.party.AssertNotCalled(t, "Resolve", mock.Anything)
}

func TestHandler_OrganizationSecret(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&models.Organization{}).Where("id = ?", "org-1").Update("webhook_secret", "org-secret").Error)
	f.client.On("StoryPermalink", "st-1", "tok").Return("https://www.instagram.com/stories/dj_mike/st-1/", nil)
	f.party.On("Resolve", mock.Anything).Return(partyselection.DecisionAutoMatch, nil)

	rec := f.post("/webhooks/instagram/org-1", storyMentionBody, Sign(testSecret, []byte(storyMentionBody)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post("/webhooks/instagram/org-1", storyMentionBody, Sign("org-secret", []byte(storyMentionBody)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), f.count(t, &models.Mention{}))
}

func TestHandler_UnknownAccountStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	body := strings.Replace(storyMentionBody, `"id":"ig-1","time"`, `"id":"ig-unknown","time"`, 1)

	rec := f.post("/webhooks/instagram", body, Sign(testSecret, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), f.count(t, &models.Mention{}))

	var delivery models.WebhookDelivery
	require.NoError(t, f.db.First(&delivery).Error)
	assert.Contains(t, delivery.ProcessingError, "ig-unknown")
	assert.NotNil(t, delivery.ProcessedAt)
}
