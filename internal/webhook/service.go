package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/directory"
	"github.com/partyhub/mention-lifecycle/internal/metrics"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/partyhub/mention-lifecycle/internal/notifications"
	"github.com/partyhub/mention-lifecycle/internal/partyselection"
	"github.com/partyhub/mention-lifecycle/internal/platform"
	"github.com/partyhub/mention-lifecycle/internal/storage"
	"github.com/sirupsen/logrus"
)

// backgroundTimeout bounds party selection work started by a delivery.
const backgroundTimeout = 2 * time.Minute

// PartyDialog is the part of the party selection dialog ingestion drives.
type PartyDialog interface {
	Resolve(ctx context.Context, mentionID string) (partyselection.Decision, error)
	HandleReply(ctx context.Context, organizationID, senderID, payload, text string) (*models.PartyOption, error)
}

// Directory is what ingestion needs to know about tenants and ambassadors.
type Directory interface {
	directory.TenantResolver
	directory.AmbassadorDirectory
	directory.CredentialProvider
}

// Service turns verified deliveries into mentions
type Service struct {
	store      storage.MentionStore
	deliveries storage.DeliveryLog
	dir        Directory
	client     platform.Client
	notifier   notifications.NotificationInterface
	party      PartyDialog
	archive    storage.Archive
	metrics    *metrics.Collector

	inboxBaseURL  string
	archivePrefix string
	now           func() time.Time

	// async runs party selection off the request path.
	async func(fn func())
	wg    sync.WaitGroup
}

// NewService creates a new ingestion service
func NewService(cfg *config.Config, store storage.MentionStore, deliveries storage.DeliveryLog, dir Directory, client platform.Client, notifier notifications.NotificationInterface, party PartyDialog, archive storage.Archive, collector *metrics.Collector) *Service {
	if archive == nil {
		archive = storage.NopArchive{}
	}
	s := &Service{
		store:         store,
		deliveries:    deliveries,
		dir:           dir,
		client:        client,
		notifier:      notifier,
		party:         party,
		archive:       archive,
		metrics:       collector,
		inboxBaseURL:  cfg.InboxBaseURL,
		archivePrefix: cfg.ArchivePrefix,
		now:           time.Now,
	}
	s.async = func(fn func()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn()
		}()
	}
	return s
}

// Wait blocks until background party selection work has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Ingest records a verified delivery and processes every entry in it. The
// returned error describes processing failures; it never changes the
// response sent to the provider.
func (s *Service) Ingest(ctx context.Context, org *models.Organization, raw []byte, payload *Payload) (int, error) {
	receivedAt := s.now().UTC()
	delivery := &models.WebhookDelivery{
		ID:         uuid.New().String(),
		Object:     payload.Object,
		Payload:    raw,
		ReceivedAt: receivedAt,
	}
	if org != nil {
		delivery.OrganizationID = org.ID
	}
	if err := s.deliveries.RecordDelivery(ctx, delivery); err != nil {
		logrus.Errorf("Failed to record webhook delivery: %v", err)
	}

	name := fmt.Sprintf("%s/webhooks/%s/%s.json", s.archivePrefix, receivedAt.Format("2006/01/02"), delivery.ID)
	if err := s.archive.Store(ctx, name, raw); err != nil {
		logrus.Warnf("Failed to archive webhook delivery %s: %v", delivery.ID, err)
	}

	created, err := s.Process(ctx, org, payload)

	if completeErr := s.deliveries.CompleteDelivery(ctx, delivery.ID, created, err, s.now()); completeErr != nil {
		logrus.Errorf("Failed to complete webhook delivery %s: %v", delivery.ID, completeErr)
	}
	return created, err
}

// RecordUnparsable audits a signed delivery whose body is not valid JSON.
// The raw body goes to the archive only, since the audit row stores JSON.
func (s *Service) RecordUnparsable(ctx context.Context, org *models.Organization, raw []byte, parseErr error) {
	receivedAt := s.now().UTC()
	delivery := &models.WebhookDelivery{
		ID:              uuid.New().String(),
		ProcessingError: fmt.Sprintf("invalid payload: %v", parseErr),
		ReceivedAt:      receivedAt,
		ProcessedAt:     &receivedAt,
	}
	if org != nil {
		delivery.OrganizationID = org.ID
	}
	if err := s.deliveries.RecordDelivery(ctx, delivery); err != nil {
		logrus.Errorf("Failed to record webhook delivery: %v", err)
	}

	name := fmt.Sprintf("%s/webhooks/%s/%s.json", s.archivePrefix, receivedAt.Format("2006/01/02"), delivery.ID)
	if err := s.archive.Store(ctx, name, raw); err != nil {
		logrus.Warnf("Failed to archive webhook delivery %s: %v", delivery.ID, err)
	}
}

// Process routes every event of the payload. Entries are resolved to an
// organization by their receiving account unless org is given.
func (s *Service) Process(ctx context.Context, org *models.Organization, payload *Payload) (int, error) {
	created := 0
	var errs []error

	for _, entry := range payload.Entry {
		tenant := org
		if tenant == nil {
			resolved, err := s.dir.ByPlatformAccountID(ctx, entry.ID)
			if err != nil {
				logrus.Warnf("No organization for account %s: %v", entry.ID, err)
				errs = append(errs, fmt.Errorf("entry %s: %w", entry.ID, err))
				continue
			}
			tenant = resolved
		}

		entryTime := eventTime(entry.Time, s.now())

		for _, raw := range entry.Messaging {
			ok, err := s.handleMessaging(ctx, tenant, raw, entryTime)
			if err != nil {
				logrus.Errorf("Failed to process message for organization %s: %v", tenant.ID, err)
				errs = append(errs, err)
			}
			if ok {
				created++
			}
		}

		for _, change := range entry.Changes {
			ok, err := s.handleChange(ctx, tenant, change, entryTime)
			if err != nil {
				logrus.Errorf("Failed to process %s change for organization %s: %v", change.Field, tenant.ID, err)
				errs = append(errs, err)
			}
			if ok {
				created++
			}
		}
	}

	return created, errors.Join(errs...)
}

func (s *Service) handleMessaging(ctx context.Context, org *models.Organization, raw json.RawMessage, entryTime time.Time) (bool, error) {
	var event Messaging
	if err := json.Unmarshal(raw, &event); err != nil {
		return false, fmt.Errorf("decode messaging event: %w", err)
	}

	msg := event.Message
	if msg == nil || msg.IsEcho {
		return false, nil
	}

	sender := models.Sender{UserID: event.Sender.ID, Username: event.Sender.Username}
	mentionedAt := eventTime(event.Timestamp, entryTime)

	if attachment := msg.storyMention(); attachment != nil {
		storyID := attachment.Payload.ID
		if storyID == "" {
			storyID = msg.MID
		}
		return s.ingest(ctx, org, sender, mentionedAt, models.StoryReferral{
			StoryID:  storyID,
			StoryURL: attachment.Payload.URL,
			Text:     msg.Text,
		}, raw)
	}

	if msg.ReplyTo != nil && msg.ReplyTo.Story != nil {
		return s.ingest(ctx, org, sender, mentionedAt, models.Story{
			StoryID:  msg.ReplyTo.Story.ID,
			StoryURL: msg.ReplyTo.Story.URL,
			Text:     msg.Text,
		}, raw)
	}

	payload := ""
	if msg.QuickReply != nil {
		payload = msg.QuickReply.Payload
	}
	if payload == "" && msg.Text == "" {
		return false, nil
	}

	if _, err := s.party.HandleReply(ctx, org.ID, sender.UserID, payload, msg.Text); err != nil {
		return false, fmt.Errorf("handle reply from %s: %w", sender.UserID, err)
	}
	return false, nil
}

func (s *Service) handleChange(ctx context.Context, org *models.Organization, change Change, entryTime time.Time) (bool, error) {
	var value changeValue
	if err := json.Unmarshal(change.Value, &value); err != nil {
		return false, fmt.Errorf("decode %s change: %w", change.Field, err)
	}

	var sender models.Sender
	if value.From != nil {
		sender = models.Sender{UserID: value.From.ID, Username: value.From.Username}
	}

	var kind models.MentionKind
	switch change.Field {
	case "mentions":
		if value.CommentID != "" {
			kind = models.Comment{MediaID: value.MediaID, CommentID: value.CommentID, Text: value.Text}
		} else {
			kind = models.CaptionMention{MediaID: value.MediaID}
		}
	case "comments":
		mediaID := value.MediaID
		if value.Media != nil {
			mediaID = value.Media.ID
		}
		kind = models.Comment{MediaID: mediaID, CommentID: value.ID, Text: value.Text}
	case "tags":
		kind = models.Tag{MediaID: value.MediaID}
	default:
		logrus.Debugf("Ignoring %s change", change.Field)
		return false, nil
	}

	return s.ingest(ctx, org, sender, entryTime, kind, change.Value)
}

// ingest stores one mention unless its identity key was already seen.
func (s *Service) ingest(ctx context.Context, org *models.Organization, sender models.Sender, mentionedAt time.Time, kind models.MentionKind, raw json.RawMessage) (bool, error) {
	mentionType := kind.Type()

	_, err := s.store.FindByIdentity(ctx, org.ID, sender.UserID, mentionedAt, mentionType)
	if err == nil {
		s.metrics.MentionIngested(string(mentionType), false)
		logrus.Debugf("Duplicate %s from %s ignored", mentionType, sender.UserID)
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	m := models.NewMention(org.ID, sender, mentionedAt, kind, raw)

	ambassador, err := s.dir.FindByPlatformUserID(ctx, org.ID, sender.UserID)
	switch {
	case err == nil:
		m.MatchedAmbassadorID = &ambassador.ID
		if m.PlatformUsername == "" {
			m.PlatformUsername = ambassador.InstagramUsername
		}
	case errors.Is(err, directory.ErrNotFound):
	default:
		return false, err
	}

	if sender.UserID != "" {
		m.ConversationID = sender.UserID
		m.InboxLink = s.inboxLink(org, sender.UserID)
	}

	referral, isReferral := kind.(models.StoryReferral)
	if isReferral {
		m.DeepLink = s.deepLink(ctx, org, m.PlatformUsername, referral)
	}

	created, err := s.store.Create(ctx, m)
	if err != nil {
		return false, err
	}
	s.metrics.MentionIngested(string(mentionType), created)
	if !created {
		return false, nil
	}

	logrus.WithFields(logrus.Fields{
		"mention_id":      m.ID,
		"organization_id": org.ID,
		"type":            mentionType,
		"sender":          m.SenderLabel(),
	}).Info("Mention recorded")

	if ambassador == nil {
		s.emit(ctx, &models.Notification{
			OrganizationID: org.ID,
			Type:           models.NotificationUnassignedMention,
			Title:          "Mention from an unknown sender",
			Message:        fmt.Sprintf("%s mentioned you (%s) but is not one of your ambassadors.", m.SenderLabel(), mentionType),
			TargetType:     "mention",
			TargetID:       m.ID,
			Priority:       models.PriorityMedium,
		})
	}

	if isReferral && m.MatchedFiestaID == nil {
		s.resolveParty(m.ID)
	}

	return true, nil
}

func (s *Service) resolveParty(mentionID string) {
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if _, err := s.party.Resolve(ctx, mentionID); err != nil {
			logrus.Errorf("Party selection failed for mention %s: %v", mentionID, err)
		}
	})
}

// deepLink asks the platform for the story permalink and falls back to a
// link built from the username and story id.
func (s *Service) deepLink(ctx context.Context, org *models.Organization, username string, story models.StoryReferral) string {
	if story.StoryID != "" {
		cred, err := s.dir.OrganizationToken(ctx, org.ID)
		if err == nil && !cred.Expired(s.now()) {
			link, err := s.client.StoryPermalink(ctx, story.StoryID, cred.Token)
			if err == nil {
				return link
			}
			logrus.Warnf("Permalink lookup for story %s failed, using fallback: %v", story.StoryID, err)
		}
	}
	return FallbackDeepLink(username, story.StoryID, story.StoryURL)
}

// FallbackDeepLink builds a story link without calling the platform.
func FallbackDeepLink(username, storyID, storyURL string) string {
	if username != "" && storyID != "" {
		return fmt.Sprintf("https://www.instagram.com/stories/%s/%s/", url.PathEscape(username), url.PathEscape(storyID))
	}
	if username != "" {
		return fmt.Sprintf("https://www.instagram.com/stories/%s/", url.PathEscape(username))
	}
	return storyURL
}

func (s *Service) inboxLink(org *models.Organization, senderID string) string {
	if s.inboxBaseURL == "" {
		return ""
	}
	query := url.Values{}
	if org.InstagramAccountID != "" {
		query.Set("asset_id", org.InstagramAccountID)
	}
	query.Set("selected_item_id", senderID)
	query.Set("mailbox_id", "instagram")
	return s.inboxBaseURL + "?" + query.Encode()
}

func (s *Service) emit(ctx context.Context, notification *models.Notification) {
	if err := s.notifier.Emit(ctx, notification); err != nil {
		logrus.Errorf("Failed to emit %s notification: %v", notification.Type, err)
	}
}
