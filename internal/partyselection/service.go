package partyselection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/directory"
	"github.com/partyhub/mention-lifecycle/internal/metrics"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/partyhub/mention-lifecycle/internal/notifications"
	"github.com/partyhub/mention-lifecycle/internal/platform"
	"github.com/partyhub/mention-lifecycle/internal/storage"
	"github.com/sirupsen/logrus"
)

// maxListedSenders caps the usernames named in a timeout summary.
const maxListedSenders = 3

// Service runs the party selection dialog: deciding, asking, parsing replies
// and closing unanswered dialogs.
type Service struct {
	store       storage.MentionStore
	events      directory.EventDirectory
	credentials directory.CredentialProvider
	client      platform.Client
	notifier    notifications.NotificationInterface
	metrics     *metrics.Collector
	timeout     time.Duration
	now         func() time.Time
}

// TimeoutResult summarizes one timeout sweep.
type TimeoutResult struct {
	Checked       int `json:"checked"`
	TimedOut      int `json:"timed_out"`
	Organizations int `json:"organizations"`
	Errors        int `json:"errors"`
}

// NewService creates a new party selection service
func NewService(cfg *config.Config, store storage.MentionStore, events directory.EventDirectory, credentials directory.CredentialProvider, client platform.Client, notifier notifications.NotificationInterface, collector *metrics.Collector) *Service {
	return &Service{
		store:       store,
		events:      events,
		credentials: credentials,
		client:      client,
		notifier:    notifier,
		metrics:     collector,
		timeout:     cfg.PartySelectionTimeout,
		now:         time.Now,
	}
}

// Resolve attributes a mention to an event, asking the sender when the
// organization has several active events.
func (s *Service) Resolve(ctx context.Context, mentionID string) (Decision, error) {
	m, err := s.store.Get(ctx, mentionID)
	if err != nil {
		return "", fmt.Errorf("failed to load mention %s: %w", mentionID, err)
	}

	if m.MatchedFiestaID != nil || m.PartySelectionStatus != models.PartySelectionNone || m.PartySelectionMessageSentAt != nil {
		logrus.Debugf("Mention %s already has an event or a dialog, skipping party selection", m.ID)
		return DecisionSkipped, nil
	}

	events, err := s.events.ActiveEvents(ctx, m.OrganizationID)
	if err != nil {
		return "", fmt.Errorf("failed to load active events for %s: %w", m.OrganizationID, err)
	}

	decision := Decide(events)
	s.metrics.PartySelection(string(decision))

	switch decision {
	case DecisionNoParties:
		logrus.Infof("No active parties for organization %s, mention %s left unassigned", m.OrganizationID, m.ID)
	case DecisionAutoMatch:
		assigned, err := s.store.AssignFiesta(ctx, m.ID, events[0].ID)
		if err != nil {
			return decision, err
		}
		if assigned {
			logrus.Infof("Mention %s auto-matched to party %s", m.ID, events[0].ID)
		}
	case DecisionAskUser:
		if err := s.dispatch(ctx, m, BuildOptions(events)); err != nil {
			return decision, err
		}
	}

	return decision, nil
}

// dispatch claims the mention, then sends the question. A failed send
// releases the claim so a later attempt may retry.
func (s *Service) dispatch(ctx context.Context, m *models.Mention, options []models.PartyOption) error {
	if m.PlatformUserID == "" {
		logrus.Warnf("Mention %s has no sender id, cannot ask for a party", m.ID)
		return nil
	}

	now := s.now().UTC()
	token, err := directory.UsableOrganizationToken(ctx, s.credentials, m.OrganizationID, now)
	if err != nil {
		return err
	}
	if token == "" {
		logrus.Warnf("No usable token for organization %s, skipping party selection for mention %s", m.OrganizationID, m.ID)
		s.metrics.PartySelection("skipped_no_credential")
		return nil
	}

	claimedAt := now.Truncate(time.Millisecond)
	claimed, err := s.store.ClaimPartySelection(ctx, m.ID, options, claimedAt)
	if err != nil {
		return err
	}
	if !claimed {
		logrus.Debugf("Party options already offered for mention %s", m.ID)
		return nil
	}

	messageID, err := s.client.SendMessageWithQuickReplies(ctx, m.PlatformUserID, BuildMessage(m, options), QuickReplies(options), token)
	if err != nil {
		if releaseErr := s.store.ReleasePartySelection(ctx, m.ID, claimedAt); releaseErr != nil {
			logrus.Errorf("Failed to release party selection claim on %s: %v", m.ID, releaseErr)
		}
		s.metrics.PartySelection("send_failed")
		s.emit(ctx, &models.Notification{
			OrganizationID: m.OrganizationID,
			Type:           models.NotificationPartySelectionFailed,
			Title:          "Could not ask which party a story was for",
			Message:        fmt.Sprintf("Sending the party selection message to %s failed: %v", m.SenderLabel(), err),
			TargetType:     "mention",
			TargetID:       m.ID,
			Priority:       models.PriorityMedium,
		})
		return fmt.Errorf("failed to send party selection for %s: %w", m.ID, err)
	}

	if err := s.store.RecordPartySelectionMessage(ctx, m.ID, messageID); err != nil {
		logrus.Errorf("Party selection sent for %s but message id was not recorded: %v", m.ID, err)
	}

	s.metrics.PartySelection("sent")
	logrus.Infof("Asked %s to pick one of %d parties for mention %s", m.SenderLabel(), len(options), m.ID)
	return nil
}

// HandleReply parses a message from a sender with an open dialog. It returns
// the chosen option, or nil when the sender has no open dialog or the reply
// did not match anything.
func (s *Service) HandleReply(ctx context.Context, organizationID, senderID, payload, text string) (*models.PartyOption, error) {
	m, err := s.store.FindPendingPartySelection(ctx, organizationID, senderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	option := ParseResponse(m.PartyOptionsSent, payload, text)
	if option == nil {
		logrus.Infof("Reply from %s did not match any offered party, mention %s stays pending", m.SenderLabel(), m.ID)
		s.metrics.PartySelection("reply_unmatched")
		return nil, nil
	}

	now := s.now().UTC()
	resolved, err := s.store.ResolvePartySelection(ctx, m.ID, option.EventID, now)
	if err != nil {
		return nil, err
	}
	if !resolved {
		logrus.Debugf("Mention %s was resolved concurrently", m.ID)
		return nil, nil
	}

	s.metrics.PartySelection("resolved")
	logrus.Infof("Mention %s resolved to party %s by sender reply", m.ID, option.EventID)

	if token, err := directory.UsableOrganizationToken(ctx, s.credentials, organizationID, now); err == nil && token != "" {
		if _, err := s.client.SendMessage(ctx, senderID, confirmationMessage(option), token); err != nil {
			logrus.Warnf("Failed to confirm party selection to %s: %v", m.SenderLabel(), err)
		}
	}

	return option, nil
}

// SweepTimeouts closes dialogs nobody answered within the timeout and sends
// one summary per organization.
func (s *Service) SweepTimeouts(ctx context.Context) (*TimeoutResult, error) {
	now := s.now().UTC()
	due, err := s.store.ListPartySelectionTimeouts(ctx, now.Add(-s.timeout))
	if err != nil {
		return nil, err
	}

	result := &TimeoutResult{Checked: len(due)}
	var orgOrder []string
	timedOut := make(map[string][]models.Mention)

	for _, m := range due {
		ok, err := s.store.TimeoutPartySelection(ctx, m.ID)
		if err != nil {
			logrus.Errorf("Failed to time out party selection for %s: %v", m.ID, err)
			result.Errors++
			continue
		}
		if !ok {
			continue
		}
		if _, seen := timedOut[m.OrganizationID]; !seen {
			orgOrder = append(orgOrder, m.OrganizationID)
		}
		timedOut[m.OrganizationID] = append(timedOut[m.OrganizationID], m)
		result.TimedOut++
		s.metrics.PartySelection("timeout")
	}

	for _, orgID := range orgOrder {
		mentions := timedOut[orgID]
		s.emit(ctx, &models.Notification{
			OrganizationID: orgID,
			Type:           models.NotificationPartySelectionTimeout,
			Title:          fmt.Sprintf("%d party selection(s) without answer", len(mentions)),
			Message: fmt.Sprintf("%s did not say which party their story was for within %s. Assign them manually.",
				summarizeSenders(mentions), s.timeout),
			TargetType: "organization",
			TargetID:   orgID,
			Priority:   models.PriorityMedium,
		})
	}
	result.Organizations = len(orgOrder)

	logrus.Infof("Party selection timeout sweep: %d checked, %d timed out across %d organization(s)",
		result.Checked, result.TimedOut, result.Organizations)
	return result, nil
}

func summarizeSenders(mentions []models.Mention) string {
	n := len(mentions)
	if n > maxListedSenders {
		n = maxListedSenders
	}
	labels := make([]string, 0, n)
	for _, m := range mentions[:n] {
		labels = append(labels, m.SenderLabel())
	}

	summary := strings.Join(labels, ", ")
	if rest := len(mentions) - n; rest > 0 {
		summary += fmt.Sprintf(" and %d more", rest)
	}
	return summary
}

func (s *Service) emit(ctx context.Context, notification *models.Notification) {
	if err := s.notifier.Emit(ctx, notification); err != nil {
		logrus.Errorf("Failed to emit %s notification: %v", notification.Type, err)
	}
}
