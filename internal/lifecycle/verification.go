package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/directory"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/partyhub/mention-lifecycle/internal/platform"
	"github.com/sirupsen/logrus"
)

// VerificationResult aggregates one verification sweep.
type VerificationResult struct {
	Selected           int            `json:"selected"`
	Checked            int            `json:"checked"`
	Transient          int            `json:"transient"`
	FlaggedEarlyDelete int            `json:"flagged_early_delete"`
	ExpiredUnknown     int            `json:"expired_unknown"`
	PermissionRequests int            `json:"permission_requests"`
	Skipped            int            `json:"skipped"`
	Errors             int            `json:"errors"`
	Outcomes           map[string]int `json:"outcomes"`

	mu sync.Mutex
}

func (r *VerificationResult) record(fn func(r *VerificationResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// RunVerification re-checks new story mentions whose age is near one of the
// configured offsets.
func (s *Service) RunVerification(ctx context.Context) (*VerificationResult, error) {
	start := time.Now()
	defer s.metrics.ObserveSweep(string(SweepVerification), start)

	now := s.now().UTC()
	result := &VerificationResult{Outcomes: make(map[string]int)}

	due, err := s.dueForVerification(ctx, now)
	if err != nil {
		return result, err
	}
	result.Selected = len(due)
	logrus.Infof("Verification sweep: %d mention(s) due", len(due))

	result.Errors = s.forEach(ctx, due, func(ctx context.Context, m *models.Mention) error {
		return s.verifyOne(ctx, m, now, result)
	})

	logrus.WithFields(logrus.Fields{
		"selected":             result.Selected,
		"checked":              result.Checked,
		"transient":            result.Transient,
		"flagged_early_delete": result.FlaggedEarlyDelete,
		"expired_unknown":      result.ExpiredUnknown,
		"errors":               result.Errors,
	}).Info("Verification sweep completed")

	return result, nil
}

// dueForVerification selects mentions inside the window around each offset.
// The window is half-open, (target-window, target+window]. A mention is
// picked up by offset i only while fewer than i+1 checks are recorded, so
// repeated sweeps inside one window count a single check and the budget
// spreads over all offsets. A mention selected by more than one offset is
// returned once.
func (s *Service) dueForVerification(ctx context.Context, now time.Time) ([]models.Mention, error) {
	seen := make(map[string]bool)
	var due []models.Mention

	for i, offset := range s.config.VerificationOffsets {
		target := now.Add(-offset)
		budget := i + 1
		if budget > s.config.MaxVerificationChecks {
			budget = s.config.MaxVerificationChecks
		}
		mentions, err := s.store.ListDueForVerification(ctx,
			target.Add(-s.config.VerificationWindow), target.Add(s.config.VerificationWindow), budget)
		if err != nil {
			return nil, fmt.Errorf("failed to select mentions for offset %s: %w", offset, err)
		}
		for _, m := range mentions {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			due = append(due, m)
		}
	}

	return due, nil
}

func (s *Service) verifyOne(ctx context.Context, m *models.Mention, now time.Time, result *VerificationResult) error {
	token, err := directory.UsableOrganizationToken(ctx, s.dir, m.OrganizationID, now)
	if err != nil {
		return fmt.Errorf("failed to load token: %w", err)
	}

	outcome := platform.ResultTokenInvalid
	if token != "" {
		outcome = s.client.StoryExists(ctx, m.InstagramStoryID, token)
	}
	s.metrics.VerificationOutcome(string(outcome))
	result.record(func(r *VerificationResult) { r.Outcomes[string(outcome)]++ })

	log := logrus.WithFields(logrus.Fields{
		"mention_id":      m.ID,
		"organization_id": m.OrganizationID,
		"outcome":         outcome,
	})

	if outcome.Transient() {
		log.Debug("Transient verification outcome, retrying next sweep")
		result.record(func(r *VerificationResult) { r.Transient++ })
		return nil
	}

	visibility := m.AccountVisibility
	switch {
	case outcome.PublicAccount():
		visibility = models.VisibilityPublic
	case outcome == platform.ResultPrivateOrNoPermission:
		visibility = models.VisibilityPrivate
	}

	recorded, err := s.store.RecordCheck(ctx, m.ID, now, visibility, s.config.MaxVerificationChecks)
	if err != nil {
		return err
	}
	if !recorded {
		log.Debug("Mention changed since selection, check not recorded")
		result.record(func(r *VerificationResult) { r.Skipped++ })
		return nil
	}
	result.record(func(r *VerificationResult) { r.Checked++ })

	young := m.Age(now) < s.storyLifetime()

	switch outcome {
	case platform.ResultDeleted:
		if young {
			if err := s.flagEarlyDelete(ctx, m, now); err != nil {
				return err
			}
			result.record(func(r *VerificationResult) { r.FlaggedEarlyDelete++ })
		}
	case platform.ResultPrivateOrNoPermission, platform.ResultTokenInvalid:
		if young {
			if err := s.markUnverifiable(ctx, m, outcome, now); err != nil {
				return err
			}
			result.record(func(r *VerificationResult) { r.ExpiredUnknown++ })
		}
	}

	if outcome.PublicAccount() {
		requested, err := s.requestPermission(ctx, m, now)
		if err != nil {
			log.Warnf("Failed to request account connection: %v", err)
		} else if requested {
			result.record(func(r *VerificationResult) { r.PermissionRequests++ })
		}
	}

	return nil
}

func (s *Service) flagEarlyDelete(ctx context.Context, m *models.Mention, now time.Time) error {
	moved, err := s.store.TransitionState(ctx, m.ID, models.StateFlaggedEarlyDelete, now)
	if err != nil || !moved {
		return err
	}
	s.metrics.StateTransition(string(models.StateFlaggedEarlyDelete))
	logrus.Infof("Mention %s flagged: story deleted %s after posting", m.ID, m.Age(now).Round(time.Minute))

	s.emit(ctx, &models.Notification{
		OrganizationID: m.OrganizationID,
		Type:           models.NotificationStoryDeletedEarly,
		Title:          "Story deleted before 24 hours",
		Message: fmt.Sprintf("%s deleted the story that mentioned you %s after posting it.",
			m.SenderLabel(), m.Age(now).Round(time.Minute)),
		TargetType: "mention",
		TargetID:   m.ID,
		Priority:   models.PriorityMedium,
	})
	return nil
}

func (s *Service) markUnverifiable(ctx context.Context, m *models.Mention, outcome platform.VerificationResult, now time.Time) error {
	moved, err := s.store.TransitionState(ctx, m.ID, models.StateExpiredUnknown, now)
	if err != nil || !moved {
		return err
	}
	s.metrics.StateTransition(string(models.StateExpiredUnknown))

	reason := "the account is private or did not grant access"
	if outcome == platform.ResultTokenInvalid {
		reason = "the organization's access token is missing or expired"
	}

	s.emit(ctx, &models.Notification{
		OrganizationID: m.OrganizationID,
		Type:           models.NotificationStoryUnverifiable,
		Title:          "Story can no longer be verified",
		Message:        fmt.Sprintf("The story by %s cannot be checked because %s.", m.SenderLabel(), reason),
		TargetType:     "mention",
		TargetID:       m.ID,
		Priority:       models.PriorityLow,
	})
	return nil
}

// requestPermission asks operators once per ambassador to have a public
// ambassador connect their own account.
func (s *Service) requestPermission(ctx context.Context, m *models.Mention, now time.Time) (bool, error) {
	if m.MatchedAmbassadorID == nil {
		return false, nil
	}

	ambassador, err := s.dir.Get(ctx, *m.MatchedAmbassadorID)
	if err != nil {
		return false, err
	}
	if ambassador.PermissionRequestedAt != nil {
		return false, nil
	}

	hasCredential, err := s.dir.HasStoredCredential(ctx, ambassador.ID)
	if err != nil || hasCredential {
		return false, err
	}

	marked, err := s.dir.MarkPermissionRequested(ctx, ambassador.ID, now)
	if err != nil || !marked {
		return false, err
	}

	label := m.SenderLabel()
	if ambassador.InstagramUsername != "" {
		label = "@" + ambassador.InstagramUsername
	}

	s.emit(ctx, &models.Notification{
		OrganizationID: m.OrganizationID,
		Type:           models.NotificationConnectAccountRequest,
		Title:          "Ask an ambassador to connect their account",
		Message:        fmt.Sprintf("%s has a public account. Ask them to connect it so their story insights can be collected.", label),
		TargetType:     "ambassador",
		TargetID:       ambassador.ID,
		Priority:       models.PriorityMedium,
	})
	return true, nil
}
