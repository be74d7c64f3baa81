package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/partyhub/mention-lifecycle/internal/directory"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/partyhub/mention-lifecycle/internal/platform"
	"github.com/sirupsen/logrus"
)

// ExpiryResult aggregates one expiry sweep.
type ExpiryResult struct {
	Selected  int `json:"selected"`
	Completed int `json:"completed"`
	Snapshots int `json:"snapshots"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`

	mu sync.Mutex
}

func (r *ExpiryResult) record(fn func(r *ExpiryResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// RunExpiry completes new story mentions whose 24h window has passed.
func (s *Service) RunExpiry(ctx context.Context) (*ExpiryResult, error) {
	start := time.Now()
	defer s.metrics.ObserveSweep(string(SweepExpiry), start)

	now := s.now().UTC()
	result := &ExpiryResult{}

	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to select expired mentions: %w", err)
	}
	result.Selected = len(expired)
	logrus.Infof("Expiry sweep: %d mention(s) past their window", len(expired))

	result.Errors = s.forEach(ctx, expired, func(ctx context.Context, m *models.Mention) error {
		return s.finalizeOne(ctx, m, now, result)
	})

	logrus.WithFields(logrus.Fields{
		"selected":  result.Selected,
		"completed": result.Completed,
		"snapshots": result.Snapshots,
		"errors":    result.Errors,
	}).Info("Expiry sweep completed")

	return result, nil
}

// finalizeOne fetches final insights, then completes the mention. Nothing is
// written for a mention another run completed first.
func (s *Service) finalizeOne(ctx context.Context, m *models.Mention, now time.Time, result *ExpiryResult) error {
	insights := s.finalInsights(ctx, m, now)

	moved, err := s.store.TransitionState(ctx, m.ID, models.StateCompleted, now)
	if err != nil {
		return err
	}
	if !moved {
		result.record(func(r *ExpiryResult) { r.Skipped++ })
		return nil
	}
	s.metrics.StateTransition(string(models.StateCompleted))
	result.record(func(r *ExpiryResult) { r.Completed++ })

	captured := false
	if insights != nil {
		saved, err := s.saveSnapshot(ctx, m, insights, now)
		if err != nil {
			logrus.Warnf("Failed to save final snapshot for %s: %v", m.ID, err)
		}
		captured = saved
		if saved {
			result.record(func(r *ExpiryResult) { r.Snapshots++ })
		}
	}

	message := fmt.Sprintf("The story by %s completed its 24 hours.", m.SenderLabel())
	if captured {
		message += fmt.Sprintf(" Final insights captured: reach %d, views %d, replies %d.",
			insights.Reach, insights.Views, insights.Replies)
	} else {
		message += " No final insights were captured."
	}

	s.emit(ctx, &models.Notification{
		OrganizationID: m.OrganizationID,
		Type:           models.NotificationStoryCompleted,
		Title:          "Story completed",
		Message:        message,
		TargetType:     "mention",
		TargetID:       m.ID,
		Priority:       models.PriorityLow,
	})
	return nil
}

// finalInsights is best effort: any failure yields nil.
func (s *Service) finalInsights(ctx context.Context, m *models.Mention, now time.Time) *platform.StoryInsights {
	if m.InstagramStoryID == "" {
		return nil
	}
	token, err := directory.UsableOrganizationToken(ctx, s.dir, m.OrganizationID, now)
	if err != nil || token == "" {
		logrus.Debugf("No token for final insights of %s: %v", m.ID, err)
		return nil
	}
	insights, err := s.client.FetchStoryInsights(ctx, m.InstagramStoryID, token)
	if err != nil {
		logrus.Warnf("Final insights unavailable for mention %s: %v", m.ID, err)
		return nil
	}
	return insights
}

func (s *Service) saveSnapshot(ctx context.Context, m *models.Mention, insights *platform.StoryInsights, now time.Time) (bool, error) {
	snapshot := &models.InsightsSnapshot{
		ID:                uuid.New().String(),
		MentionID:         m.ID,
		SnapshotType:      models.SnapshotTypeFinal,
		OrganizationID:    m.OrganizationID,
		Reach:             insights.Reach,
		Replies:           insights.Replies,
		Shares:            insights.Shares,
		ProfileVisits:     insights.ProfileVisits,
		TotalInteractions: insights.TotalInteractions,
		Views:             insights.Views,
		CapturedAt:        now,
	}
	if len(insights.Navigation) > 0 {
		if navigation, err := json.Marshal(insights.Navigation); err == nil {
			snapshot.Navigation = navigation
		}
	}
	if len(insights.Raw) > 0 {
		snapshot.RawInsights = []byte(insights.Raw)
	}

	saved, err := s.store.SaveSnapshot(ctx, snapshot)
	if err != nil || !saved {
		return saved, err
	}

	if len(insights.Raw) > 0 {
		name := fmt.Sprintf("%s/insights/%s/%s.json", s.config.ArchivePrefix, m.OrganizationID, m.ID)
		if err := s.archive.Store(ctx, name, insights.Raw); err != nil {
			logrus.Warnf("Failed to archive insights for %s: %v", m.ID, err)
		}
	}
	return true, nil
}
