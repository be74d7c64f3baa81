package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
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

// SweepType selects which sweeps a run performs.
type SweepType string

const (
	SweepVerification SweepType = "verification"
	SweepExpiry       SweepType = "expiry"
	SweepBoth         SweepType = "both"
)

// ParseSweepType validates a sweep type coming from a trigger.
func ParseSweepType(value string) (SweepType, error) {
	switch t := SweepType(value); t {
	case SweepVerification, SweepExpiry, SweepBoth:
		return t, nil
	case "":
		return SweepBoth, nil
	}
	return "", fmt.Errorf("unknown sweep type %q", value)
}

// Directory is what the sweeps need to know about tenants and ambassadors.
type Directory interface {
	directory.CredentialProvider
	directory.AmbassadorDirectory
}

// Service runs the verification and expiry sweeps over story mentions
type Service struct {
	config   *config.Config
	store    storage.MentionStore
	dir      Directory
	client   platform.Client
	notifier notifications.NotificationInterface
	archive  storage.Archive
	metrics  *metrics.Collector
	now      func() time.Time

	status *Status
	mu     sync.RWMutex
}

// Status holds the outcome of the most recent runs
type Status struct {
	LastVerification *VerificationResult `json:"last_verification,omitempty"`
	LastExpiry       *ExpiryResult       `json:"last_expiry,omitempty"`
	LastRun          time.Time           `json:"last_run"`
	LastRunDuration  string              `json:"last_run_duration"`
	ErrorCount       int                 `json:"error_count"`
}

// SweepResult is returned to triggers and the CLI.
type SweepResult struct {
	Type         SweepType           `json:"type"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Expiry       *ExpiryResult       `json:"expiry,omitempty"`
	Duration     string              `json:"duration"`
}

// NewService creates a new lifecycle service
func NewService(cfg *config.Config, store storage.MentionStore, dir Directory, client platform.Client, notifier notifications.NotificationInterface, archive storage.Archive, collector *metrics.Collector) *Service {
	if archive == nil {
		archive = storage.NopArchive{}
	}
	return &Service{
		config:   cfg,
		store:    store,
		dir:      dir,
		client:   client,
		notifier: notifier,
		archive:  archive,
		metrics:  collector,
		now:      time.Now,
		status:   &Status{},
	}
}

// Run performs the requested sweeps. Expiry runs after verification so a
// story deleted just before expiry is flagged rather than completed.
func (s *Service) Run(ctx context.Context, sweepType SweepType) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{Type: sweepType}
	var errs []error

	if sweepType == SweepVerification || sweepType == SweepBoth {
		verification, err := s.RunVerification(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		result.Verification = verification
	}

	if sweepType == SweepExpiry || sweepType == SweepBoth {
		expiry, err := s.RunExpiry(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		result.Expiry = expiry
	}

	result.Duration = time.Since(start).String()

	s.mu.Lock()
	s.status.LastRun = start
	s.status.LastRunDuration = result.Duration
	if result.Verification != nil {
		s.status.LastVerification = result.Verification
		s.status.ErrorCount += result.Verification.Errors
	}
	if result.Expiry != nil {
		s.status.LastExpiry = result.Expiry
		s.status.ErrorCount += result.Expiry.Errors
	}
	s.status.ErrorCount += len(errs)
	s.mu.Unlock()

	return result, errors.Join(errs...)
}

// GetStatus returns a copy of the last run status
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.status
}

// forEach runs fn over mentions with at most SweepConcurrency in flight.
// A panic in one item is logged and counted as an error for that item only.
func (s *Service) forEach(ctx context.Context, mentions []models.Mention, fn func(ctx context.Context, m *models.Mention) error) int {
	limit := s.config.SweepConcurrency
	if limit <= 0 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0

	for i := range mentions {
		m := &mentions[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					logrus.Errorf("Panic while processing mention %s: %v\n%s", m.ID, r, debug.Stack())
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}()

			if err := fn(ctx, m); err != nil {
				logrus.WithFields(logrus.Fields{
					"mention_id":      m.ID,
					"organization_id": m.OrganizationID,
				}).Errorf("Failed to process mention: %v", err)
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return failures
}

func (s *Service) storyLifetime() time.Duration {
	if s.config.StoryLifetime > 0 {
		return s.config.StoryLifetime
	}
	return models.StoryLifetime
}

func (s *Service) emit(ctx context.Context, notification *models.Notification) {
	if err := s.notifier.Emit(ctx, notification); err != nil {
		logrus.Errorf("Failed to emit %s notification: %v", notification.Type, err)
	}
}
