package scheduler

import (
	"context"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/hashtags"
	"github.com/partyhub/mention-lifecycle/internal/lifecycle"
	"github.com/partyhub/mention-lifecycle/internal/partyselection"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// jobTimeout bounds a single scheduled run.
const jobTimeout = 25 * time.Minute

// SweepRunner runs lifecycle sweeps.
type SweepRunner interface {
	Run(ctx context.Context, sweepType lifecycle.SweepType) (*lifecycle.SweepResult, error)
}

// TimeoutSweeper closes unanswered party selection dialogs.
type TimeoutSweeper interface {
	SweepTimeouts(ctx context.Context) (*partyselection.TimeoutResult, error)
}

// HashtagPoller records posts under followed hashtags.
type HashtagPoller interface {
	Poll(ctx context.Context) (*hashtags.PollResult, error)
}

// Service handles scheduling of the lifecycle and party selection sweeps
type Service struct {
	config    *config.Config
	lifecycle SweepRunner
	party     TimeoutSweeper
	hashtags  HashtagPoller
	cron      *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, lifecycleService SweepRunner, party TimeoutSweeper, poller HashtagPoller) *Service {
	return &Service{
		config:    cfg,
		lifecycle: lifecycleService,
		party:     party,
		hashtags:  poller,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
}

// Start registers the sweeps and begins running them. Verification and
// expiry share one job when they share a schedule so expiry always runs
// after verification.
func (s *Service) Start() error {
	if s.config.VerificationCron == s.config.ExpiryCron {
		if _, err := s.cron.AddFunc(s.config.VerificationCron, func() { s.runSweep(lifecycle.SweepBoth) }); err != nil {
			return err
		}
	} else {
		if _, err := s.cron.AddFunc(s.config.VerificationCron, func() { s.runSweep(lifecycle.SweepVerification) }); err != nil {
			return err
		}
		if _, err := s.cron.AddFunc(s.config.ExpiryCron, func() { s.runSweep(lifecycle.SweepExpiry) }); err != nil {
			return err
		}
	}

	if _, err := s.cron.AddFunc(s.config.PartyTimeoutCron, s.runPartyTimeouts); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.config.HashtagCron, s.runHashtagPoll); err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started (verification %q, expiry %q, party timeouts %q, hashtags %q)",
		s.config.VerificationCron, s.config.ExpiryCron, s.config.PartyTimeoutCron, s.config.HashtagCron)
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}

func (s *Service) runSweep(sweepType lifecycle.SweepType) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	logrus.Infof("Starting scheduled %s sweep", sweepType)
	result, err := s.lifecycle.Run(ctx, sweepType)
	if err != nil {
		logrus.Errorf("Scheduled %s sweep failed: %v", sweepType, err)
		return
	}
	logrus.Infof("Scheduled %s sweep finished in %s", sweepType, result.Duration)
}

func (s *Service) runPartyTimeouts() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.party.SweepTimeouts(ctx); err != nil {
		logrus.Errorf("Party selection timeout sweep failed: %v", err)
	}
}

func (s *Service) runHashtagPoll() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.hashtags.Poll(ctx); err != nil {
		logrus.Errorf("Hashtag poll finished with errors: %v", err)
	}
}
