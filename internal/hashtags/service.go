// Package hashtags polls the hashtags organizations follow and records the
// public posts found under them as hashtag mentions.
package hashtags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
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

// Directory is what polling needs to know about organizations.
type Directory interface {
	directory.HashtagDirectory
	directory.TenantResolver
	directory.CredentialProvider
}

// Service handles hashtag polling across organizations
type Service struct {
	config   *config.Config
	store    storage.MentionStore
	dir      Directory
	client   platform.HashtagClient
	notifier notifications.NotificationInterface
	metrics  *metrics.Collector
	now      func() time.Time

	mu   sync.RWMutex
	last *PollResult
}

// PollResult summarizes one polling run.
type PollResult struct {
	Hashtags   int            `json:"hashtags"`
	Fetched    int            `json:"fetched"`
	Created    int            `json:"created"`
	Duplicates int            `json:"duplicates"`
	Errors     int            `json:"errors"`
	PerTag     map[string]int `json:"per_tag"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   string         `json:"duration"`
}

// tagOutcome is what polling a single hashtag produced.
type tagOutcome struct {
	hashtag    models.TrackedHashtag
	created    []models.Mention
	fetched    int
	duplicates int
	err        error
}

// NewService creates a new hashtag polling service
func NewService(cfg *config.Config, store storage.MentionStore, dir Directory, client platform.HashtagClient, notifier notifications.NotificationInterface, collector *metrics.Collector) *Service {
	return &Service{
		config:   cfg,
		store:    store,
		dir:      dir,
		client:   client,
		notifier: notifier,
		metrics:  collector,
		now:      time.Now,
	}
}

// Poll fetches recent media for every active hashtag concurrently, stores
// new posts and sends one summary per organization that got new mentions.
func (s *Service) Poll(ctx context.Context) (*PollResult, error) {
	start := s.now().UTC()
	hashtags, err := s.dir.ActiveHashtags(ctx)
	if err != nil {
		return nil, err
	}

	result := &PollResult{
		Hashtags:  len(hashtags),
		PerTag:    make(map[string]int),
		StartedAt: start,
	}
	logrus.Infof("Polling %d hashtag(s) for posts since %s", len(hashtags), start.Add(-s.config.HashtagLookback).Format(time.RFC3339))

	var wg sync.WaitGroup
	outcomes := make(chan tagOutcome, len(hashtags))
	sem := make(chan struct{}, s.concurrency())

	for _, hashtag := range hashtags {
		wg.Add(1)
		go func(h models.TrackedHashtag) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes <- s.pollOne(ctx, h, start)
		}(hashtag)
	}

	// Close the channel when all goroutines complete
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var errs []error
	created := make(map[string][]models.Mention)
	tags := make(map[string][]string)
	for outcome := range outcomes {
		result.Fetched += outcome.fetched
		result.Duplicates += outcome.duplicates
		if outcome.err != nil {
			logrus.Errorf("Error polling #%s for organization %s: %v", outcome.hashtag.Name, outcome.hashtag.OrganizationID, outcome.err)
			result.Errors++
			errs = append(errs, outcome.err)
		}
		if len(outcome.created) == 0 {
			continue
		}
		orgID := outcome.hashtag.OrganizationID
		result.Created += len(outcome.created)
		result.PerTag[outcome.hashtag.Name] += len(outcome.created)
		created[orgID] = append(created[orgID], outcome.created...)
		tags[orgID] = append(tags[orgID], "#"+outcome.hashtag.Name)
	}

	orgIDs := make([]string, 0, len(created))
	for orgID := range created {
		orgIDs = append(orgIDs, orgID)
	}
	sort.Strings(orgIDs)
	for _, orgID := range orgIDs {
		s.sendSummary(ctx, orgID, created[orgID], tags[orgID])
	}

	result.Duration = s.now().Sub(start).String()
	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	logrus.Infof("Hashtag poll completed: %d fetched, %d new, %d duplicate, %d error(s)",
		result.Fetched, result.Created, result.Duplicates, result.Errors)
	return result, errors.Join(errs...)
}

// LastResult returns the most recent poll result, or nil before the first run.
func (s *Service) LastResult() *PollResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Service) pollOne(ctx context.Context, h models.TrackedHashtag, now time.Time) tagOutcome {
	outcome := tagOutcome{hashtag: h}

	org, err := s.dir.ByID(ctx, h.OrganizationID)
	if err != nil {
		outcome.err = fmt.Errorf("organization %s: %w", h.OrganizationID, err)
		return outcome
	}
	if org.InstagramAccountID == "" {
		outcome.err = fmt.Errorf("organization %s has no connected account", org.ID)
		return outcome
	}

	token, err := directory.UsableOrganizationToken(ctx, s.dir, org.ID, now)
	if err != nil {
		outcome.err = fmt.Errorf("organization %s token: %w", org.ID, err)
		return outcome
	}
	if token == "" {
		outcome.err = fmt.Errorf("organization %s has no usable token", org.ID)
		return outcome
	}

	hashtagID := h.PlatformHashtagID
	if hashtagID == "" {
		hashtagID, err = s.client.SearchHashtag(ctx, org.InstagramAccountID, h.Name, token)
		if err != nil {
			outcome.err = err
			return outcome
		}
		if err := s.dir.SetPlatformHashtagID(ctx, h.ID, hashtagID); err != nil {
			logrus.Warnf("Failed to cache id of #%s: %v", h.Name, err)
		}
	}

	media, err := s.client.RecentHashtagMedia(ctx, hashtagID, org.InstagramAccountID, token, s.config.HashtagMediaLimit)
	if err != nil {
		outcome.err = err
		return outcome
	}
	outcome.fetched = len(media)

	since := now.Add(-s.config.HashtagLookback)
	for _, item := range media {
		if item.Timestamp.Before(since) {
			continue
		}
		m, ok, err := s.record(ctx, org.ID, item)
		if err != nil {
			outcome.err = err
			return outcome
		}
		if !ok {
			outcome.duplicates++
			continue
		}
		outcome.created = append(outcome.created, *m)
	}

	if err := s.dir.MarkHashtagPolled(ctx, h.ID, now); err != nil {
		logrus.Warnf("Failed to mark #%s polled: %v", h.Name, err)
	}
	return outcome
}

// record stores one post. The media timestamp is the identity key, so a
// post seen by several polls or several hashtags is stored once.
func (s *Service) record(ctx context.Context, organizationID string, item platform.HashtagMedia) (*models.Mention, bool, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, false, fmt.Errorf("encode media %s: %w", item.ID, err)
	}

	m := models.NewMention(organizationID, models.Sender{}, item.Timestamp,
		models.Hashtag{MediaID: item.ID, Caption: item.Caption}, raw)
	m.DeepLink = item.Permalink

	created, err := s.store.Create(ctx, m)
	if err != nil {
		return nil, false, err
	}
	s.metrics.MentionIngested(string(models.MentionTypeHashtag), created)
	return m, created, nil
}

func (s *Service) sendSummary(ctx context.Context, organizationID string, mentions []models.Mention, tags []string) {
	sort.Strings(tags)
	notification := &models.Notification{
		OrganizationID: organizationID,
		Type:           models.NotificationHashtagMentions,
		Title:          fmt.Sprintf("%d new hashtag post(s)", len(mentions)),
		Message:        fmt.Sprintf("Found %d new public post(s) under %s.", len(mentions), strings.Join(tags, ", ")),
		TargetType:     "organization",
		TargetID:       organizationID,
		Priority:       models.PriorityLow,
	}
	if err := s.notifier.Emit(ctx, notification); err != nil {
		logrus.Errorf("Failed to emit hashtag summary for %s: %v", organizationID, err)
	}
}

func (s *Service) concurrency() int {
	if s.config.SweepConcurrency > 0 {
		return s.config.SweepConcurrency
	}
	return 1
}
