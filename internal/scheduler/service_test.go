package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/hashtags"
	"github.com/partyhub/mention-lifecycle/internal/lifecycle"
	"github.com/partyhub/mention-lifecycle/internal/partyselection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, sweepType lifecycle.SweepType) (*lifecycle.SweepResult, error) {
	args := m.Called(sweepType)
	result, _ := args.Get(0).(*lifecycle.SweepResult)
	return result, args.Error(1)
}

type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) SweepTimeouts(ctx context.Context) (*partyselection.TimeoutResult, error) {
	args := m.Called()
	result, _ := args.Get(0).(*partyselection.TimeoutResult)
	return result, args.Error(1)
}

type MockPoller struct {
	mock.Mock
}

func (m *MockPoller) Poll(ctx context.Context) (*hashtags.PollResult, error) {
	args := m.Called()
	result, _ := args.Get(0).(*hashtags.PollResult)
	return result, args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		VerificationCron: "0 */30 * * * *",
		ExpiryCron:       "0 */30 * * * *",
		PartyTimeoutCron: "0 15,45 * * * *",
		HashtagCron:      "0 5 * * * *",
	}
}

func TestService_SharedScheduleRegistersOneSweep(t *testing.T) {
	s := NewService(testConfig(), &MockRunner{}, &MockSweeper{}, &MockPoller{})
	assert.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 3)
}

func TestService_SeparateSchedules(t *testing.T) {
	cfg := testConfig()
	cfg.ExpiryCron = "0 5,35 * * * *"
	s := NewService(cfg, &MockRunner{}, &MockSweeper{}, &MockPoller{})
	assert.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 4)
}

func TestService_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.PartyTimeoutCron = "every now and then"
	s := NewService(cfg, &MockRunner{}, &MockSweeper{}, &MockPoller{})
	assert.Error(t, s.Start())
}

func TestService_Jobs(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Run", lifecycle.SweepBoth).Return(&lifecycle.SweepResult{Type: lifecycle.SweepBoth, Duration: "1s"}, nil).Once()
	runner.On("Run", lifecycle.SweepExpiry).Return(nil, errors.New("db down")).Once()
	sweeper := &MockSweeper{}
	sweeper.On("SweepTimeouts").Return(&partyselection.TimeoutResult{}, nil).Once()

	poller := &MockPoller{}
	poller.On("Poll").Return(&hashtags.PollResult{}, errors.New("token expired")).Once()

	s := NewService(testConfig(), runner, sweeper, poller)
	s.runSweep(lifecycle.SweepBoth)
	s.runSweep(lifecycle.SweepExpiry)
	s.runPartyTimeouts()
	s.runHashtagPoll()

	runner.AssertExpectations(t)
	sweeper.AssertExpectations(t)
	poller.AssertExpectations(t)
}
