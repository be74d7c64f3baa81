package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/partyhub/mention-lifecycle/internal/hashtags"
	"github.com/partyhub/mention-lifecycle/internal/lifecycle"
	"github.com/partyhub/mention-lifecycle/internal/partyselection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSweepers struct {
	mock.Mock
}

func (m *MockSweepers) Run(ctx context.Context, sweepType lifecycle.SweepType) (*lifecycle.SweepResult, error) {
	args := m.Called(sweepType)
	result, _ := args.Get(0).(*lifecycle.SweepResult)
	return result, args.Error(1)
}

func (m *MockSweepers) SweepTimeouts(ctx context.Context) (*partyselection.TimeoutResult, error) {
	args := m.Called()
	result, _ := args.Get(0).(*partyselection.TimeoutResult)
	return result, args.Error(1)
}

func (m *MockSweepers) Poll(ctx context.Context) (*hashtags.PollResult, error) {
	args := m.Called()
	result, _ := args.Get(0).(*hashtags.PollResult)
	return result, args.Error(1)
}

func execute(t *testing.T, s *MockSweepers, args ...string) (string, error) {
	t.Helper()
	closed := false
	cmd := newRootCmd(func(ctx context.Context) (sweepers, func(), error) {
		return s, func() { closed = true }, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	assert.True(t, closed || err != nil)
	return out.String(), err
}

func TestSweepCommand_Lifecycle(t *testing.T) {
	s := &MockSweepers{}
	s.On("Run", lifecycle.SweepExpiry).
		Return(&lifecycle.SweepResult{Type: lifecycle.SweepExpiry, Expiry: &lifecycle.ExpiryResult{Selected: 2, Completed: 2}}, nil).Once()

	out, err := execute(t, s, "expiry")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "expiry"`)
	assert.Contains(t, out, `"completed": 2`)
	s.AssertExpectations(t)
}

func TestSweepCommand_PropagatesFailure(t *testing.T) {
	s := &MockSweepers{}
	s.On("Run", lifecycle.SweepBoth).Return(&lifecycle.SweepResult{Type: lifecycle.SweepBoth}, errors.New("boom")).Once()

	out, err := execute(t, s, "both")
	assert.EqualError(t, err, "boom")
	assert.Contains(t, out, `"type": "both"`)
}

func TestSweepCommand_Timeouts(t *testing.T) {
	s := &MockSweepers{}
	s.On("SweepTimeouts").Return(&partyselection.TimeoutResult{Checked: 3, TimedOut: 3, Organizations: 2}, nil).Once()

	out, err := execute(t, s, "timeouts")
	require.NoError(t, err)
	assert.Contains(t, out, `"timed_out": 3`)
}

func TestSweepCommand_Unknown(t *testing.T) {
	_, err := execute(t, &MockSweepers{}, "weekly")
	assert.Error(t, err)
}

func TestSweepCommand_Hashtags(t *testing.T) {
	s := &MockSweepers{}
	s.On("Poll").Return(&hashtags.PollResult{Hashtags: 4, Created: 2}, nil).Once()

	out, err := execute(t, s, "hashtags")
	require.NoError(t, err)
	assert.Contains(t, out, `"created": 2`)
}
