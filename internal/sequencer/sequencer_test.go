package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hipercam/hdriver/internal/models"
	"github.com/hipercam/hdriver/internal/obsmode"
	"github.com/stretchr/testify/require"
)

// mockDispatcher replays scripted replies and records every command sent.
type mockDispatcher struct {
	mu       sync.Mutex
	sent     []models.Command
	rules    []dispatchRule
	fallback models.Reply
}

type dispatchRule struct {
	match func(models.Command) bool
	reply *models.Reply
	err   error
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{fallback: models.Reply{MessageBuffer: "ok", RetCode: models.StatusOK}}
}

func (m *mockDispatcher) Dispatch(ctx context.Context, cmd models.Command) (*models.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, cmd)
	for _, rule := range m.rules {
		if rule.match(cmd) {
			if rule.err != nil {
				return nil, rule.err
			}
			reply := *rule.reply
			return &reply, nil
		}
	}
	reply := m.fallback
	return &reply, nil
}

func (m *mockDispatcher) failOn(substr string, message string) {
	m.rules = append(m.rules, dispatchRule{
		match: func(cmd models.Command) bool { return containsParam(cmd, substr) },
		reply: &models.Reply{MessageBuffer: message, RetCode: models.StatusNOK},
	})
}

func (m *mockDispatcher) errorOn(substr string, err error) {
	m.rules = append(m.rules, dispatchRule{
		match: func(cmd models.Command) bool { return containsParam(cmd, substr) },
		err:   err,
	})
}

func (m *mockDispatcher) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, cmd := range m.sent {
		out[i] = cmd.String()
	}
	return out
}

func containsParam(cmd models.Command, substr string) bool {
	if cmd.Name == substr {
		return true
	}
	for _, p := range cmd.Params {
		if p == substr {
			return true
		}
	}
	return false
}

func newTestSequencer(ngc Dispatcher) *Sequencer {
	return New(Config{Pacing: time.Millisecond}, ngc, nil)
}

func fullFrameSetup() obsmode.Setup {
	return obsmode.Setup{
		App: obsmode.AppData{
			App:         "FullFrame",
			XBin:        1,
			YBin:        1,
			Clear:       true,
			Multipliers: [5]int{1, 1, 1, 1, 1},
			ExpTime:     5,
			Readout:     "Slow",
		},
		User: obsmode.UserData{
			Observers: "VSD",
			Target:    "V404_Cyg",
		},
	}
}

func TestApplySendsPipelineInOrder(t *testing.T) {
	ngc := newMockDispatcher()
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	reply, err := seq.Apply(context.Background(), mode)
	require.NoError(t, err)
	require.True(t, reply.OK())

	cmds := ngc.commands()
	require.GreaterOrEqual(t, len(cmds), 5)
	require.Equal(t, "seq stop", cmds[0])
	require.Equal(t, "setup DET.READ.CURID 1", cmds[1])
	require.Equal(t, "setup DET.ACQ.APP FullFrame", cmds[2])
	require.Equal(t, "setup OBSERVER VSD", cmds[3])
	require.Equal(t, "setup OBJECT V404_Cyg", cmds[4])
	require.Contains(t, cmds[5], "setup DET.BINX1")
	require.Len(t, cmds, 6)
}

func TestApplyAbortsWhenSeqStopFails(t *testing.T) {
	ngc := newMockDispatcher()
	ngc.failOn("stop", "sequencer wedged")
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	reply, err := seq.Apply(context.Background(), mode)
	require.Nil(t, reply)
	require.ErrorIs(t, err, ErrSequencerStopFailed)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StepSeqStop, stepErr.Step)
	require.Equal(t, "sequencer wedged", stepErr.Response)

	// Nothing else was dispatched.
	require.Equal(t, []string{"seq stop"}, ngc.commands())
}

func TestApplyAbortsOnReadoutRejection(t *testing.T) {
	ngc := newMockDispatcher()
	ngc.failOn("DET.READ.CURID", "bad readout id")
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	_, err = seq.Apply(context.Background(), mode)
	require.ErrorIs(t, err, ErrReadoutModeRejected)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "bad readout id", stepErr.Response)
	require.Len(t, ngc.commands(), 2)
}

func TestApplyAbortsOnAcquisitionRejection(t *testing.T) {
	ngc := newMockDispatcher()
	ngc.failOn("DET.ACQ.APP", "no such application")
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	_, err = seq.Apply(context.Background(), mode)
	require.ErrorIs(t, err, ErrAcquisitionModeRejected)
	require.Len(t, ngc.commands(), 3)
}

func TestApplyStopsAtFirstRejectedHeader(t *testing.T) {
	ngc := newMockDispatcher()
	ngc.failOn("OBJECT", "header refused")
	seq := newTestSequencer(ngc)

	setup := fullFrameSetup()
	setup.User.Comment = "should never be sent"
	mode, err := obsmode.FromSetup(setup)
	require.NoError(t, err)

	_, err = seq.Apply(context.Background(), mode)
	require.ErrorIs(t, err, ErrHeaderCommandRejected)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StepHeader, stepErr.Step)
	require.Equal(t, 1, stepErr.Index)
	require.Equal(t, "header refused", stepErr.Response)

	// OBSERVER went through, OBJECT was refused, RUNCOM never sent.
	cmds := ngc.commands()
	require.Contains(t, cmds, "setup OBSERVER VSD")
	require.NotContains(t, cmds, "setup RUNCOM should never be sent")
	require.Equal(t, "setup OBJECT V404_Cyg", cmds[len(cmds)-1])
}

func TestApplyReturnsSetupReplyVerbatim(t *testing.T) {
	ngc := newMockDispatcher()
	ngc.rules = append(ngc.rules, dispatchRule{
		match: func(cmd models.Command) bool { return containsParam(cmd, "DET.BINX1") },
		reply: &models.Reply{MessageBuffer: "detector refused setup", RetCode: models.StatusNOK},
	})
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	// A NOK final setup is the primary response, not an error.
	reply, err := seq.Apply(context.Background(), mode)
	require.NoError(t, err)
	require.Equal(t, models.StatusNOK, reply.RetCode)
	require.Equal(t, "detector refused setup", reply.MessageBuffer)
}

func TestApplyIdleForceStartsSequencer(t *testing.T) {
	ngc := newMockDispatcher()
	seq := newTestSequencer(ngc)

	reply, err := seq.Apply(context.Background(), obsmode.NewIdle())
	require.NoError(t, err)
	require.True(t, reply.OK())

	cmds := ngc.commands()
	require.Equal(t, "seq start", cmds[len(cmds)-1])
}

func TestApplyIdleStartFailureIsFatal(t *testing.T) {
	ngc := newMockDispatcher()
	ngc.failOn("start", "cannot start")
	seq := newTestSequencer(ngc)

	reply, err := seq.Apply(context.Background(), obsmode.NewIdle())
	require.ErrorIs(t, err, ErrIdleStartFailed)

	// The setup reply was computed and is still handed back.
	require.NotNil(t, reply)
	require.True(t, reply.OK())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StepIdleStart, stepErr.Step)
	require.Equal(t, "cannot start", stepErr.Response)
}

func TestApplyNonIdleNeverSendsSeqStart(t *testing.T) {
	ngc := newMockDispatcher()
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	_, err = seq.Apply(context.Background(), mode)
	require.NoError(t, err)
	require.NotContains(t, ngc.commands(), "seq start")
}

func TestApplyTransportErrorIsExternalCommandFailed(t *testing.T) {
	ngc := newMockDispatcher()
	ngc.errorOn("DET.READ.CURID", fmt.Errorf("connection refused"))
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	_, err = seq.Apply(context.Background(), mode)
	require.ErrorIs(t, err, ErrExternalCommandFailed)
	require.NotErrorIs(t, err, ErrReadoutModeRejected)
}

func TestApplyRejectsConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	ngc := &blockingDispatcher{release: release, started: started}
	seq := New(Config{Pacing: time.Millisecond}, ngc, nil)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := seq.Apply(context.Background(), mode)
		done <- err
	}()

	<-started
	_, err = seq.Apply(context.Background(), mode)
	require.ErrorIs(t, err, ErrApplyInFlight)

	close(release)
	require.NoError(t, <-done)
}

type blockingDispatcher struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, cmd models.Command) (*models.Reply, error) {
	d.once.Do(func() { close(d.started) })
	<-d.release
	return &models.Reply{MessageBuffer: "ok", RetCode: models.StatusOK}, nil
}

func TestApplyRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ngc := newMockDispatcher()
	seq := newTestSequencer(ngc)

	mode, err := obsmode.FromSetup(fullFrameSetup())
	require.NoError(t, err)

	_, err = seq.Apply(ctx, mode)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrExternalCommandFailed))
}
