// Package sequencer carries out the multi-step handshake that switches the
// live instrument into a desired observation mode.
//
// The pipeline is strictly ordered and fail-fast: stop the exposure
// sequencer, select the readout mode, select the acquisition application,
// apply the user header commands one by one, then send the final detector
// setup. Idle mode additionally force-starts the sequencer afterwards. The
// first non-OK reply aborts the whole sequence; the external system has no
// transactional undo, so commands already accepted stay applied.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hipercam/hdriver/internal/logging"
	"github.com/hipercam/hdriver/internal/models"
	"github.com/hipercam/hdriver/internal/obsmode"
	"github.com/rs/zerolog"
)

// Sequencer errors.
var (
	ErrApplyInFlight           = errors.New("another apply is in flight")
	ErrSequencerStopFailed     = errors.New("sequencer stop failed")
	ErrReadoutModeRejected     = errors.New("readout mode rejected")
	ErrAcquisitionModeRejected = errors.New("acquisition mode rejected")
	ErrHeaderCommandRejected   = errors.New("header command rejected")
	ErrIdleStartFailed         = errors.New("idle sequencer start failed")
	ErrExternalCommandFailed   = errors.New("external command failed")
)

// Step names the pipeline step a failure belongs to.
type Step string

const (
	StepSeqStop     Step = "seq-stop"
	StepReadoutMode Step = "readout-mode"
	StepAcquisition Step = "acquisition-mode"
	StepHeader      Step = "header"
	StepSetup       Step = "setup"
	StepIdleStart   Step = "idle-start"
)

// StepError reports which pipeline step failed, the command that was sent
// and the verbatim response from the control system.
type StepError struct {
	Step     Step
	Command  models.Command
	Index    int    // header command index, -1 elsewhere
	Response string // verbatim external message buffer, if any
	Err      error  // one of the sentinel errors above
}

func (e *StepError) Error() string {
	if e.Response != "" {
		return fmt.Sprintf("%s: step %s (%s): %s", e.Err, e.Step, e.Command, e.Response)
	}
	return fmt.Sprintf("%s: step %s (%s)", e.Err, e.Step, e.Command)
}

func (e *StepError) Unwrap() error { return e.Err }

// Dispatcher sends one command to the instrument control system.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd models.Command) (*models.Reply, error)
}

// Config contains sequencer configuration.
type Config struct {
	// Pacing is the delay between successive commands, respecting the
	// control system's processing cadence. Default: 100ms.
	Pacing time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{Pacing: 100 * time.Millisecond}
}

// Recorder receives the outcome of each apply for the observation event
// log. Implementations must not block.
type Recorder interface {
	SetupApplied(mode obsmode.Kind, response string)
	SetupFailed(mode obsmode.Kind, step Step, response string)
}

// Sequencer applies observation modes to the instrument.
type Sequencer struct {
	config   Config
	ngc      Dispatcher
	recorder Recorder
	logger   zerolog.Logger

	// Apply interleaves commands against a stateful external system, so
	// only one may run at a time. Concurrent calls are rejected.
	busy sync.Mutex
}

// New creates a Sequencer. The recorder may be nil.
func New(config Config, ngc Dispatcher, recorder Recorder) *Sequencer {
	if config.Pacing <= 0 {
		config.Pacing = DefaultConfig().Pacing
	}
	return &Sequencer{
		config:   config,
		ngc:      ngc,
		recorder: recorder,
		logger:   logging.Component("sequencer"),
	}
}

// Apply switches the instrument into the given mode.
//
// On success the returned reply is the control system's verbatim response
// to the final setup command, OK or NOK. For Idle the reply is still
// returned alongside ErrIdleStartFailed when the forced sequencer start
// fails after a successful setup.
func (s *Sequencer) Apply(ctx context.Context, mode obsmode.Mode) (*models.Reply, error) {
	if !s.busy.TryLock() {
		return nil, ErrApplyInFlight
	}
	defer s.busy.Unlock()

	s.logger.Info().Str("mode", string(mode.Kind())).Msg("applying observation mode")

	// 1. Stop the exposure sequencer.
	cmd := models.Command{Name: "seq", Params: []string{"stop"}}
	if err := s.gate(ctx, cmd, ErrSequencerStopFailed, StepSeqStop, -1, mode); err != nil {
		return nil, err
	}

	// 2. Select the readout mode.
	if err := s.gate(ctx, mode.ReadoutCommand(), ErrReadoutModeRejected, StepReadoutMode, -1, mode); err != nil {
		return nil, err
	}

	// 3. Select the acquisition application.
	if err := s.gate(ctx, mode.AcquisitionCommand(), ErrAcquisitionModeRejected, StepAcquisition, -1, mode); err != nil {
		return nil, err
	}

	// 4. Apply header commands in order, aborting on the first rejection.
	// Accepted headers stay applied.
	for i, hdr := range mode.HeaderCommands() {
		if err := s.gate(ctx, hdr, ErrHeaderCommandRejected, StepHeader, i, mode); err != nil {
			return nil, err
		}
	}

	// 5. Send the final setup. Its reply is the primary response, OK or
	// NOK, so a NOK here is not turned into an error.
	reply, err := s.send(ctx, mode.SetupCommand())
	if err != nil {
		s.fail(mode, StepSetup, "")
		return nil, &StepError{Step: StepSetup, Command: mode.SetupCommand(), Index: -1, Err: ErrExternalCommandFailed, Response: err.Error()}
	}

	// 6. Idle keeps clearing the chip with no run start to follow, so the
	// sequencer must be force-started here.
	if mode.StartsSequencer() {
		start := models.Command{Name: "seq", Params: []string{"start"}}
		startReply, err := s.send(ctx, start)
		if err != nil {
			s.fail(mode, StepIdleStart, "")
			return reply, &StepError{Step: StepIdleStart, Command: start, Index: -1, Err: ErrIdleStartFailed, Response: err.Error()}
		}
		if !startReply.OK() {
			s.fail(mode, StepIdleStart, startReply.MessageBuffer)
			return reply, &StepError{Step: StepIdleStart, Command: start, Index: -1, Err: ErrIdleStartFailed, Response: startReply.MessageBuffer}
		}
	}

	if s.recorder != nil {
		s.recorder.SetupApplied(mode.Kind(), reply.MessageBuffer)
	}
	s.logger.Info().
		Str("mode", string(mode.Kind())).
		Str("retcode", string(reply.RetCode)).
		Msg("observation mode applied")

	return reply, nil
}

// gate sends one command and aborts the pipeline unless the reply is OK.
func (s *Sequencer) gate(ctx context.Context, cmd models.Command, kind error, step Step, index int, mode obsmode.Mode) error {
	reply, err := s.send(ctx, cmd)
	if err != nil {
		s.fail(mode, step, "")
		return &StepError{Step: step, Command: cmd, Index: index, Err: ErrExternalCommandFailed, Response: err.Error()}
	}
	if !reply.OK() {
		s.fail(mode, step, reply.MessageBuffer)
		return &StepError{Step: step, Command: cmd, Index: index, Err: kind, Response: reply.MessageBuffer}
	}
	return nil
}

// send dispatches one command, then waits out the pacing delay. The delay
// is a throttle for the control system, not error recovery.
func (s *Sequencer) send(ctx context.Context, cmd models.Command) (*models.Reply, error) {
	reply, err := s.ngc.Dispatch(ctx, cmd)
	if err != nil {
		s.logger.Error().Err(err).Str("command", cmd.String()).Msg("command dispatch failed")
		return nil, err
	}

	s.logger.Debug().
		Str("command", cmd.String()).
		Str("retcode", string(reply.RetCode)).
		Msg("command dispatched")

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.config.Pacing):
	}

	return reply, nil
}

func (s *Sequencer) fail(mode obsmode.Mode, step Step, response string) {
	s.logger.Error().
		Str("mode", string(mode.Kind())).
		Str("step", string(step)).
		Str("response", response).
		Msg("observation mode setup failed")
	if s.recorder != nil {
		s.recorder.SetupFailed(mode.Kind(), step, response)
	}
}
