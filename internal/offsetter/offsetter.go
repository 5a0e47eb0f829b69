// Package offsetter implements the automated dithering loop: watch the run
// directory for frame writes, nudge the telescope through a cyclic offset
// pattern and resume the exposure sequencer after a settle delay.
package offsetter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hipercam/hdriver/internal/logging"
	"github.com/hipercam/hdriver/internal/models"
	"github.com/rs/zerolog"
)

// Coordinator errors.
var (
	ErrNoPatternConfigured = errors.New("no offset pattern configured")
	ErrWatchStartFailed    = errors.New("watch start failed")
	ErrAlreadyWatching     = errors.New("already watching")
)

// State is the coordinator lifecycle state.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateIdle         State = "idle"
	StateWatching     State = "watching"
)

// Config contains coordinator configuration.
type Config struct {
	// Glob matches run frame files within the watched directory.
	// Default: "run*.fits".
	Glob string

	// DebounceInterval conflates filesystem write notifications closer
	// together than this into one logical event. Default: 100ms.
	DebounceInterval time.Duration

	// SettleDelay is how long after sending an offset to wait before
	// resuming the sequencer, giving the telescope time to settle.
	// Default: 3s.
	SettleDelay time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Glob:             "run*.fits",
		DebounceInterval: 100 * time.Millisecond,
		SettleDelay:      3 * time.Second,
	}
}

// OffsetSender commands a telescope pointing adjustment.
type OffsetSender interface {
	SendOffset(ctx context.Context, raOff, decOff float64) error
}

// Trigger resumes the paused exposure sequencer.
type Trigger interface {
	SeqTrigger(ctx context.Context) (*models.Reply, error)
}

// Recorder receives coordinator events for the observation event log.
// Implementations must not block.
type Recorder interface {
	RunDiscovered(path string)
	OffsetApplied(run string, ra, dec float64, sendErr error)
	TriggerSent(run string, err error)
}

// Status is a snapshot of the coordinator for the control plane.
type Status struct {
	State         State  `json:"state"`
	Directory     string `json:"directory,omitempty"`
	CurrentRun    string `json:"current_run,omitempty"`
	PatternLength int    `json:"pattern_length"`
	PatternIndex  int    `json:"pattern_index"`
	RunsSeen      int    `json:"runs_seen"`
}

// Coordinator reacts to frame-file writes with telescope offsets and
// scheduled sequencer triggers.
//
// All filesystem events funnel through one watcher goroutine, which is the
// only mutator of the debounce gate, the run history and the pattern
// position. Delayed triggers are handed off to a separate timer goroutine
// through the schedule queue.
type Coordinator struct {
	config   Config
	tele     OffsetSender
	ngc      Trigger
	recorder Recorder
	logger   zerolog.Logger

	mu       sync.Mutex
	state    State
	pattern  *Pattern
	dir      string
	watcher  *fsnotify.Watcher
	sched    *schedule
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	snapshot *runHistory // set while watching; owned by the watch goroutine
}

// runHistory is the set of frame files seen so far, in discovery order.
// The most recent entry is the active run.
type runHistory struct {
	order []string
	seen  map[string]struct{}

	// lastWrite is the debounce gate: the time of the last write event,
	// advanced on every event whether accepted or not.
	lastWrite time.Time
}

func newRunHistory() *runHistory {
	return &runHistory{seen: make(map[string]struct{})}
}

func (h *runHistory) add(path string) bool {
	if _, ok := h.seen[path]; ok {
		return false
	}
	h.seen[path] = struct{}{}
	h.order = append(h.order, path)
	return true
}

func (h *runHistory) current() string {
	if len(h.order) == 0 {
		return ""
	}
	return h.order[len(h.order)-1]
}

// debounce advances the gate to now and reports whether the event is far
// enough from the previous one to be accepted.
func (h *runHistory) debounce(now time.Time, interval time.Duration) bool {
	prev := h.lastWrite
	h.lastWrite = now
	return prev.IsZero() || now.Sub(prev) >= interval
}

// New creates a Coordinator. The recorder may be nil.
func New(config Config, tele OffsetSender, ngc Trigger, recorder Recorder) *Coordinator {
	def := DefaultConfig()
	if config.Glob == "" {
		config.Glob = def.Glob
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = def.SettleDelay
	}
	return &Coordinator{
		config:   config,
		tele:     tele,
		ngc:      ngc,
		recorder: recorder,
		logger:   logging.Component("offsetter"),
		state:    StateUnconfigured,
	}
}

// Configure replaces the active offset pattern and resets its position.
// This is a deliberate reset, not a resume, and is legal in any state. An
// invalid pattern leaves any previously active pattern unchanged.
func (c *Coordinator) Configure(ra, dec []float64) error {
	pattern, err := NewPattern(ra, dec)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pattern = pattern
	if c.state == StateUnconfigured {
		c.state = StateIdle
	}

	c.logger.Info().Int("length", pattern.Len()).Msg("offset pattern configured")
	return nil
}

// Start begins watching dir, non-recursively, for frame files matching the
// configured glob. Files already present are snapshotted as known runs, the
// most recent (by name) being the current run; they are not "new".
func (c *Coordinator) Start(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pattern == nil {
		return ErrNoPatternConfigured
	}
	if c.state == StateWatching {
		return ErrAlreadyWatching
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatchStartFailed, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("%w: %s: %v", ErrWatchStartFailed, dir, err)
	}

	history := newRunHistory()
	existing, err := filepath.Glob(filepath.Join(dir, c.config.Glob))
	if err != nil {
		watcher.Close()
		return fmt.Errorf("%w: bad glob %q: %v", ErrWatchStartFailed, c.config.Glob, err)
	}
	for _, path := range existing {
		history.add(path)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.watcher = watcher
	c.sched = newSchedule(c.logger)
	c.sched.start()
	c.snapshot = history
	c.dir = dir
	c.state = StateWatching

	c.wg.Add(1)
	go c.watch(watcher, history)

	c.logger.Info().
		Str("dir", dir).
		Str("glob", c.config.Glob).
		Int("existing_runs", len(history.order)).
		Msg("offsetter watching")

	return nil
}

// Stop halts watching. Idempotent. A trigger already queued on the timer
// goroutine still fires; it merely sends one extra sequencer resume.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.state != StateWatching {
		c.mu.Unlock()
		return nil
	}

	watcher, sched, cancel, dir := c.watcher, c.sched, c.cancel, c.dir
	c.watcher = nil
	c.sched = nil
	c.snapshot = nil
	c.state = StateIdle
	c.mu.Unlock()

	// The watch goroutine takes the coordinator lock on events, so it must
	// be joined outside the lock.
	cancel()
	watcher.Close()
	c.wg.Wait()
	sched.close()

	c.logger.Info().Str("dir", dir).Msg("offsetter stopped")
	return nil
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state}
	if c.pattern != nil {
		st.PatternLength = c.pattern.Len()
		st.PatternIndex = c.pattern.Position()
	}
	if c.state == StateWatching {
		st.Directory = c.dir
		st.CurrentRun = c.snapshot.current()
		st.RunsSeen = len(c.snapshot.order)
	}
	return st
}

// watch is the watcher goroutine: the single serialized event stream that
// mutates the run history, the debounce gate and the pattern position.
func (c *Coordinator) watch(watcher *fsnotify.Watcher, history *runHistory) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !c.matches(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				c.onCreated(history, event.Name)
			case event.Has(fsnotify.Write):
				c.onModified(history, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (c *Coordinator) matches(path string) bool {
	ok, err := filepath.Match(c.config.Glob, filepath.Base(path))
	return err == nil && ok
}

// onCreated records a newly discovered frame file as the current run.
func (c *Coordinator) onCreated(history *runHistory, path string) {
	// Status readers see the history through the coordinator lock; the
	// watch goroutine is its only writer.
	c.mu.Lock()
	added := history.add(path)
	c.mu.Unlock()
	if !added {
		return
	}
	c.logger.Info().Str("run", filepath.Base(path)).Msg("new run discovered")
	if c.recorder != nil {
		c.recorder.RunDiscovered(path)
	}
}

// onModified handles a frame write. A debounced write to the current run
// means the frame is complete: pop the next offset pair, send it, and
// schedule the sequencer resume for after the settle delay.
func (c *Coordinator) onModified(history *runHistory, path string) {
	if !history.debounce(time.Now(), c.config.DebounceInterval) {
		return
	}
	if path != history.current() {
		// Stale or irrelevant write.
		return
	}

	c.mu.Lock()
	if c.sched == nil {
		// Stopped while this event was in flight.
		c.mu.Unlock()
		return
	}
	ra, dec := c.pattern.Next()
	sched := c.sched
	c.mu.Unlock()

	run := filepath.Base(path)
	c.logger.Info().
		Str("run", run).
		Float64("raoff", ra).
		Float64("decoff", dec).
		Msg("frame complete, offsetting telescope")

	// A failed offset must not halt automated observing: log it and carry
	// on. The resume trigger is scheduled either way.
	err := c.tele.SendOffset(c.ctx, ra, dec)
	if err != nil {
		c.logger.Error().Err(err).Str("run", run).Msg("offset send failed, continuing")
	}
	if c.recorder != nil {
		c.recorder.OffsetApplied(run, ra, dec, err)
	}

	sched.enqueue(c.config.SettleDelay, func() {
		c.fireTrigger(run)
	})
}

// fireTrigger runs on the timer goroutine once the telescope has settled.
func (c *Coordinator) fireTrigger(run string) {
	_, err := c.ngc.SeqTrigger(context.Background())
	if err != nil {
		c.logger.Error().Err(err).Str("run", run).Msg("sequencer trigger failed")
	} else {
		c.logger.Info().Str("run", run).Msg("sequencer resumed")
	}
	if c.recorder != nil {
		c.recorder.TriggerSent(run, err)
	}
}
