package offsetter

import (
	"time"

	"github.com/rs/zerolog"
)

// task is one delayed action: run fn once dueAt has passed.
type task struct {
	dueAt time.Time
	fn    func()
}

// schedule is a thread-safe delayed-task queue. Any goroutine may enqueue;
// a single timer-owning goroutine dequeues and runs due tasks in enqueue
// order. The watcher goroutine must never run timers itself, so this is the
// hand-off point between the event context and the control context.
type schedule struct {
	tasks  chan task
	done   chan struct{}
	logger zerolog.Logger
}

func newSchedule(logger zerolog.Logger) *schedule {
	return &schedule{
		tasks:  make(chan task, 64),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// start launches the timer goroutine.
func (s *schedule) start() {
	go s.run()
}

// enqueue schedules fn to run after delay. Safe from any goroutine, but
// must not be called after close. Returns false if the queue is full; the
// task is dropped.
func (s *schedule) enqueue(delay time.Duration, fn func()) bool {
	t := task{dueAt: time.Now().Add(delay), fn: fn}
	select {
	case s.tasks <- t:
		return true
	default:
		s.logger.Warn().Dur("delay", delay).Msg("delayed task queue full, dropping task")
		return false
	}
}

// close stops accepting tasks. Tasks already queued still run; run exits
// once the queue drains.
func (s *schedule) close() {
	close(s.tasks)
}

// wait blocks until the timer goroutine has drained and exited.
func (s *schedule) wait() {
	<-s.done
}

func (s *schedule) run() {
	defer close(s.done)
	for t := range s.tasks {
		if d := time.Until(t.dueAt); d > 0 {
			time.Sleep(d)
		}
		t.fn()
	}
}
