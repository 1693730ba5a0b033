package playback

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/docchat/internal/typing"
)

// DefaultInterval is the reveal period used when none is configured.
const DefaultInterval = 30 * time.Millisecond

// Sink receives revealed units. conversation.List satisfies it.
type Sink interface {
	Append(id uuid.UUID, text string) error
}

// Hooks let the owner observe the loop. All fields are optional.
type Hooks struct {
	// Producing reports whether a reader may still push units. While it
	// returns true an empty queue does not end the loop.
	Producing func() bool
	// Revealed is called after each unit is handed to the Sink.
	Revealed func(typing.Unit)
	// Drained is called once when the loop ends because the queue is empty
	// and nothing is producing. It is not called after Stop.
	Drained func()
}

// Scheduler drains the typing queue one unit per tick, so text appears at a
// constant rate no matter how bursty the network is. At most one loop runs at
// a time.
type Scheduler struct {
	interval time.Duration
	queue    *typing.Queue
	sink     Sink
	hooks    Hooks
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	// last is the done channel of the most recently started loop.
	last chan struct{}

	ticks atomic.Int64
	live  atomic.Int32
	peak  atomic.Int32
}

func New(interval time.Duration, q *typing.Queue, sink Sink, hooks Hooks, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		queue:    q,
		sink:     sink,
		hooks:    hooks,
		logger:   logger,
	}
}

// Start launches the loop. It returns false and does nothing if a loop is
// already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return false
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	prev := s.last
	s.stop, s.done, s.last = stop, done, done
	go s.run(stop, done, prev)
	return true
}

// Stop ends the running loop, if any, and waits for it to exit. Units still
// queued stay queued.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	if stop != nil {
		s.stop, s.done = nil, nil
	}
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Ticks is the number of ticks executed over the scheduler's lifetime.
func (s *Scheduler) Ticks() int64 { return s.ticks.Load() }

// PeakLoops is the highest number of loop goroutines ever alive at once.
func (s *Scheduler) PeakLoops() int { return int(s.peak.Load()) }

// Loops is the number of loop goroutines currently alive.
func (s *Scheduler) Loops() int { return int(s.live.Load()) }

// run waits for the previous loop, which may still be finishing its Drained
// hook, before it starts ticking.
func (s *Scheduler) run(stop, done, prev chan struct{}) {
	if prev != nil {
		<-prev
	}
	n := s.live.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer func() {
		s.live.Add(-1)
		close(done)
	}()

	s.logger.Debug("playback started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.logger.Debug("playback stopped", "backlog", s.queue.Len())
			return
		case <-ticker.C:
			if !s.tick(stop) {
				return
			}
		}
	}
}

// tick reveals one unit. It returns false when the loop has finished.
func (s *Scheduler) tick(stop chan struct{}) bool {
	s.ticks.Add(1)

	// Read the producer state before popping: if nothing was producing, every
	// push has already happened and an empty queue means fully drained.
	producing := s.producing()
	if u, ok := s.queue.Pop(); ok {
		if err := s.sink.Append(u.EntryID, u.Text); err != nil {
			s.logger.Warn("dropping unit for unknown entry", "entry_id", u.EntryID, "error", err)
		}
		if s.hooks.Revealed != nil {
			s.hooks.Revealed(u)
		}
		return true
	}
	if producing {
		return true
	}

	s.mu.Lock()
	if s.stop != stop {
		// Stopped concurrently; Stop owns the teardown.
		s.mu.Unlock()
		return false
	}
	// A reader that started after the checks above pushes before calling
	// Start, and Start needs this lock, so re-checking here cannot miss it.
	if s.queue.Len() > 0 || s.producing() {
		s.mu.Unlock()
		return true
	}
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	s.logger.Debug("playback drained", "ticks", s.ticks.Load())
	if s.hooks.Drained != nil {
		s.hooks.Drained()
	}
	return false
}

func (s *Scheduler) producing() bool {
	return s.hooks.Producing != nil && s.hooks.Producing()
}
