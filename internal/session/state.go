package session

import (
	"context"
	"sync"
)

// Phase is the coordination state shared by the stream reader and the reveal
// loop.
type Phase int

const (
	// Idle: nothing in flight.
	Idle Phase = iota
	// Streaming: a reader is pulling from the network; the reveal loop may or
	// may not be running yet.
	Streaming
	// Draining: the network is done and the reveal loop is emptying the backlog.
	Draining
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// State is the loading flag expressed as a small state machine. Idle is
// reached only by a full drain or by a failure.
//
// Each failure starts a new generation. Readers carry the generation they
// began in, and anything they report from an older generation is ignored.
type State struct {
	mu        sync.Mutex
	phase     Phase
	producers int
	gen       uint64
	idle      chan struct{}
}

func NewState() *State {
	idle := make(chan struct{})
	close(idle)
	return &State{idle: idle}
}

func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Loading is true from the start of a request until a full drain or a failure.
func (s *State) Loading() bool {
	return s.Phase() != Idle
}

// Producing is true while at least one reader is still pulling from the network.
func (s *State) Producing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producers > 0
}

// Generation is the current generation.
func (s *State) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Live reports whether gen is still the current generation.
func (s *State) Live(gen uint64) bool {
	return s.Generation() == gen
}

// Begin moves to Streaming and returns the reader's generation.
func (s *State) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()
	return s.gen
}

// TryBegin is Begin, but only from Idle.
func (s *State) TryBegin() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Idle {
		return s.gen, false
	}
	s.begin()
	return s.gen, true
}

// Guard runs fn while gen is guaranteed to stay current, and reports whether
// it ran.
func (s *State) Guard(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	fn()
	return true
}

// Produced records that one reader of gen finished. When the last one does,
// the state moves to Draining. It reports false for a stale generation.
func (s *State) Produced(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	if s.producers > 0 {
		s.producers--
	}
	if s.producers == 0 && s.phase == Streaming {
		s.phase = Draining
	}
	return true
}

// Drained moves Draining to Idle. It reports whether the transition happened;
// a reader that began in the meantime keeps the state where it is.
func (s *State) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Draining {
		return false
	}
	s.toIdle()
	return true
}

// Fail forces Idle regardless of what is in flight and starts a new
// generation. abandon, if set, runs before any reader of the new generation
// can act. A failure reported from a stale generation changes nothing and
// returns false.
func (s *State) Fail(gen uint64, abandon func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.gen++
	s.producers = 0
	if s.phase != Idle {
		s.toIdle()
	}
	if abandon != nil {
		abandon()
	}
	return true
}

// Wait blocks until the state is Idle or ctx is done.
func (s *State) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *State) begin() {
	if s.phase == Idle {
		s.idle = make(chan struct{})
	}
	s.producers++
	s.phase = Streaming
}

func (s *State) toIdle() {
	s.phase = Idle
	close(s.idle)
}
