package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/docchat/internal/backend"
	"github.com/MikeSquared-Agency/docchat/internal/conversation"
	"github.com/MikeSquared-Agency/docchat/internal/events"
	"github.com/MikeSquared-Agency/docchat/internal/ingest"
	"github.com/MikeSquared-Agency/docchat/internal/playback"
	"github.com/MikeSquared-Agency/docchat/internal/typing"
)

// ErrNothingToSend is returned for an empty query or when no document is loaded.
var ErrNothingToSend = ingest.ErrNothingToSend

// ErrBusy is returned by TryAsk while a response is loading.
var ErrBusy = errors.New("a response is still streaming")

// Backend is the remote side of a session. backend.Client satisfies it.
type Backend interface {
	ingest.Backend
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
	History(ctx context.Context) ([]backend.HistoryRecord, error)
}

type Options struct {
	RevealInterval time.Duration
	UnitPolicy     string
	ChunkSize      int
}

// Status is a point-in-time view of the session.
type Status struct {
	State        string `json:"state"`
	Loading      bool   `json:"loading"`
	Backlog      int    `json:"backlog"`
	Entries      int    `json:"entries"`
	Playback     bool   `json:"playback"`
	Document     bool   `json:"document"`
	DocumentName string `json:"document_name,omitempty"`
}

// Session wires the stream reader and the reveal loop around one document and
// its conversation. The two halves share only the typing queue and the state.
type Session struct {
	backend  Backend
	entries  *conversation.List
	queue    *typing.Queue
	state    *State
	playback *playback.Scheduler
	ingestor *ingest.Ingestor
	logger   *slog.Logger

	obsMu     sync.RWMutex
	observers []events.Observer

	// failMu is held while a failure is handled, so Wait does not return
	// before its event is out.
	failMu sync.Mutex

	mu           sync.Mutex
	document     string
	documentName string
	pending      string
	finished     []finishedEntry
	readers      map[*lease]struct{}
}

// finishedEntry is an entry whose stream was fully read in generation gen.
type finishedEntry struct {
	entry conversation.Entry
	gen   uint64
}

func New(b Backend, opts Options, logger *slog.Logger) (*Session, error) {
	split, err := typing.SplitterFor(opts.UnitPolicy)
	if err != nil {
		return nil, err
	}

	s := &Session{
		backend: b,
		entries: conversation.NewList(),
		queue:   typing.NewQueue(),
		state:   NewState(),
		logger:  logger,
		readers: make(map[*lease]struct{}),
	}
	s.playback = playback.New(opts.RevealInterval, s.queue, s.entries, playback.Hooks{
		Producing: s.state.Producing,
		Revealed:  s.revealed,
		Drained:   s.drained,
	}, logger)
	s.ingestor = ingest.New(b, s.entries, s.playback, coordinator{s}, split, opts.ChunkSize, logger)
	return s, nil
}

// Observe registers an observer for every subsequent event.
func (s *Session) Observe(o events.Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Upload sends a document to the backend and keeps the extracted text as the
// context for later questions.
func (s *Session) Upload(ctx context.Context, filename string, r io.Reader) error {
	text, err := s.backend.Upload(ctx, filename, r)
	if err != nil {
		s.logger.Error("upload failed", "file", filename, "error", err)
		return err
	}
	s.SetDocument(filename, text)
	s.logger.Info("document uploaded", "file", filename, "chars", len(text))
	return nil
}

// SetDocument installs already extracted text as the document.
func (s *Session) SetDocument(name, text string) {
	s.mu.Lock()
	s.document = text
	s.documentName = name
	s.mu.Unlock()
	s.emit(events.Event{Kind: events.KindDocumentUploaded, Document: name})
}

func (s *Session) Document() (name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentName, s.document
}

func (s *Session) SetQuery(q string) {
	s.mu.Lock()
	s.pending = q
	s.mu.Unlock()
}

func (s *Session) PendingQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// CanSend reports whether a send is allowed: nothing loading and a document
// present.
func (s *Session) CanSend() bool {
	s.mu.Lock()
	hasDoc := s.document != ""
	s.mu.Unlock()
	return hasDoc && !s.state.Loading()
}

// Send asks the pending query.
func (s *Session) Send(ctx context.Context) (conversation.Entry, error) {
	return s.Ask(ctx, s.PendingQuery())
}

// Ask streams the answer to query. It returns once the network stream is
// fully read; the reveal continues in the background until Wait returns.
// An empty query or missing document returns ErrNothingToSend and changes
// nothing.
func (s *Session) Ask(ctx context.Context, query string) (conversation.Entry, error) {
	_, doc := s.Document()
	entry, err := s.ingestor.Run(ctx, query, doc, s.entryCreated)
	s.logAskError(err)
	return entry, err
}

// TryAsk starts asking query in the background, but only when nothing is
// loading. The check and the start are one step, so concurrent callers cannot
// both get through. It returns ErrNothingToSend or ErrBusy without starting
// anything; stream failures are reported through events.
func (s *Session) TryAsk(ctx context.Context, query string) error {
	_, doc := s.Document()
	if err := ingest.Check(query, doc); err != nil {
		return err
	}
	gen, ok := s.state.TryBegin()
	if !ok {
		return ErrBusy
	}
	l := s.newLease(ctx, gen)
	go func() {
		_, err := s.ingestor.Stream(l, query, doc, s.entryCreated)
		s.logAskError(err)
	}()
	return nil
}

func (s *Session) entryCreated(e conversation.Entry) {
	s.SetQuery("")
	s.emit(events.Event{
		Kind:      events.KindEntryCreated,
		EntryID:   e.ID.String(),
		Prompt:    e.Prompt,
		Timestamp: e.CreatedAt,
	})
}

func (s *Session) logAskError(err error) {
	switch {
	case err == nil, errors.Is(err, ErrNothingToSend):
	case errors.Is(err, ingest.ErrAbandoned):
		s.logger.Info("ask abandoned after another stream failed")
	default:
		s.logger.Error("ask failed", "error", err)
	}
}

// Wait blocks until everything asked so far has been revealed or has failed.
func (s *Session) Wait(ctx context.Context) error {
	if err := s.state.Wait(ctx); err != nil {
		return err
	}
	s.failMu.Lock()
	s.failMu.Unlock()
	return nil
}

func (s *Session) Loading() bool { return s.state.Loading() }

func (s *Session) Phase() Phase { return s.state.Phase() }

func (s *Session) Entries() []conversation.Entry { return s.entries.Entries() }

func (s *Session) Entry(id uuid.UUID) (conversation.Entry, error) { return s.entries.Get(id) }

// History returns the exchanges the backend has on record.
func (s *Session) History(ctx context.Context) ([]backend.HistoryRecord, error) {
	records, err := s.backend.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend history: %w", err)
	}
	return records, nil
}

func (s *Session) Status() Status {
	name, doc := s.Document()
	phase := s.state.Phase()
	return Status{
		State:        phase.String(),
		Loading:      phase != Idle,
		Backlog:      s.queue.Len(),
		Entries:      s.entries.Len(),
		Playback:     s.playback.Running(),
		Document:     doc != "",
		DocumentName: name,
	}
}

// Close cancels open streams and stops the reveal loop. Anything still
// queued is abandoned.
func (s *Session) Close() {
	s.mu.Lock()
	for l := range s.readers {
		l.cancel()
	}
	s.mu.Unlock()
	s.playback.Stop()
}

func (s *Session) revealed(u typing.Unit) {
	s.emit(events.Event{
		Kind:      events.KindEntryRevealed,
		EntryID:   u.EntryID.String(),
		Text:      u.Text,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Session) drained() {
	s.mu.Lock()
	finished := s.finished
	s.finished = nil
	s.mu.Unlock()

	gen := s.state.Generation()
	for _, f := range finished {
		if f.gen != gen {
			continue
		}
		s.emit(events.Event{Kind: events.KindEntryCompleted, EntryID: f.entry.ID.String(), Prompt: f.entry.Prompt, Timestamp: time.Now().UTC()})
	}
	if s.state.Drained() {
		s.logger.Info("reveal complete", "ticks", s.playback.Ticks())
	}
}

func (s *Session) emit(e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.Observe(e)
	}
}

// coordinator hands the reader its lease on the session state.
type coordinator struct{ s *Session }

func (c coordinator) Begin(ctx context.Context) ingest.Lease {
	return c.s.newLease(ctx, c.s.state.Begin())
}

func (s *Session) newLease(ctx context.Context, gen uint64) *lease {
	ctx, cancel := context.WithCancel(ctx)
	l := &lease{s: s, gen: gen, ctx: ctx, cancel: cancel}
	s.mu.Lock()
	s.readers[l] = struct{}{}
	s.mu.Unlock()
	return l
}

// lease is one reader's claim, valid for the generation it began in.
type lease struct {
	s      *Session
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

func (l *lease) Context() context.Context { return l.ctx }

func (l *lease) Push(units ...typing.Unit) bool {
	return l.s.state.Guard(l.gen, func() { l.s.queue.Push(units...) })
}

func (l *lease) Produced(e conversation.Entry) {
	l.release()
	l.s.mu.Lock()
	l.s.finished = append(l.s.finished, finishedEntry{entry: e, gen: l.gen})
	l.s.mu.Unlock()
	l.s.state.Produced(l.gen)
}

// Fail abandons unrevealed units and cancels every other reader. Text already
// revealed stays in place.
func (l *lease) Fail(e *conversation.Entry, err error) {
	l.release()
	s := l.s
	s.failMu.Lock()
	defer s.failMu.Unlock()

	var dropped int
	if !s.state.Fail(l.gen, func() { dropped = s.queue.Clear() }) {
		return
	}

	var cancelled int
	s.mu.Lock()
	for o := range s.readers {
		if o.gen == l.gen {
			delete(s.readers, o)
			o.cancel()
			cancelled++
		}
	}
	s.mu.Unlock()

	s.playback.Stop()
	// A reader that began after the failure may have found the old loop
	// still running.
	if s.state.Loading() {
		s.playback.Start()
	}

	evt := events.Event{Kind: events.KindStreamFailed, Error: err.Error()}
	if e != nil {
		evt.EntryID = e.ID.String()
		evt.Prompt = e.Prompt
	}
	s.logger.Warn("stream abandoned", "dropped_units", dropped, "cancelled_readers", cancelled, "error", err)
	s.emit(evt)
}

func (l *lease) release() {
	l.s.mu.Lock()
	delete(l.s.readers, l)
	l.s.mu.Unlock()
	l.cancel()
}
