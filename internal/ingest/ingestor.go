package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/docchat/internal/backend"
	"github.com/MikeSquared-Agency/docchat/internal/conversation"
	"github.com/MikeSquared-Agency/docchat/internal/typing"
)

// DefaultChunkSize is the read buffer for the answer stream.
const DefaultChunkSize = 4096

// ErrNothingToSend is returned, without any network call, for an empty query
// or a missing document. Callers treat it as a no-op.
var ErrNothingToSend = errors.New("nothing to send")

// ErrAbandoned ends a reader whose lease was revoked by another stream's
// failure.
var ErrAbandoned = errors.New("stream abandoned")

// Backend opens answer streams. backend.Client satisfies it.
type Backend interface {
	ChatStream(ctx context.Context, query, pdfText string) (*backend.Stream, error)
}

// Entries is where a new conversation entry is recorded.
type Entries interface {
	Insert(prompt string) conversation.Entry
}

// Starter launches the reveal loop. Starting an already running loop is a no-op.
type Starter interface {
	Start() bool
}

// Lease is one reader's claim on the loading state shared with the reveal
// loop. A failure anywhere revokes every outstanding lease.
type Lease interface {
	// Context is cancelled when the lease is revoked.
	Context() context.Context
	// Push queues units for reveal. It reports false, queueing nothing, once
	// the lease is revoked.
	Push(units ...typing.Unit) bool
	// Produced marks the stream as fully read; revealing may still be in progress.
	Produced(entry conversation.Entry)
	// Fail abandons the backlog and clears the loading state. On a revoked
	// lease it only releases the lease.
	Fail(entry *conversation.Entry, err error)
}

// Coordinator hands out leases.
type Coordinator interface {
	// Begin marks a stream as in flight.
	Begin(ctx context.Context) Lease
}

// Check reports ErrNothingToSend for a blank query or an empty document.
func Check(query, pdfText string) error {
	if strings.TrimSpace(query) == "" || pdfText == "" {
		return ErrNothingToSend
	}
	return nil
}

// Ingestor reads an answer stream and feeds its text into the typing queue.
type Ingestor struct {
	backend   Backend
	entries   Entries
	playback  Starter
	coord     Coordinator
	split     typing.Splitter
	chunkSize int
	logger    *slog.Logger
}

func New(b Backend, entries Entries, playback Starter, coord Coordinator, split typing.Splitter, chunkSize int, logger *slog.Logger) *Ingestor {
	if split == nil {
		split = typing.Runes
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingestor{
		backend:   b,
		entries:   entries,
		playback:  playback,
		coord:     coord,
		split:     split,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Run asks query about the document and streams the answer into the queue.
// It returns once the stream is fully read; revealing continues afterwards.
// onEntry, if set, is called as soon as the new entry exists.
func (in *Ingestor) Run(ctx context.Context, query, pdfText string, onEntry func(conversation.Entry)) (conversation.Entry, error) {
	if err := Check(query, pdfText); err != nil {
		return conversation.Entry{}, err
	}
	return in.Stream(in.coord.Begin(ctx), query, pdfText, onEntry)
}

// Stream is Run for a caller that already holds a lease, and has already
// checked the query.
func (in *Ingestor) Stream(lease Lease, query, pdfText string, onEntry func(conversation.Entry)) (conversation.Entry, error) {
	stream, err := in.backend.ChatStream(lease.Context(), query, pdfText)
	if err != nil {
		lease.Fail(nil, err)
		return conversation.Entry{}, err
	}
	defer stream.Body.Close()

	dec, err := typing.NewDecoder(stream.Charset)
	if err != nil {
		lease.Fail(nil, err)
		return conversation.Entry{}, err
	}

	entry := in.entries.Insert(query)
	if onEntry != nil {
		onEntry(entry)
	}
	in.logger.Info("stream opened", "entry_id", entry.ID, "charset", dec.Charset())
	in.playback.Start()

	units, err := in.consume(lease, stream.Body, dec, entry)
	if err != nil {
		in.logger.Warn("stream failed", "entry_id", entry.ID, "units", units, "error", err)
		lease.Fail(&entry, err)
		return entry, err
	}

	in.logger.Info("stream complete", "entry_id", entry.ID, "units", units)
	lease.Produced(entry)
	return entry, nil
}

func (in *Ingestor) consume(lease Lease, body io.Reader, dec *typing.Decoder, entry conversation.Entry) (int, error) {
	buf := make([]byte, in.chunkSize)
	total := 0
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			text, err := dec.Decode(buf[:n])
			queued, ok := in.enqueue(lease, entry, text)
			total += queued
			if !ok {
				return total, ErrAbandoned
			}
			if err != nil {
				return total, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if lease.Context().Err() != nil {
				return total, ErrAbandoned
			}
			return total, &backend.StreamError{Message: "read stream", Err: readErr}
		}
	}

	text, err := dec.Flush()
	queued, ok := in.enqueue(lease, entry, text)
	total += queued
	if !ok {
		return total, ErrAbandoned
	}
	return total, err
}

func (in *Ingestor) enqueue(lease Lease, entry conversation.Entry, text string) (int, bool) {
	if text == "" {
		return 0, true
	}
	units := typing.Tag(in.split, entry.ID, text)
	if !lease.Push(units...) {
		return 0, false
	}
	return len(units), true
}
