package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/docchat/internal/backend"
	"github.com/MikeSquared-Agency/docchat/internal/session"
)

// syncBuffer guards a bytes.Buffer read by the test while the session writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestREPL(t *testing.T, handler http.HandlerFunc, input string) (*repl, *session.Session, *syncBuffer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sess, err := session.New(backend.NewClient(server.URL, time.Second), session.Options{RevealInterval: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(sess.Close)

	out := &syncBuffer{}
	r := newREPL(sess, strings.NewReader(input), out)
	sess.Observe(r)
	return r, sess, out
}

func runREPL(t *testing.T, r *repl) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestREPL_AskTypesAnswer(t *testing.T) {
	r, sess, out := newTestREPL(t, func(w http.ResponseWriter, req *http.Request) {
		for _, c := range []string{"Hel", "lo wor", "ld"} {
			io.WriteString(w, c)
			w.(http.Flusher).Flush()
		}
	}, "What is X?\n/quit\n")
	sess.SetDocument("doc.pdf", "Doc")

	runREPL(t, r)

	if !strings.Contains(out.String(), "You: What is X?\nBot: Hello world\n") {
		t.Errorf("expected typed transcript, got %q", out.String())
	}
	if sess.Loading() {
		t.Error("expected the answer fully revealed before the next prompt")
	}
}

func TestREPL_RequiresDocument(t *testing.T) {
	calls := 0
	r, _, out := newTestREPL(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
	}, "What is X?\n")

	runREPL(t, r)

	if !strings.Contains(out.String(), "Upload a document first") {
		t.Errorf("expected upload hint, got %q", out.String())
	}
	if calls != 0 {
		t.Error("expected no backend call without a document")
	}
}

func TestREPL_StreamErrorShownOnce(t *testing.T) {
	r, sess, out := newTestREPL(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":"Insufficient PDF text context; upload a clearer PDF.","status":422}`)
	}, "What is X?\n")
	sess.SetDocument("doc.pdf", "Doc")

	runREPL(t, r)

	if n := strings.Count(out.String(), "Streaming error:"); n != 1 {
		t.Errorf("expected the error shown once, got %d in %q", n, out.String())
	}
	if !strings.Contains(out.String(), "Insufficient PDF text context") {
		t.Errorf("expected server message, got %q", out.String())
	}
}

func TestREPL_Status(t *testing.T) {
	r, _, out := newTestREPL(t, func(w http.ResponseWriter, req *http.Request) {}, "/status\n")

	runREPL(t, r)

	if !strings.Contains(out.String(), "state=idle loading=false") {
		t.Errorf("expected status line, got %q", out.String())
	}
}
