package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/docchat/internal/events"
	"github.com/MikeSquared-Agency/docchat/internal/session"
)

const helpText = `Type a question about the document, or:
  /upload <path>   upload a document
  /text <path>     use already extracted text
  /status          show session status
  /history         show exchanges stored by the backend
  /quit            exit`

// repl is the terminal front end: it reads questions from in and types the
// answers onto out as they are revealed.
type repl struct {
	sess *session.Session
	in   io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newREPL(sess *session.Session, in io.Reader, out io.Writer) *repl {
	return &repl{sess: sess, in: in, out: out}
}

// Observe renders session events. It runs on the reveal loop, so it only writes.
func (r *repl) Observe(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Kind {
	case events.KindEntryCreated:
		fmt.Fprintf(r.out, "You: %s\nBot: ", e.Prompt)
	case events.KindEntryRevealed:
		io.WriteString(r.out, e.Text)
	case events.KindEntryCompleted:
		io.WriteString(r.out, "\n")
	case events.KindStreamFailed:
		fmt.Fprintf(r.out, "\nStreaming error: %s\n", e.Error)
	case events.KindDocumentUploaded:
		fmt.Fprintf(r.out, "Document ready: %s\n", e.Document)
	}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// Run reads lines until end of input, /quit, or ctx is done.
func (r *repl) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	r.printf("%s\n> ", helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if r.handle(ctx, strings.TrimSpace(line)) {
				return nil
			}
			r.printf("> ")
		}
	}
}

// handle runs one line of input and reports whether to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		r.printf("%s\n", helpText)
	case "/status":
		st := r.sess.Status()
		r.printf("state=%s loading=%t backlog=%d entries=%d document=%q\n",
			st.State, st.Loading, st.Backlog, st.Entries, st.DocumentName)
	case "/history":
		records, err := r.sess.History(ctx)
		if err != nil {
			r.printf("Error loading history: %v\n", err)
			return false
		}
		for _, rec := range records {
			r.printf("You: %s\nBot: %s\n\n", rec.UserQuery, rec.BotResponse)
		}
	case "/upload":
		if r.sess.Loading() {
			r.printf("Still answering, wait for the current response.\n")
			return false
		}
		f, err := os.Open(arg)
		if err != nil {
			r.printf("Error uploading PDF: %v\n", err)
			return false
		}
		defer f.Close()
		if err := r.sess.Upload(ctx, arg, f); err != nil {
			r.printf("Error uploading PDF: %v\n", err)
		}
	case "/text":
		data, err := os.ReadFile(arg)
		if err != nil {
			r.printf("Error reading text: %v\n", err)
			return false
		}
		r.sess.SetDocument(arg, string(data))
	default:
		r.ask(ctx, line)
	}
	return false
}

func (r *repl) ask(ctx context.Context, query string) {
	if _, doc := r.sess.Document(); doc == "" {
		r.printf("Upload a document first (/upload <path>).\n")
		return
	}
	// Stream failures are shown through the event feed.
	switch err := r.sess.TryAsk(ctx, query); {
	case errors.Is(err, session.ErrBusy):
		r.printf("Still answering, wait for the current response.\n")
		return
	case err != nil:
		return
	}
	if err := r.sess.Wait(ctx); err != nil {
		r.printf("\n")
	}
}
