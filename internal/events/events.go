package events

import "time"

// Kind names an event. It doubles as the NATS subject suffix.
type Kind string

const (
	KindDocumentUploaded Kind = "document.uploaded"
	KindEntryCreated     Kind = "entry.created"
	KindEntryRevealed    Kind = "entry.revealed"
	KindEntryCompleted   Kind = "entry.completed"
	KindStreamFailed     Kind = "stream.failed"
)

// Event describes something that happened to the conversation.
type Event struct {
	Kind      Kind      `json:"kind"`
	EntryID   string    `json:"entry_id,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Text      string    `json:"text,omitempty"`
	Document  string    `json:"document,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives events. Implementations must not block: events are
// delivered from the reveal loop.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
