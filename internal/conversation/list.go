package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned when an entry ID is not in the list.
var ErrEntryNotFound = errors.New("conversation entry not found")

// Entry is one user turn: the prompt and the answer revealed so far.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Prompt    string    `json:"prompt"`
	Revealed  string    `json:"revealed"`
	CreatedAt time.Time `json:"created_at"`
}

// List holds conversation entries newest-first. Entries are addressed by ID so
// that inserting a newer entry never redirects writes meant for an older one.
type List struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[uuid.UUID]*Entry
	now     func() time.Time
}

func NewList() *List {
	return &List{
		byID: make(map[uuid.UUID]*Entry),
		now:  time.Now,
	}
}

// Insert creates an entry with an empty answer at the front of the list.
func (l *List) Insert(prompt string) Entry {
	e := &Entry{
		ID:        uuid.New(),
		Prompt:    prompt,
		CreatedAt: l.now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]*Entry{e}, l.entries...)
	l.byID[e.ID] = e
	return *e
}

// Append adds text to the revealed answer of the entry with the given ID.
func (l *List) Append(id uuid.UUID, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byID[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Revealed += text
	return nil
}

func (l *List) Get(id uuid.UUID) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byID[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return *e, nil
}

// Active returns the newest entry, the one currently receiving output.
func (l *List) Active() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return *l.entries[0], true
}

// Entries returns a copy of all entries, newest first.
func (l *List) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every entry.
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.byID = make(map[uuid.UUID]*Entry)
}
