package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestEventJSON(t *testing.T) {
	e := Event{
		Kind:      KindEntryCreated,
		EntryID:   "abc",
		Prompt:    "What is X?",
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["kind"] != "entry.created" {
		t.Errorf("expected kind entry.created, got %v", raw["kind"])
	}
	if _, ok := raw["error"]; ok {
		t.Error("expected empty error to be omitted")
	}
	if raw["timestamp"] != "2025-03-01T10:00:00Z" {
		t.Errorf("unexpected timestamp %v", raw["timestamp"])
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(DefaultSubjectPrefix, KindStreamFailed); got != "docchat.stream.failed" {
		t.Errorf("expected docchat.stream.failed, got %q", got)
	}
}

func TestForwarded(t *testing.T) {
	if Forwarded(KindEntryRevealed) {
		t.Error("expected per-unit reveals to stay in-process")
	}
	for _, k := range []Kind{KindDocumentUploaded, KindEntryCreated, KindEntryCompleted, KindStreamFailed} {
		if !Forwarded(k) {
			t.Errorf("expected %s to be forwarded", k)
		}
	}
}

func TestObserverFunc(t *testing.T) {
	var got Event
	var o Observer = ObserverFunc(func(e Event) { got = e })
	o.Observe(Event{Kind: KindEntryCompleted})
	if got.Kind != KindEntryCompleted {
		t.Errorf("expected entry.completed, got %q", got.Kind)
	}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	h.Observe(Event{Kind: KindEntryRevealed, Text: "H"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			if e.Text != "H" {
				t.Errorf("expected 'H', got %q", e.Text)
			}
		default:
			t.Error("expected event delivered to every subscriber")
		}
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		h.Observe(Event{Kind: KindEntryRevealed})
	}
	if len(ch) != 2 {
		t.Errorf("expected buffer of 2, got %d", len(ch))
	}
	if h.Dropped() != 3 {
		t.Errorf("expected 3 dropped events, got %d", h.Dropped())
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Subscribers())
	}
	cancel()
	cancel()

	if h.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", h.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel closed")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	h.Observe(Event{Kind: KindEntryCreated})
}

func TestHub_ConcurrentObserve(t *testing.T) {
	h := NewHub(1000)
	ch, cancel := h.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Observe(Event{Kind: KindEntryRevealed})
			}
		}()
	}
	wg.Wait()

	if len(ch) != 500 {
		t.Errorf("expected 500 events, got %d", len(ch))
	}
}
