package engine

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Open("run-1")

	ch, unsub := b.Subscribe("run-1")
	defer unsub()

	b.Publish(Event{Type: EventHistoryStarted, RunID: "run-1", HistoryID: 3})
	b.Publish(Event{Type: EventHistoryStarted, RunID: "run-2", HistoryID: 4})

	select {
	case ev := <-ch:
		if ev.HistoryID != 3 {
			t.Errorf("HistoryID = %d, want 3", ev.HistoryID)
		}
		if ev.Time.IsZero() {
			t.Error("Time not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-ch:
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestBrokerCloseClosesSubscribers(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe("run-1")
	b.Close("run-1")

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}
	unsub()

	late, _ := b.Subscribe("run-1")
	if _, ok := <-late; ok {
		t.Error("late subscriber got an open channel")
	}
}

func TestBrokerCloseUnknownRun(t *testing.T) {
	b := NewBroker()
	b.Close("never-started")

	ch, _ := b.Subscribe("never-started")
	if _, ok := <-ch; ok {
		t.Error("subscriber of closed run got an open channel")
	}
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe("run-1")
	defer unsub()

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(Event{Type: EventProgress, RunID: "run-1"})
	}
	if len(ch) != subscriberBufferSize {
		t.Errorf("len(ch) = %d, want %d", len(ch), subscriberBufferSize)
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe("run-1")
	unsub()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: EventProgress, RunID: "run-1"})
}

func TestEventKeepsSessionZero(t *testing.T) {
	b, err := json.Marshal(Event{Type: EventProgress, RunID: "run-1", HistoryID: 1, Node: 1, Session: 0, Done: 1, Total: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"session":0`) {
		t.Errorf("event %s lacks session 0", b)
	}
}
