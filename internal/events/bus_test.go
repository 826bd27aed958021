package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish("s1", TypeProgress, map[string]int{"percent": 42})

		select {
		case evt := <-ch:
			if evt.Type != TypeProgress {
				t.Errorf("Type = %q, want progress", evt.Type)
			}
			if evt.Session != "s1" {
				t.Errorf("Session = %q, want s1", evt.Session)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]int
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["percent"] != 42 {
				t.Errorf("percent = %d, want 42", payload["percent"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("other_session_filtered", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Session: "s1"})
		defer cancel()

		b.Publish("s2", TypeState, "x")

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("type_filter", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{" alert"}})
		defer cancel()

		b.Publish("s1", TypeState, "x")
		b.Publish("s1", TypeAlert, "boom")

		select {
		case evt := <-ch:
			if evt.Type != TypeAlert {
				t.Errorf("Type = %q, want alert", evt.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for alert")
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		cancel()
		if b.SubscriberCount() != 0 {
			t.Fatalf("SubscriberCount = %d, want 0", b.SubscriberCount())
		}

		b.Publish("s1", TypeState, "x")

		select {
		case <-ch:
			t.Fatal("should not receive event after cancel")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("slow_subscriber_does_not_block", func(t *testing.T) {
		b := NewBus(256)
		_, cancel := b.Subscribe(Filter{})
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 200; i++ {
				b.Publish("s1", TypeProgress, i)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Publish blocked on a full subscriber")
		}
	})
}

func TestBusReplaySince(t *testing.T) {
	b := NewBus(4)
	for i := 0; i < 3; i++ {
		b.Publish("s1", TypeProgress, i)
	}
	b.Publish("s2", TypeProgress, 99)

	all := b.ReplaySince("", Filter{Session: "s1"})
	if len(all) != 3 {
		t.Fatalf("replay all = %d events, want 3", len(all))
	}

	after := b.ReplaySince(all[0].ID, Filter{Session: "s1"})
	if len(after) != 2 {
		t.Fatalf("replay since first = %d events, want 2", len(after))
	}
	if string(after[0].Data) != "1" {
		t.Errorf("first replayed data = %s, want 1", after[0].Data)
	}

	// Wrap the ring so the first ID is overwritten.
	b.Publish("s1", TypeProgress, 4)
	if got := b.ReplaySince(all[0].ID, Filter{}); len(got) != 0 {
		t.Errorf("replay of evicted ID = %d events, want 0", len(got))
	}
}

func TestNewEvent(t *testing.T) {
	b := NewBus(4)
	e, err := NewEvent("s1", TypeState, map[string]string{"status": "idle"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if e.ID != "" {
		t.Errorf("ID = %q, want empty", e.ID)
	}
	if string(e.Data) != `{"status":"idle"}` {
		t.Errorf("Data = %s", e.Data)
	}
	if got := b.ReplaySince("", Filter{}); len(got) != 0 {
		t.Errorf("NewEvent should not be buffered, got %d events", len(got))
	}

	if _, err := NewEvent("s1", TypeState, make(chan int)); err == nil {
		t.Error("expected marshal error for channel payload")
	}
}
