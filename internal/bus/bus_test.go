package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Emit(KindStatusChanged, "test")

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStatusChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("wire.", 10)
	defer unsub()

	b.Emit(KindStatusChanged, nil)
	b.Emit(KindWireMessage, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindWireMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindWireMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The session event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Emit(KindStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Emit(KindMessageUpserted, 1)
	// Buffer is full now; this one is dropped rather than blocking.
	b.Emit(KindSendFailed, 2)

	evt := <-ch
	if evt.Kind != KindMessageUpserted {
		t.Errorf("got %q, want %q", evt.Kind, KindMessageUpserted)
	}
}
