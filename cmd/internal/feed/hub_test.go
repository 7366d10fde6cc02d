package feed

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHub_PublishRespectsFilterAndNeverBlocks(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)

	all := NewClient("all", minSendQueueSize)
	grants := NewClient("grants", minSendQueueSize)
	grants.SetFilter([]string{KindGrantIssued})
	full := NewClient("full", 1)

	h.Join(all)
	h.Join(grants)
	h.Join(full)
	if h.Len() != 3 {
		t.Fatalf("expected 3 members, got %d", h.Len())
	}

	h.Publish(Event{Kind: KindUploadAccepted, UserID: 1, Count: 1})
	h.Publish(Event{Kind: KindGrantIssued, UserID: 1})
	// The single-slot queue is now full; further publishes must drop, not block.
	h.Publish(Event{Kind: KindGrantIssued, UserID: 2})

	if got := len(all.Send); got != 3 {
		t.Fatalf("all: expected 3 queued, got %d", got)
	}
	if got := len(grants.Send); got != 2 {
		t.Fatalf("grants: expected 2 queued, got %d", got)
	}
	if got := len(full.Send); got != 1 {
		t.Fatalf("full: expected 1 queued, got %d", got)
	}

	env := <-grants.Send
	if env.Type != TypeEvent || env.V != Version || env.ID == "" {
		t.Fatalf("bad envelope: %+v", env)
	}
	var ev Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Kind != KindGrantIssued || ev.UserID != 1 || ev.At.IsZero() {
		t.Fatalf("bad event: %+v", ev)
	}
}

func TestHub_LeaveClosesClient(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	c := NewClient("s1", 0)
	h.Join(c)
	h.Leave("s1")

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected client to be closed")
	}
	if h.Len() != 0 {
		t.Fatalf("expected empty hub")
	}

	// Publishing to an empty hub or a nil hub is a no-op.
	h.Publish(Event{Kind: KindChatTeardown})
	var nilHub *Hub
	nilHub.Publish(Event{Kind: KindChatTeardown})
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Type: TypeHello, ID: "x", TS: time.Now(), Payload: json.RawMessage(`{}`)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	bad := []Envelope{
		{V: 2, Type: TypeHello, ID: "x", TS: time.Now(), Payload: json.RawMessage(`{}`)},
		{V: Version, Type: "nope", ID: "x", TS: time.Now(), Payload: json.RawMessage(`{}`)},
		{V: Version, Type: TypeHello, TS: time.Now(), Payload: json.RawMessage(`{}`)},
		{V: Version, Type: TypeHello, ID: "x", Payload: json.RawMessage(`{}`)},
		{V: Version, Type: TypeHello, ID: "x", TS: time.Now()},
	}
	for i, e := range bad {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
