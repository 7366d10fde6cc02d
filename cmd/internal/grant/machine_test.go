package grant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bouncer/cmd/internal/ingest"
	"bouncer/cmd/internal/invite"
	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/platform/platformtest"
	"bouncer/cmd/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store   *store.MemoryStore
	fake    *platformtest.Fake
	ingest  *ingest.Service
	machine *Machine
	clock   *testClock
}

func newHarness(t *testing.T, required int, window time.Duration) *harness {
	t.Helper()

	clk := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	fake := platformtest.New()

	inv, err := invite.NewService(fake, st, nil, invite.WithWindow(window), invite.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("invite.NewService: %v", err)
	}
	m, err := NewMachine(st, inv, required, nil, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return &harness{
		store:   st,
		fake:    fake,
		ingest:  ingest.NewService(st, nil, ingest.WithClock(clk.Now)),
		machine: m,
		clock:   clk,
	}
}

func (h *harness) setDest(t *testing.T, chatID *int64) {
	t.Helper()
	if err := store.SetDestinationChat(context.Background(), h.store, chatID); err != nil {
		t.Fatalf("SetDestinationChat: %v", err)
	}
}

func (h *harness) submit(t *testing.T, userID int64, uniqueID string) ingest.Outcome {
	t.Helper()
	out, err := h.ingest.Submit(context.Background(), ingest.Upload{
		UserID:       userID,
		FullName:     "Tester",
		ChatID:       userID,
		FileID:       "f-" + uniqueID,
		FileUniqueID: uniqueID,
		Kind:         store.MediaVideo,
	})
	if err != nil {
		t.Fatalf("Submit(%s): %v", uniqueID, err)
	}
	return out
}

func (h *harness) mustAssess(t *testing.T, userID int64) Decision {
	t.Helper()
	d, err := h.machine.Assess(context.Background(), userID)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	return d
}

func chat(id int64) *int64 { return &id }

func TestNewMachine_RejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, time.Minute)
	if _, err := NewMachine(h.store, nil, 1, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil issuer: %v", err)
	}
	if _, err := NewMachine(h.store, h.machine.issuer, 0, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero quota: %v", err)
	}
}

func TestAssess_ScenarioDestinationChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 10*time.Minute)
	h.setDest(t, chat(-100))

	if out := h.submit(t, 1, "a1"); out.Kind != ingest.Accepted || out.Count != 1 {
		t.Fatalf("a1: got %+v", out)
	}
	if d := h.mustAssess(t, 1); d.Kind != BelowQuota || d.Count != 1 {
		t.Fatalf("after a1: got %+v", d)
	}

	if out := h.submit(t, 1, "a1"); out.Kind != ingest.Duplicate || out.Count != 1 {
		t.Fatalf("a1 again: got %+v", out)
	}

	if out := h.submit(t, 1, "b1"); out.Kind != ingest.Accepted || out.Count != 2 {
		t.Fatalf("b1: got %+v", out)
	}
	d1 := h.mustAssess(t, 1)
	if d1.Kind != NewGrant || d1.Link == "" || !d1.FirstGrant {
		t.Fatalf("first grant: got %+v", d1)
	}

	h.setDest(t, chat(-200))
	d2 := h.mustAssess(t, 1)
	if d2.Kind != NewGrant {
		t.Fatalf("after destination change: got %+v", d2)
	}
	if d2.Link == d1.Link {
		t.Fatalf("expected a fresh link, got the same %q", d2.Link)
	}
	if d2.FirstGrant {
		t.Fatalf("re-grant must not be flagged as first grant")
	}

	u, err := h.store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.ChatID == nil || *u.ChatID != -200 || u.InviteLink == nil || *u.InviteLink != d2.Link {
		t.Fatalf("grant not overwritten: %+v", u)
	}
}

func TestAssess_ExistingLinkReused(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10*time.Minute)
	h.setDest(t, chat(-100))
	h.submit(t, 1, "x")

	first := h.mustAssess(t, 1)
	if first.Kind != NewGrant || first.Remaining != 10*time.Minute {
		t.Fatalf("first: got %+v", first)
	}

	h.clock.Advance(4 * time.Minute)
	again := h.mustAssess(t, 1)
	if again.Kind != ExistingLink || again.Link != first.Link {
		t.Fatalf("again: got %+v", again)
	}
	if again.Remaining != 6*time.Minute {
		t.Fatalf("remaining: got %s want 6m", again.Remaining)
	}
	if again.FirstGrant {
		t.Fatalf("existing link must not be flagged as first grant")
	}
	if n := len(h.fake.InviteCalls()); n != 1 {
		t.Fatalf("expected one invite call, got %d", n)
	}
}

func TestAssess_FreshLinkOnReExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10*time.Minute)
	h.setDest(t, chat(-100))
	h.submit(t, 1, "x")

	first := h.mustAssess(t, 1)
	h.clock.Advance(10 * time.Minute)

	second := h.mustAssess(t, 1)
	if second.Kind != NewGrant || second.Link == first.Link {
		t.Fatalf("expected fresh link after expiry, got %+v (prior %q)", second, first.Link)
	}
	if second.FirstGrant {
		t.Fatalf("re-grant flagged as first")
	}
}

func TestAssess_ConsumedLinkReplaced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, 1, 10*time.Minute)
	h.setDest(t, chat(-100))
	h.submit(t, 1, "x")

	first := h.mustAssess(t, 1)
	if _, err := h.store.MarkLinkUsed(ctx, 1, first.Link, h.clock.Now()); err != nil {
		t.Fatalf("MarkLinkUsed: %v", err)
	}

	second := h.mustAssess(t, 1)
	if second.Kind != NewGrant || second.Link == first.Link {
		t.Fatalf("got %+v", second)
	}
	u, err := h.store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.LinkUsedAt != nil {
		t.Fatalf("new grant must clear consumption")
	}
}

func TestAssess_NoDestinationSafety(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10*time.Minute)
	h.submit(t, 1, "x")

	d := h.mustAssess(t, 1)
	if d.Kind != NoDestination {
		t.Fatalf("got %+v", d)
	}
	if n := len(h.fake.InviteCalls()); n != 0 {
		t.Fatalf("expected no invite calls, got %d", n)
	}
	u, err := h.store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.GrantedAt != nil || u.InviteLink != nil {
		t.Fatalf("grant state mutated: %+v", u)
	}
}

func TestAssess_IssueFailureIsNoDestination(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10*time.Minute)
	h.setDest(t, chat(-100))
	h.submit(t, 1, "x")
	h.fake.SetInviteErr(platform.NewError("createChatInviteLink", platform.Permanent, errors.New("forbidden")))

	d := h.mustAssess(t, 1)
	if d.Kind != NoDestination {
		t.Fatalf("got %+v", d)
	}
	u, err := h.store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.GrantedAt != nil {
		t.Fatalf("failed issue must not record a grant")
	}
}

func TestAssess_ZeroWindowNeverExpires(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 0)
	h.setDest(t, chat(-100))
	h.submit(t, 1, "x")

	first := h.mustAssess(t, 1)
	if first.Kind != NewGrant || first.Remaining != 0 {
		t.Fatalf("first: got %+v", first)
	}
	if call := h.fake.InviteCalls()[0]; !call.ExpireAt.IsZero() {
		t.Fatalf("expected no expiry, got %s", call.ExpireAt)
	}

	h.clock.Advance(30 * 24 * time.Hour)
	again := h.mustAssess(t, 1)
	if again.Kind != ExistingLink || again.Link != first.Link {
		t.Fatalf("again: got %+v", again)
	}
}

func TestAssess_UnknownUserIsBelowQuota(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, time.Minute)
	d := h.mustAssess(t, 42)
	if d.Kind != BelowQuota || d.Count != 0 || d.Required != 3 {
		t.Fatalf("got %+v", d)
	}
}

func TestAssess_ConcurrentSingleGrant(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10*time.Minute)
	h.setDest(t, chat(-100))
	h.submit(t, 1, "x")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		newGrants int
		links     = map[string]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := h.machine.Assess(context.Background(), 1)
			if err != nil {
				t.Errorf("Assess: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if d.Kind == NewGrant {
				newGrants++
			}
			links[d.Link] = struct{}{}
		}()
	}
	wg.Wait()

	if newGrants != 1 {
		t.Fatalf("expected exactly one new grant, got %d", newGrants)
	}
	if len(links) != 1 {
		t.Fatalf("expected a single live link, got %d", len(links))
	}
	if n := h.machine.locks.size(); n != 0 {
		t.Fatalf("keyed locks leaked: %d", n)
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{BelowQuota, "below_quota"},
		{NewGrant, "new_grant"},
		{ExistingLink, "existing_link"},
		{NoDestination, "no_destination"},
		{Kind(0), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Fatalf("Kind(%d): got %q want %q", tt.kind, got, tt.want)
		}
	}
}
