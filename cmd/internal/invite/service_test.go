package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/platform/platformtest"
	"bouncer/cmd/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, window time.Duration) (*Service, *platformtest.Fake, *store.MemoryStore) {
	t.Helper()

	fake := platformtest.New()
	st := store.NewMemoryStore()
	svc, err := NewService(fake, st, nil,
		WithWindow(window),
		WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, fake, st
}

func TestNewService_RejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, store.NewMemoryStore(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil issuer: got %v", err)
	}
	if _, err := NewService(platformtest.New(), nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil store: got %v", err)
	}
	if _, err := NewService(platformtest.New(), store.NewMemoryStore(), nil, WithWindow(-time.Second)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative window: got %v", err)
	}
}

func TestIssue(t *testing.T) {
	t.Parallel()

	dest := int64(-100)

	tests := []struct {
		name       string
		window     time.Duration
		dest       *int64
		inviteErr  error
		wantOK     bool
		wantCalls  int
		wantExpiry time.Time
	}{
		{name: "nil destination makes no call", window: 10 * time.Minute, dest: nil, wantOK: false, wantCalls: 0},
		{name: "expiring link", window: 10 * time.Minute, dest: &dest, wantOK: true, wantCalls: 1, wantExpiry: testNow.Add(10 * time.Minute)},
		{name: "zero window never expires", window: 0, dest: &dest, wantOK: true, wantCalls: 1},
		{
			name:      "platform refusal",
			window:    time.Minute,
			dest:      &dest,
			inviteErr: platform.NewError("createChatInviteLink", platform.Permanent, errors.New("not enough rights")),
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, fake, _ := newTestService(t, tt.window)
			fake.SetInviteErr(tt.inviteErr)

			link, ok := svc.Issue(context.Background(), tt.dest)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v want %v", ok, tt.wantOK)
			}
			calls := fake.InviteCalls()
			if len(calls) != tt.wantCalls {
				t.Fatalf("invite calls: got %d want %d", len(calls), tt.wantCalls)
			}
			if !ok {
				if link != (Link{}) {
					t.Fatalf("expected zero link on failure, got %+v", link)
				}
				return
			}
			if calls[0].MemberLimit != 1 {
				t.Fatalf("member limit: got %d want 1", calls[0].MemberLimit)
			}
			if !calls[0].ExpireAt.Equal(tt.wantExpiry) || !link.ExpiresAt.Equal(tt.wantExpiry) {
				t.Fatalf("expiry: call=%s link=%s want %s", calls[0].ExpireAt, link.ExpiresAt, tt.wantExpiry)
			}
			if link.URL != calls[0].Link || link.ChatID != dest {
				t.Fatalf("link mismatch: %+v vs %+v", link, calls[0])
			}
		})
	}
}

func TestMarkConsumed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, st := newTestService(t, time.Minute)

	if err := st.RecordGrant(ctx, store.GrantInput{UserID: 7, InviteLink: "L1", ChatID: -100, Now: testNow}); err != nil {
		t.Fatalf("RecordGrant: %v", err)
	}

	res, err := svc.MarkConsumed(ctx, Join{Link: "unknown", JoinedUserID: 7, ChatID: -100})
	if err != nil || res.Kind != NotFound {
		t.Fatalf("unknown link: got %+v, %v", res, err)
	}
	u, err := st.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.LinkUsedAt != nil {
		t.Fatalf("unknown link must not mutate")
	}

	res, err = svc.MarkConsumed(ctx, Join{Link: "L1", JoinedUserID: 7, ChatID: -100})
	if err != nil || res.Kind != Consumed || res.OwnerID != 7 {
		t.Fatalf("first join: got %+v, %v", res, err)
	}

	res, err = svc.MarkConsumed(ctx, Join{Link: "L1", JoinedUserID: 7, ChatID: -100})
	if err != nil || res.Kind != AlreadyUsed {
		t.Fatalf("second join: got %+v, %v", res, err)
	}

	u, err = st.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.LinkUsedAt == nil || !u.LinkUsedAt.Equal(testNow) {
		t.Fatalf("LinkUsedAt: got %v want %s", u.LinkUsedAt, testNow)
	}
}

func TestMarkConsumed_SharedLinkStampsOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, st := newTestService(t, time.Minute)

	if err := st.RecordGrant(ctx, store.GrantInput{UserID: 7, InviteLink: "L1", ChatID: -100, Now: testNow}); err != nil {
		t.Fatalf("RecordGrant: %v", err)
	}

	res, err := svc.MarkConsumed(ctx, Join{Link: "L1", JoinedUserID: 99, ChatID: -100})
	if err != nil || res.Kind != Consumed || res.OwnerID != 7 {
		t.Fatalf("shared join: got %+v, %v", res, err)
	}
}

func TestMarkConsumed_EmptyLink(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, time.Minute)
	res, err := svc.MarkConsumed(context.Background(), Join{Link: "  ", JoinedUserID: 1})
	if err != nil || res.Kind != NotFound {
		t.Fatalf("got %+v, %v", res, err)
	}
}

// regrantingStore replaces the owner's link after the lookup, as a concurrent
// assessment would between MarkConsumed's two store calls.
type regrantingStore struct {
	store.Store
	next string
}

func (s *regrantingStore) UserByInviteLink(ctx context.Context, link string) (store.UserRecord, error) {
	u, err := s.Store.UserByInviteLink(ctx, link)
	if err != nil {
		return u, err
	}
	if err := s.Store.RecordGrant(ctx, store.GrantInput{UserID: u.UserID, InviteLink: s.next, ChatID: -100, Now: testNow}); err != nil {
		return store.UserRecord{}, err
	}
	return u, nil
}

func TestMarkConsumed_RegrantBetweenLookupAndStamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	if err := mem.RecordGrant(ctx, store.GrantInput{UserID: 7, InviteLink: "L1", ChatID: -100, Now: testNow}); err != nil {
		t.Fatalf("RecordGrant: %v", err)
	}
	svc, err := NewService(platformtest.New(), &regrantingStore{Store: mem, next: "L2"}, nil,
		WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	res, err := svc.MarkConsumed(ctx, Join{Link: "L1", JoinedUserID: 7, ChatID: -100})
	if err != nil || res.Kind != NotFound {
		t.Fatalf("got %+v, %v", res, err)
	}

	u, err := mem.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.InviteLink == nil || *u.InviteLink != "L2" {
		t.Fatalf("InviteLink: got %v want L2", u.InviteLink)
	}
	if u.LinkUsedAt != nil {
		t.Fatalf("new link must stay unconsumed, got %v", u.LinkUsedAt)
	}
}
