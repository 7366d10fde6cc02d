// Package grant decides, on every assessment, whether a user is below quota,
// already holds a usable link, needs a fresh one, or cannot be granted because
// no destination chat is configured.
//
// States per user:
//
//	NoGrant                   GrantedAt is nil
//	GrantedActiveLink         link set, unused, unexpired, issued for the current destination
//	GrantedConsumedOrExpired  GrantedAt set but the link is consumed, expired or stale
//
// A user leaving GrantedActiveLink is always issued a fresh link; a stale one
// is never handed out again.
package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bouncer/cmd/internal/feed"
	"bouncer/cmd/internal/invite"
	"bouncer/cmd/internal/metrics"
	"bouncer/cmd/internal/store"
)

// DefaultRequired is the upload quota when none is configured.
const DefaultRequired = 5

var ErrInvalidInput = errors.New("grant: invalid input")

// Kind classifies a Decision.
type Kind int

const (
	BelowQuota Kind = iota + 1
	NewGrant
	ExistingLink
	NoDestination
)

func (k Kind) String() string {
	switch k {
	case BelowQuota:
		return "below_quota"
	case NewGrant:
		return "new_grant"
	case ExistingLink:
		return "existing_link"
	case NoDestination:
		return "no_destination"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one assessment.
//
// Link is set for NewGrant and ExistingLink. Remaining is the time left on the
// link; it is zero when links never expire. FirstGrant marks the transition out
// of NoGrant and gates review forwarding.
type Decision struct {
	Kind       Kind
	Count      int
	Required   int
	Link       string
	Remaining  time.Duration
	FirstGrant bool
}

// Issuer mints links. *invite.Service satisfies it.
type Issuer interface {
	Issue(ctx context.Context, dest *int64) (invite.Link, bool)
	Window() time.Duration
}

// Machine evaluates the quota and grant rules.
type Machine struct {
	store    store.Store
	issuer   Issuer
	required int
	log      *slog.Logger
	metrics  *metrics.Metrics
	feed     feed.Publisher
	now      func() time.Time
	locks    keyedMutex
}

// Option configures a Machine.
type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

func WithFeed(p feed.Publisher) Option {
	return func(m *Machine) { m.feed = feed.OrNop(p) }
}

// NewMachine builds a Machine requiring required uploads per grant.
func NewMachine(st store.Store, issuer Issuer, required int, log *slog.Logger, opts ...Option) (*Machine, error) {
	if st == nil || issuer == nil || required < 1 {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Machine{
		store:    st,
		issuer:   issuer,
		required: required,
		log:      log,
		feed:     feed.Nop{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Required returns the configured upload quota.
func (m *Machine) Required() int { return m.required }

// Assess applies the grant rules to userID. Assessments for one user are
// serialized so racing callers never mint two live links.
func (m *Machine) Assess(ctx context.Context, userID int64) (Decision, error) {
	if userID == 0 {
		return Decision{}, ErrInvalidInput
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	u, err := m.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		u = store.UserRecord{UserID: userID}
	} else if err != nil {
		return Decision{}, fmt.Errorf("grant: load user: %w", err)
	}

	d := Decision{Count: u.UploadCount, Required: m.required}
	if u.UploadCount < m.required {
		d.Kind = BelowQuota
		m.record(d, userID, 0)
		return d, nil
	}

	dest, err := store.DestinationChat(ctx, m.store)
	if err != nil {
		return Decision{}, fmt.Errorf("grant: load destination: %w", err)
	}

	now := m.now()
	window := m.issuer.Window()
	if remaining, ok := activeLink(u, dest, now, window); ok {
		d.Kind = ExistingLink
		d.Link = *u.InviteLink
		d.Remaining = remaining
		m.record(d, userID, *dest)
		return d, nil
	}

	if dest == nil {
		d.Kind = NoDestination
		m.record(d, userID, 0)
		return d, nil
	}

	link, ok := m.issuer.Issue(ctx, dest)
	if !ok {
		d.Kind = NoDestination
		m.record(d, userID, *dest)
		return d, nil
	}

	if err := m.store.RecordGrant(ctx, store.GrantInput{
		UserID:     userID,
		InviteLink: link.URL,
		ChatID:     link.ChatID,
		Now:        now,
	}); err != nil {
		return Decision{}, fmt.Errorf("grant: record grant: %w", err)
	}

	d.Kind = NewGrant
	d.Link = link.URL
	d.Remaining = window
	d.FirstGrant = !u.HasGrant()
	m.record(d, userID, link.ChatID)
	return d, nil
}

// activeLink reports whether u holds a link that may be handed out again, and
// how long it has left.
func activeLink(u store.UserRecord, dest *int64, now time.Time, window time.Duration) (time.Duration, bool) {
	if u.InviteLink == nil || *u.InviteLink == "" || u.LinkUsedAt != nil || u.GrantedAt == nil {
		return 0, false
	}
	if dest == nil || u.ChatID == nil || *u.ChatID != *dest {
		return 0, false
	}
	if window == 0 {
		return 0, true
	}
	elapsed := now.Sub(*u.GrantedAt)
	if elapsed >= window {
		return 0, false
	}
	return window - elapsed, true
}

func (m *Machine) record(d Decision, userID, chatID int64) {
	m.metrics.Decision(d.Kind.String())

	var kind string
	switch d.Kind {
	case NewGrant:
		kind = feed.KindGrantIssued
		m.log.Info("grant.issued", "user_id", userID, "chat_id", chatID, "first", d.FirstGrant)
	case ExistingLink:
		kind = feed.KindGrantReused
	case NoDestination:
		kind = feed.KindGrantNoDestination
		m.log.Info("grant.no_destination", "user_id", userID, "count", d.Count)
	default:
		return
	}
	m.feed.Publish(feed.Event{
		Kind:   kind,
		At:     m.now(),
		UserID: userID,
		ChatID: chatID,
		Count:  d.Count,
	})
}
