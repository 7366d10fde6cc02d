// Package invite issues single-use, time-limited invite links to the
// destination chat and records their consumption when a user joins.
package invite

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bouncer/cmd/internal/feed"
	"bouncer/cmd/internal/metrics"
	"bouncer/cmd/internal/store"
)

// MemberLimit is fixed: every link admits exactly one join.
const MemberLimit = 1

// DefaultWindow is the link lifetime when none is configured.
const DefaultWindow = 10 * time.Minute

// Issuer is the platform capability the service needs to mint links.
type Issuer interface {
	CreateInviteLink(ctx context.Context, chatID int64, expireAt time.Time, memberLimit int) (string, error)
}

// Link is a freshly minted invite. ExpiresAt is zero when links never expire.
type Link struct {
	URL       string
	ChatID    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Join is a membership event carrying the invite link that admitted the user.
type Join struct {
	Link         string
	JoinedUserID int64
	ChatID       int64
}

// ConsumeKind classifies a MarkConsumed call.
type ConsumeKind int

const (
	NotFound ConsumeKind = iota + 1
	AlreadyUsed
	Consumed
)

func (k ConsumeKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyUsed:
		return "already_used"
	case Consumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// ConsumeResult reports what MarkConsumed did. OwnerID is zero for NotFound.
type ConsumeResult struct {
	Kind    ConsumeKind
	OwnerID int64
}

// Service manages invite issuance and consumption.
type Service struct {
	issuer  Issuer
	store   store.Store
	window  time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	feed    feed.Publisher
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service) error

// WithWindow sets the link lifetime. Zero means links never expire.
func WithWindow(d time.Duration) Option {
	return func(s *Service) error {
		if d < 0 {
			return ErrInvalidInput
		}
		s.window = d
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

func WithFeed(p feed.Publisher) Option {
	return func(s *Service) error {
		s.feed = feed.OrNop(p)
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(issuer Issuer, st store.Store, log *slog.Logger, opts ...Option) (*Service, error) {
	if issuer == nil || st == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		issuer: issuer,
		store:  st,
		window: DefaultWindow,
		log:    log,
		feed:   feed.Nop{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Window returns the configured link lifetime (zero = no expiry).
func (s *Service) Window() time.Duration { return s.window }

// Issue mints a link to dest. It reports false without calling the platform
// when dest is nil, and false when the platform refuses. Failures are logged,
// never returned: the caller treats both cases as "no destination".
func (s *Service) Issue(ctx context.Context, dest *int64) (Link, bool) {
	if dest == nil {
		s.metrics.InviteIssued("no_destination")
		return Link{}, false
	}

	now := s.now()
	var expireAt time.Time
	if s.window > 0 {
		expireAt = now.Add(s.window)
	}

	url, err := s.issuer.CreateInviteLink(ctx, *dest, expireAt, MemberLimit)
	if err == nil && strings.TrimSpace(url) == "" {
		err = errors.New("invite: platform returned empty link")
	}
	if err != nil {
		s.metrics.InviteIssued("error")
		s.log.Warn("invite.issue.failed", "chat_id", *dest, "err", err)
		return Link{}, false
	}

	s.metrics.InviteIssued("ok")
	return Link{URL: url, ChatID: *dest, IssuedAt: now, ExpiresAt: expireAt}, true
}

// MarkConsumed stamps the owner of j.Link as having used it. Unknown links and
// links already consumed are reported as results, not errors, and mutate nothing.
func (s *Service) MarkConsumed(ctx context.Context, j Join) (ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return ConsumeResult{}, err
	}
	link := strings.TrimSpace(j.Link)
	if link == "" {
		s.metrics.InviteConsumed(NotFound.String())
		return ConsumeResult{Kind: NotFound}, nil
	}

	owner, err := s.store.UserByInviteLink(ctx, link)
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.InviteConsumed(NotFound.String())
		s.log.Debug("invite.consume.unknown", "chat_id", j.ChatID, "joined_user_id", j.JoinedUserID)
		return ConsumeResult{Kind: NotFound}, nil
	}
	if err != nil {
		return ConsumeResult{}, err
	}

	res := ConsumeResult{OwnerID: owner.UserID}
	if owner.LinkUsedAt != nil {
		res.Kind = AlreadyUsed
		s.metrics.InviteConsumed(res.Kind.String())
		return res, nil
	}

	if j.JoinedUserID != 0 && j.JoinedUserID != owner.UserID {
		s.log.Warn("invite.consume.shared_link",
			"owner_id", owner.UserID,
			"joined_user_id", j.JoinedUserID,
			"chat_id", j.ChatID,
		)
	}

	now := s.now()
	changed, err := s.store.MarkLinkUsed(ctx, owner.UserID, link, now)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// The owner was reset or re-granted between lookup and stamp.
		s.metrics.InviteConsumed(NotFound.String())
		return ConsumeResult{Kind: NotFound}, nil
	case err != nil:
		return ConsumeResult{}, err
	case !changed:
		res.Kind = AlreadyUsed
		s.metrics.InviteConsumed(res.Kind.String())
		return res, nil
	}

	res.Kind = Consumed
	s.metrics.InviteConsumed(res.Kind.String())
	s.feed.Publish(feed.Event{
		Kind:   feed.KindInviteConsumed,
		At:     now,
		UserID: owner.UserID,
		ChatID: j.ChatID,
	})
	s.log.Info("invite.consumed", "owner_id", owner.UserID, "chat_id", j.ChatID)
	return res, nil
}
