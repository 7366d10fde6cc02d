// Package ingest accepts single media submissions, deduplicates them by
// content identity and advances the submitter's upload count.
package ingest

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

// ErrInvalidInput is returned for submissions missing identity or content fields.
var ErrInvalidInput = errors.New("ingest: invalid input")

// OutcomeKind classifies a submission.
type OutcomeKind int

const (
	Accepted OutcomeKind = iota + 1
	Duplicate
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Upload is one media item as received from a user.
type Upload struct {
	UserID       int64
	FullName     string
	Username     string
	ChatID       int64
	FileID       string
	FileUniqueID string
	Kind         store.MediaKind
}

// Outcome is the result of Submit. Count is the user's count after the call.
type Outcome struct {
	Kind  OutcomeKind
	Count int
}

// Service is the upload ingestion entrypoint.
type Service struct {
	store   store.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	feed    feed.Publisher
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics reports outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithFeed publishes outcomes to p.
func WithFeed(p feed.Publisher) Option {
	return func(s *Service) { s.feed = feed.OrNop(p) }
}

// NewService constructs a Service over st.
func NewService(st store.Store, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store: st,
		log:   log,
		feed:  feed.Nop{},
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit records u unless the user already submitted the same content.
//
// Duplicates mutate nothing. Concurrent submissions are serialized per user by the store,
// so exactly one of several identical submissions is Accepted and distinct ones never lose
// an increment. Store failures are returned; they are never reported as duplicates.
func (s *Service) Submit(ctx context.Context, u Upload) (Outcome, error) {
	if u.UserID == 0 || strings.TrimSpace(u.FileUniqueID) == "" || strings.TrimSpace(u.FileID) == "" {
		return Outcome{}, ErrInvalidInput
	}
	if u.Kind == "" {
		u.Kind = store.MediaVideo
	}
	if !u.Kind.Valid() {
		return Outcome{}, ErrInvalidInput
	}

	res, err := s.store.RecordUpload(ctx, store.UploadInput{
		Profile:      store.Profile{UserID: u.UserID, FullName: u.FullName, Username: u.Username},
		ChatID:       u.ChatID,
		FileID:       u.FileID,
		FileUniqueID: u.FileUniqueID,
		Kind:         u.Kind,
		Now:          s.now(),
	})
	if err != nil {
		s.metrics.Upload("error")
		return Outcome{}, err
	}

	out := Outcome{Kind: Accepted, Count: res.Count}
	kind := feed.KindUploadAccepted
	if res.Duplicate {
		out.Kind = Duplicate
		kind = feed.KindUploadDuplicate
	}

	s.metrics.Upload(out.Kind.String())
	s.feed.Publish(feed.Event{Kind: kind, UserID: u.UserID, ChatID: u.ChatID, Count: out.Count})
	s.log.Debug("upload."+out.Kind.String(),
		"user_id", u.UserID,
		"file_unique_id", u.FileUniqueID,
		"kind", string(u.Kind),
		"count", out.Count,
	)
	return out, nil
}
