// Package bot routes inbound platform events to the upload, grant and chat
// registry handlers.
//
// Dispatch is a single stream: Run handles one event at a time and hands any
// chain that touches the platform or the store to a bounded background task.
// Album items are the exception; they are appended to the coalescer inline so
// one album always lands in one batch.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"bouncer/cmd/internal/album"
	"bouncer/cmd/internal/feed"
	"bouncer/cmd/internal/grant"
	"bouncer/cmd/internal/ingest"
	"bouncer/cmd/internal/invite"
	"bouncer/cmd/internal/metrics"
	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/store"
)

const (
	DefaultMaxBackground = 32
	DefaultConfirmDelay  = 3 * time.Second
	DefaultExportDir     = "exports"

	taskTimeout      = 2 * time.Minute
	callbackRegister = "activechats_"
)

var ErrInvalidInput = errors.New("bot: invalid input")

// Config is the behavior knobs of the dispatcher.
type Config struct {
	// Admins may run admin commands. Empty means anyone may.
	Admins []int64
	// ReviewChatID receives a user's recent uploads on first grant. Zero disables.
	ReviewChatID int64
	// ReviewMediaCount defaults to the upload quota.
	ReviewMediaCount int
	ExportDir        string
	MaxBackground    int64
	ChatCacheSize    int
	AlbumSettle      time.Duration
	// ConfirmDelay is how long the /register menu lingers after a choice.
	ConfirmDelay time.Duration
	Messages     Messages
}

// Deps are the collaborators the dispatcher drives.
type Deps struct {
	Platform platform.Platform
	Store    store.Store
	Ingest   *ingest.Service
	Grants   *grant.Machine
	Invites  *invite.Service
	Metrics  *metrics.Metrics
	Feed     feed.Publisher
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

type route struct {
	guards []Guard
	handle func(ctx context.Context, r *Request) error
}

// Dispatcher owns the event loop and every handler.
type Dispatcher struct {
	cfg      Config
	admins   map[int64]struct{}
	platform platform.Platform
	store    store.Store
	ingest   *ingest.Service
	grants   *grant.Machine
	invites  *invite.Service
	albums   *album.Coalescer
	chats    *chatCache
	log      *slog.Logger
	metrics  *metrics.Metrics
	feed     feed.Publisher
	now      func() time.Time

	routes   map[string]route
	callback route

	sem        *semaphore.Weighted
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

// New wires a Dispatcher. The album coalescer is owned by the dispatcher.
func New(deps Deps, cfg Config, log *slog.Logger) (*Dispatcher, error) {
	if deps.Platform == nil || deps.Store == nil || deps.Ingest == nil || deps.Grants == nil || deps.Invites == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBackground <= 0 {
		cfg.MaxBackground = DefaultMaxBackground
	}
	if cfg.ConfirmDelay < 0 {
		cfg.ConfirmDelay = 0
	} else if cfg.ConfirmDelay == 0 {
		cfg.ConfirmDelay = DefaultConfirmDelay
	}
	if strings.TrimSpace(cfg.ExportDir) == "" {
		cfg.ExportDir = DefaultExportDir
	}
	if cfg.ReviewMediaCount <= 0 {
		cfg.ReviewMediaCount = deps.Grants.Required()
	}
	cfg.Messages = cfg.Messages.Merge(DefaultMessages())

	chats, err := newChatCache(cfg.ChatCacheSize)
	if err != nil {
		return nil, fmt.Errorf("bot: chat cache: %w", err)
	}

	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:        cfg,
		admins:     make(map[int64]struct{}, len(cfg.Admins)),
		platform:   deps.Platform,
		store:      deps.Store,
		ingest:     deps.Ingest,
		grants:     deps.Grants,
		invites:    deps.Invites,
		chats:      chats,
		log:        log,
		metrics:    deps.Metrics,
		feed:       feed.OrNop(deps.Feed),
		now:        now,
		sem:        semaphore.NewWeighted(cfg.MaxBackground),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	for _, id := range cfg.Admins {
		d.admins[id] = struct{}{}
	}

	d.albums = album.New(d.drainAlbum, log,
		album.WithSettle(cfg.AlbumSettle),
		album.WithMetrics(deps.Metrics),
		album.WithContext(baseCtx),
	)

	user := []Guard{PrivateOnly(), d.NotBanned()}
	admin := []Guard{PrivateOnly(), AdminOnly(d.admins)}
	d.routes = map[string]route{
		"start":    {guards: user, handle: d.handleStart},
		"help":     {guards: user, handle: d.handleHelp},
		"reset":    {guards: user, handle: d.handleReset},
		"register": {guards: admin, handle: d.handleRegister},
		"chats":    {guards: admin, handle: d.handleChats},
		"csv":      {guards: admin, handle: d.handleCSV},
		"cleandb":  {guards: admin, handle: d.handleCleanDB},
		"ban":      {guards: admin, handle: d.handleBan},
		"unban":    {guards: admin, handle: d.handleUnban},
	}
	d.callback = route{guards: admin, handle: d.handleRegisterChoice}
	return d, nil
}

// Run warms the chat cache, then dispatches events until ctx is done or the
// channel closes. Call Close afterwards to drain albums and background tasks.
func (d *Dispatcher) Run(ctx context.Context, events <-chan platform.Event) error {
	d.spawn("warm", func(ctx context.Context) error {
		_, err := d.sweep(ctx, "warm")
		return err
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Dispatch(ev)
		}
	}
}

// Dispatch routes one event.
func (d *Dispatcher) Dispatch(ev platform.Event) {
	switch e := ev.(type) {
	case platform.Message:
		d.onMessage(e)
	case platform.Callback:
		d.onCallback(e)
	case platform.MemberJoined:
		d.noteChat(e.Chat)
		if e.InviteLink != "" {
			d.spawn("join", func(ctx context.Context) error { return d.handleJoin(ctx, e) })
		}
	case platform.BotMembership:
		d.spawn("membership", func(ctx context.Context) error { return d.handleMembership(ctx, e) })
	default:
		d.log.Debug("dispatch.ignored", "type", fmt.Sprintf("%T", ev))
	}
}

// Close stops accepting work, drains pending albums and waits for background
// tasks. Tasks still running when ctx ends are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	albumErr := d.albums.Close(ctx)

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelBase()
		return albumErr
	case <-ctx.Done():
		d.cancelBase()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) onMessage(m platform.Message) {
	if !m.Chat.IsPrivate() {
		d.noteChat(m.Chat)
	}

	if name, args, ok := m.Command(); ok {
		rt, found := d.routes[name]
		if !found {
			return
		}
		msg := m
		d.runRoute("cmd."+name, rt, &Request{Chat: m.Chat, From: m.From, Message: &msg, Args: args})
		return
	}

	if m.Media == nil || !m.Chat.IsPrivate() || m.From.ID == 0 {
		return
	}

	up := uploadOf(m)
	if m.MediaGroupID == "" {
		msg := m
		d.spawn("upload", func(ctx context.Context) error { return d.handleUpload(ctx, &msg, up) })
		return
	}
	if _, err := d.albums.Add(m.MediaGroupID, up); err != nil {
		d.log.Warn("album.add.failed", "group_id", m.MediaGroupID, "user_id", m.From.ID, "err", err)
	}
}

func (d *Dispatcher) onCallback(cb platform.Callback) {
	if !strings.HasPrefix(cb.Data, callbackRegister) {
		d.spawn("callback.answer", func(ctx context.Context) error {
			return d.platform.AnswerCallback(ctx, cb.ID, "")
		})
		return
	}
	chatType := platform.ChatGroup
	if cb.Message.ChatID == cb.From.ID {
		chatType = platform.ChatPrivate
	}
	c := cb
	d.runRoute("callback.register", d.callback, &Request{
		Chat:     platform.Chat{ID: cb.Message.ChatID, Type: chatType},
		From:     cb.From,
		Callback: &c,
	})
}

// noteChat registers a non-private chat unless the cache already knows it.
func (d *Dispatcher) noteChat(chat platform.Chat) {
	if chat.ID == 0 || chat.IsPrivate() || d.chats.known(chat.ID, chat.Title) {
		return
	}
	d.chats.add(chat.ID, chat.Title)
	d.spawn("chat.register", func(ctx context.Context) error {
		if err := d.store.UpsertActiveChat(ctx, store.ActiveChat{ChatID: chat.ID, Title: chat.Title}); err != nil {
			d.chats.remove(chat.ID)
			return err
		}
		d.log.Info("chat.registered", "chat_id", chat.ID, "title", chat.Title)
		return nil
	})
}

func (d *Dispatcher) runRoute(op string, rt route, r *Request) {
	d.spawn(op, func(ctx context.Context) error {
		if !allow(ctx, r, rt.guards) {
			d.log.Debug("guard.denied", "op", op, "user_id", r.From.ID, "chat_id", r.Chat.ID)
			return nil
		}
		return rt.handle(ctx, r)
	})
}

// spawn runs fn as a tracked background task, blocking while the task budget
// is exhausted. Panics and errors are logged with op.
func (d *Dispatcher) spawn(op string, fn func(ctx context.Context) error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("task.rejected", "op", op, "reason", "closed")
		return
	}
	d.tasks.Add(1)
	d.mu.Unlock()

	if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
		d.tasks.Done()
		return
	}
	d.metrics.TaskStarted()

	go func() {
		defer d.tasks.Done()
		defer d.sem.Release(1)
		defer d.metrics.TaskDone()
		defer d.recoverOp(op)

		ctx, cancel := context.WithTimeout(d.baseCtx, taskTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.fail(op, err)
		}
	}()
}

func (d *Dispatcher) recoverOp(op string) {
	if r := recover(); r != nil {
		d.metrics.HandlerError(op)
		d.log.Error("task.panic", "op", op, "panic", fmt.Sprint(r))
	}
}

func (d *Dispatcher) fail(op string, err error) {
	d.metrics.HandlerError(op)
	d.log.Error("task.failed", "op", op, "err", err)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, mode platform.ParseMode) error {
	_, err := d.platform.SendText(ctx, platform.Text{ChatID: chatID, Text: text, ParseMode: mode})
	return err
}

func (d *Dispatcher) isListedAdmin(userID int64) bool {
	_, ok := d.admins[userID]
	return ok
}

func profileOf(u platform.User) store.Profile {
	return store.Profile{UserID: u.ID, FullName: u.FullName(), Username: u.Username}
}

func uploadOf(m platform.Message) ingest.Upload {
	return ingest.Upload{
		UserID:       m.From.ID,
		FullName:     m.From.FullName(),
		Username:     m.From.Username,
		ChatID:       m.Chat.ID,
		FileID:       m.Media.FileID,
		FileUniqueID: m.Media.FileUniqueID,
		Kind:         store.MediaKind(m.Media.Kind),
	}
}
