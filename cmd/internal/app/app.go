// Package app wires the bouncer runtime: config, logging, the record store, the
// Telegram poller, the dispatcher and the admin HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"bouncer/cmd/internal/bot"
	"bouncer/cmd/internal/feed"
	"bouncer/cmd/internal/grant"
	"bouncer/cmd/internal/ingest"
	"bouncer/cmd/internal/invite"
	"bouncer/cmd/internal/metrics"
	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/store"
	"bouncer/cmd/internal/telegram"
	"bouncer/cmd/security/admintoken"
)

// ErrUpdatesClosed reports that the update stream ended while the app was still running.
var ErrUpdatesClosed = errors.New("app: update stream closed")

// Source is a platform that also delivers inbound events.
type Source interface {
	platform.Platform
	Updates(ctx context.Context, pollTimeout time.Duration) <-chan platform.Event
}

// Option overrides a collaborator New would otherwise build from Config.
type Option func(*options)

type options struct {
	source Source
	store  store.Store
}

// WithSource replaces the Telegram client.
func WithSource(src Source) Option { return func(o *options) { o.source = src } }

// WithStore replaces the store named by BOUNCER_DATABASE_URL. The caller keeps
// ownership; Shutdown does not close it.
func WithStore(st store.Store) Option { return func(o *options) { o.store = st } }

// App is the bouncer runtime.
type App struct {
	cfg Config
	log Logger

	store     store.Store
	ownsStore bool

	source     Source
	dispatcher *bot.Dispatcher
	metrics    *metrics.Metrics
	hub        *feed.Hub
	gateway    *feed.Gateway
	verifier   *admintoken.Verifier
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if err := cfg.Validate(); err != nil && !(errors.Is(err, ErrBotTokenMissing) && o.source != nil) {
		return nil, err
	}
	verifier, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	msgs, err := LoadMessages(cfg.MessagesFile)
	if err != nil {
		return nil, err
	}

	src := o.source
	if src == nil {
		tg, err := telegram.New(cfg.BotToken, log.With("component", "telegram"))
		if err != nil {
			return nil, err
		}
		src = tg
	}

	a := &App{cfg: cfg, log: log, source: src, verifier: verifier, store: o.store}
	if a.store == nil {
		st, err := OpenStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.ownsStore = true
	}

	if err := a.wire(msgs); err != nil {
		if a.ownsStore {
			_ = a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) wire(msgs bot.Messages) error {
	a.metrics = metrics.New()
	a.hub = feed.NewHub(a.log.With("component", "feed"), a.metrics)
	a.gateway = feed.NewGateway(a.log.With("component", "feed"), a.hub, feed.Options{
		AllowedOrigins: a.cfg.FeedAllowedOrigins,
		Authorize:      func(r *http.Request) bool { return a.verifier.Check(bearerToken(r)) },
	})

	ing := ingest.NewService(a.store, a.log,
		ingest.WithMetrics(a.metrics),
		ingest.WithFeed(a.hub),
	)
	inv, err := invite.NewService(a.source, a.store, a.log,
		invite.WithWindow(a.cfg.LinkExpiration),
		invite.WithMetrics(a.metrics),
		invite.WithFeed(a.hub),
	)
	if err != nil {
		return err
	}
	gm, err := grant.NewMachine(a.store, inv, a.cfg.UploadsNeeded, a.log,
		grant.WithMetrics(a.metrics),
		grant.WithFeed(a.hub),
	)
	if err != nil {
		return err
	}

	a.dispatcher, err = bot.New(bot.Deps{
		Platform: a.source,
		Store:    a.store,
		Ingest:   ing,
		Grants:   gm,
		Invites:  inv,
		Metrics:  a.metrics,
		Feed:     a.hub,
	}, bot.Config{
		Admins:           a.cfg.Admins,
		ReviewChatID:     a.cfg.ReviewChatID,
		ReviewMediaCount: a.cfg.ReviewMediaCount,
		ExportDir:        a.cfg.ExportDir,
		MaxBackground:    a.cfg.MaxBackground,
		ChatCacheSize:    a.cfg.ChatCacheSize,
		AlbumSettle:      a.cfg.AlbumSettle,
		Messages:         msgs,
	}, a.log.With("component", "bot"))
	return err
}

// Run polls for updates and serves HTTP until ctx is cancelled or either fails,
// then shuts everything down in order: dispatcher, HTTP server, store.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if a.cfg.HTTPAddr != "" {
		srv = a.newServer()
		g.Go(func() error {
			a.log.Info("server.start", "addr", a.cfg.HTTPAddr,
				"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
				"feed_url", feedURL(a.cfg.HTTPAddr, a.verifier != nil))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("server.fail", "err", err)
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		a.log.Info("bot.start", "poll_timeout", a.cfg.PollTimeout)
		err := a.dispatcher.Run(gctx, a.source.Updates(gctx, a.cfg.PollTimeout))
		if err == nil && gctx.Err() == nil {
			err = ErrUpdatesClosed
		}
		a.log.Info("bot.stop", "err", err)
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(srv)
	})

	return g.Wait()
}

func (a *App) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if err := a.dispatcher.Close(ctx); err != nil {
		a.log.Error("bot.close.fail", "err", err)
		errs = append(errs, err)
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			errs = append(errs, err)
		}
	}
	if a.ownsStore {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
			errs = append(errs, err)
		}
	}
	a.log.Info("server.stopped")
	return errors.Join(errs...)
}

// CleanDB runs one reachability sweep over the known chats and tears down the
// unreachable ones, then releases the app's resources.
func (a *App) CleanDB(ctx context.Context) (int, error) {
	removed, err := a.dispatcher.CleanDB(ctx)
	if serr := a.shutdown(nil); err == nil {
		err = serr
	}
	return removed, err
}

func (a *App) newServer() *http.Server {
	return &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
}

func feedURL(addr string, enabled bool) string {
	if !enabled {
		return ""
	}
	return wsBaseURL(runtimeBaseURL(addr)) + "/feed"
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
