package app

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bouncer/cmd/internal/export"
)

// Handler returns the admin HTTP surface wrapped in request logging.
//
// /feed and /admin/export are mounted only when an admin token hash is configured.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.store.Ping(ctx); err != nil {
			a.log.Info("readyz.store.not_ready", "err", err)
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", a.metrics.Handler())

	if a.verifier != nil {
		mux.Handle("GET /feed", a.gateway)
		mux.Handle("GET /admin/export", WithSecurityHeaders(requireAdmin(a.verifier, http.HandlerFunc(a.handleExport))))
	}

	return WithRequestLogging(mux, a.log)
}

func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	var chatID *int64
	name := "all"
	if raw := strings.TrimSpace(r.URL.Query().Get("chat_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid chat_id", http.StatusBadRequest)
			return
		}
		chatID = &id
		title, err := export.ChatTitle(r.Context(), a.store, id)
		if err != nil {
			a.log.Error("export.title.fail", "chat_id", id, "err", err)
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		name = title
	}

	var buf strings.Builder
	if err := export.WriteChat(r.Context(), a.store, &buf, chatID); err != nil {
		a.log.Error("export.fail", "err", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(name, time.Now().UTC())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(buf.String()))
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its websocket scheme.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
