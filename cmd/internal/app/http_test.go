package app

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/platform/platformtest"
	"bouncer/cmd/internal/store"
	"bouncer/cmd/security/admintoken"
)

type fakeSource struct {
	*platformtest.Fake
	events chan platform.Event
}

func (s fakeSource) Updates(context.Context, time.Duration) <-chan platform.Event { return s.events }

const testAdminToken = "correct-horse-battery-staple"

func mustAdminHash(t *testing.T) string {
	t.Helper()
	cfg := admintoken.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	h, err := cfg.Hash(testAdminToken)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func mustApp(t *testing.T, st store.Store, tokenHash string) *App {
	t.Helper()
	cfg := Config{
		UploadsNeeded:  5,
		LinkExpiration: 10 * time.Minute,
		ExportDir:      t.TempDir(),
		AdminTokenHash: tokenHash,
	}
	src := fakeSource{Fake: platformtest.New(), events: make(chan platform.Event)}
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithSource(src), WithStore(st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func get(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	h := mustApp(t, st, "").Handler()

	if rr := get(t, h, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rr.Code)
	}
	if rr := get(t, h, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz=%d", rr.Code)
	}
	if rr := get(t, h, "/metrics", ""); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("metrics=%d", rr.Code)
	}

	_ = st.Close()
	if rr := get(t, h, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz after close=%d want=503", rr.Code)
	}
}

func TestHandler_AdminRoutesNeedConfiguredToken(t *testing.T) {
	t.Parallel()

	h := mustApp(t, store.NewMemoryStore(), "").Handler()
	if rr := get(t, h, "/admin/export", testAdminToken); rr.Code != http.StatusNotFound {
		t.Fatalf("export without hash=%d want=404", rr.Code)
	}
	if rr := get(t, h, "/feed", testAdminToken); rr.Code != http.StatusNotFound {
		t.Fatalf("feed without hash=%d want=404", rr.Code)
	}
}

func TestHandler_AdminExport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	vault := int64(-100)
	if err := st.UpsertActiveChat(ctx, store.ActiveChat{ChatID: vault, Title: "Vault"}); err != nil {
		t.Fatalf("upsert chat: %v", err)
	}
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if err := st.TouchUser(ctx, store.Profile{UserID: 42, FullName: "Ada L", Username: "ada"}, now, &vault); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := st.TouchUser(ctx, store.Profile{UserID: 7, FullName: "Other"}, now, nil); err != nil {
		t.Fatalf("touch: %v", err)
	}

	h := mustApp(t, st, mustAdminHash(t)).Handler()

	if rr := get(t, h, "/admin/export", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token=%d want=401", rr.Code)
	}
	if rr := get(t, h, "/admin/export", "wrong-token-wrong-token"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token=%d want=401", rr.Code)
	}
	if rr := get(t, h, "/admin/export?chat_id=abc", testAdminToken); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad chat_id=%d want=400", rr.Code)
	}

	rr := get(t, h, "/admin/export?chat_id=-100", testAdminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("export=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content-type=%q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "users_Vault_") {
		t.Fatalf("content-disposition=%q", cd)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}

	rows, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "42" || rows[1][1] != "Ada L" {
		t.Fatalf("rows=%v", rows)
	}

	if rr := get(t, h, "/feed", "wrong-token-wrong-token"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("feed bad token=%d want=401", rr.Code)
	}

	all := get(t, h, "/admin/export?token="+testAdminToken, "")
	rows, err = csv.NewReader(all.Body).ReadAll()
	if err != nil || len(rows) != 3 {
		t.Fatalf("all rows=%v err=%v", rows, err)
	}
}

func TestNew_RejectsBadAdminHash(t *testing.T) {
	t.Parallel()

	cfg := Config{UploadsNeeded: 5, AdminTokenHash: "not-a-hash"}
	src := fakeSource{Fake: platformtest.New(), events: make(chan platform.Event)}
	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithSource(src), WithStore(store.NewMemoryStore())); err == nil {
		t.Fatalf("expected error for malformed admin hash")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	a := mustApp(t, store.NewMemoryStore(), "")

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run=%v want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestRun_FailsWhenUpdatesEnd(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	src := fakeSource{Fake: platformtest.New(), events: make(chan platform.Event)}
	a, err := New(context.Background(), Config{UploadsNeeded: 5, ExportDir: t.TempDir()},
		slog.New(slog.NewTextHandler(io.Discard, nil)), WithSource(src), WithStore(st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	close(src.events)

	if err := a.Run(context.Background()); err != ErrUpdatesClosed {
		t.Fatalf("Run=%v want=%v", err, ErrUpdatesClosed)
	}
}
