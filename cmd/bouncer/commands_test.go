package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bouncer/cmd/internal/store"
	"bouncer/cmd/security/admintoken"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashAdminToken(t *testing.T) {
	t.Setenv("BOUNCER_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("BOUNCER_ARGON2_ITERATIONS", "1")

	out, err := runCmd(t, "hash-admin-token", "a-long-enough-admin-token")
	if err != nil {
		t.Fatalf("hash-admin-token: %v", err)
	}
	hash := strings.TrimSpace(out)
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected output %q", out)
	}

	cfg, err := admintoken.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	v, err := admintoken.NewVerifier(cfg, hash)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if !v.Check("a-long-enough-admin-token") || v.Check("another-admin-token") {
		t.Fatalf("hash does not verify its own token only")
	}
}

func TestHashAdminToken_Generates(t *testing.T) {
	t.Setenv("BOUNCER_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("BOUNCER_ARGON2_ITERATIONS", "1")

	out, err := runCmd(t, "hash-admin-token")
	if err != nil {
		t.Fatalf("hash-admin-token: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] == "" || !strings.HasPrefix(lines[1], "$argon2id$") {
		t.Fatalf("want token then hash, got %q", out)
	}
}

func TestExport_WritesOneFilePerChat(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bouncer.db")

	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	vault := int64(-100)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if err := st.UpsertActiveChat(ctx, store.ActiveChat{ChatID: vault, Title: "Vault"}); err != nil {
		t.Fatalf("upsert chat: %v", err)
	}
	if err := st.TouchUser(ctx, store.Profile{UserID: 1, FullName: "A"}, now, &vault); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := st.TouchUser(ctx, store.Profile{UserID: 2, FullName: "B"}, now, nil); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	t.Setenv("BOUNCER_DATABASE_URL", "sqlite:"+dbPath)
	t.Setenv("BOUNCER_LOG_LEVEL", "error")
	outDir := filepath.Join(dir, "out")

	out, err := runCmd(t, "export", "--dir", outDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	paths := strings.Fields(out)
	if len(paths) != 2 {
		t.Fatalf("paths=%v want 2", paths)
	}
	if !strings.Contains(filepath.Base(paths[0]), "users_Vault_") || !strings.Contains(filepath.Base(paths[1]), "users_unassigned_") {
		t.Fatalf("paths=%v", paths)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
	}
}
