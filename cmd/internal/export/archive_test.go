package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bouncer/cmd/internal/store"
)

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, b := int64(-200), int64(-100)
	if err := st.UpsertActiveChat(ctx, store.ActiveChat{ChatID: b, Title: "Vault Room"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	touches := []struct {
		id   int64
		dest *int64
		at   time.Time
	}{
		{id: 1, dest: &b, at: now},
		{id: 2, dest: &b, at: now.Add(time.Hour)},
		{id: 3, dest: &a, at: now},
		{id: 4, dest: nil, at: now},
	}
	for _, tc := range touches {
		if err := st.TouchUser(ctx, store.Profile{UserID: tc.id, FullName: "u"}, tc.at, tc.dest); err != nil {
			t.Fatalf("touch %d: %v", tc.id, err)
		}
	}
	return st
}

func TestChatTitle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := seedStore(t)

	cases := []struct {
		id   int64
		want string
	}{
		{id: 0, want: "unassigned"},
		{id: -100, want: "Vault Room"},
		{id: -200, want: "chat_-200"},
	}
	for _, tc := range cases {
		got, err := ChatTitle(ctx, st, tc.id)
		if err != nil || got != tc.want {
			t.Fatalf("ChatTitle(%d)=%q,%v want=%q", tc.id, got, err, tc.want)
		}
	}
}

func TestArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	paths, err := Archive(context.Background(), seedStore(t), dir, now)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	want := []string{
		"users_chat_-200_20260302_08-30.csv",
		"users_Vault_Room_20260302_08-30.csv",
		"users_unassigned_20260302_08-30.csv",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths=%v", paths)
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] || filepath.Dir(p) != dir {
			t.Fatalf("paths[%d]=%q want %q in %q", i, p, want[i], dir)
		}
	}
}

func TestWriteChat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := seedStore(t)
	vault := int64(-100)

	var buf bytes.Buffer
	if err := WriteChat(ctx, st, &buf, &vault); err != nil {
		t.Fatalf("WriteChat: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != 3 || strings.Join(rows[0], ",") != strings.Join(Header, ",") {
		t.Fatalf("rows=%v", rows)
	}
	// Most recently seen first.
	if rows[1][0] != "2" || rows[2][0] != "1" {
		t.Fatalf("order=%v", rows)
	}

	buf.Reset()
	if err := WriteChat(ctx, st, &buf, nil); err != nil {
		t.Fatalf("WriteChat(all): %v", err)
	}
	rows, _ = csv.NewReader(&buf).ReadAll()
	if len(rows) != 5 {
		t.Fatalf("all rows=%d want 5", len(rows))
	}
}
