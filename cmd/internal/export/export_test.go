package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bouncer/cmd/internal/store"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Plain", "Plain"},
		{"My Chat", "My_Chat"},
		{`a/b\c`, "a_b_c"},
		{`What? "Now" <x>|y*z:`, "What_Now_x_y_z_"},
		{"tabs\tand\n  spaces", "tabs_and_spaces"},
		{"", "chat"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Fatalf("SanitizeFilename(%q): got %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got, want := FileName("Club Room", now), "users_Club_Room_20260102_03-04.csv"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	handle := "alice"
	link := "https://t.me/+abc"
	chatID := int64(-100)

	var buf bytes.Buffer
	err := WriteCSV(&buf, []store.UserRecord{
		{UserID: 1, FullName: "Alice A", Username: &handle, LastSeenAt: &seen, UploadCount: 3, GrantedAt: &seen, InviteLink: &link, ChatID: &chatID},
		{UserID: 2, FullName: "Bob, Jr."},
	})
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: got %d want 3", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(Header, ",") {
		t.Fatalf("header: got %v", rows[0])
	}
	want := []string{"1", "Alice A", "alice", "2026-01-02 03:04:05", "", "3", "2026-01-02 03:04:05", link, "", "-100"}
	if strings.Join(rows[1], "|") != strings.Join(want, "|") {
		t.Fatalf("row 1:\n got %v\nwant %v", rows[1], want)
	}
	if rows[2][1] != "Bob, Jr." || rows[2][9] != "" {
		t.Fatalf("row 2: got %v", rows[2])
	}
}

func TestGroupByChat(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	a, b := int64(-1), int64(-2)

	groups := GroupByChat([]store.UserRecord{
		{UserID: 1, ChatID: &a, LastSeenAt: &t1},
		{UserID: 2, ChatID: &a},
		{UserID: 3, ChatID: &a, LastSeenAt: &t2},
		{UserID: 4, ChatID: &b},
		{UserID: 5},
	})

	if len(groups) != 3 {
		t.Fatalf("groups: got %d want 3", len(groups))
	}
	var order []int64
	for _, u := range groups[a] {
		order = append(order, u.UserID)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("chat a order: got %v want [3 1 2]", order)
	}
	if len(groups[0]) != 1 || groups[0][0].UserID != 5 {
		t.Fatalf("unassigned bucket: got %+v", groups[0])
	}
}

func TestWriteDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive")
	now := time.Date(2026, 5, 6, 7, 8, 0, 0, time.UTC)

	path, err := WriteDir(dir, "Gone Chat", []store.UserRecord{{UserID: 9, FullName: "Z"}}, now)
	if err != nil {
		t.Fatalf("WriteDir: %v", err)
	}
	if filepath.Base(path) != "users_Gone_Chat_20260506_07-08.csv" {
		t.Fatalf("path: got %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "9,Z,") {
		t.Fatalf("content missing row: %q", data)
	}
}
