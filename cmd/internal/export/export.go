// Package export renders user records as CSV, one file per chat.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"bouncer/cmd/internal/store"
)

// Header is the column order: user id, then the record fields in declaration order.
var Header = []string{
	"user_id",
	"full_name",
	"username",
	"last_seen",
	"last_upload",
	"upload_count",
	"granted_at",
	"invite_link",
	"link_used_at",
	"chat_id",
}

const timeLayout = "2006-01-02 15:04:05"

var unsafeRun = regexp.MustCompile(`[\\/*?:"<>|\s]+`)

// SanitizeFilename replaces runs of path-hostile characters and whitespace with "_".
func SanitizeFilename(title string) string {
	safe := unsafeRun.ReplaceAllString(title, "_")
	if safe == "" {
		return "chat"
	}
	return safe
}

// FileName returns users_<safe title>_<YYYYMMDD_HH-MM>.csv.
func FileName(title string, now time.Time) string {
	return fmt.Sprintf("users_%s_%s.csv", SanitizeFilename(title), now.Format("20060102_15-04"))
}

// WriteCSV writes a header and one row per user.
func WriteCSV(w io.Writer, users []store.UserRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, u := range users {
		if err := cw.Write(row(u)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(u store.UserRecord) []string {
	return []string{
		strconv.FormatInt(u.UserID, 10),
		u.FullName,
		strPtr(u.Username),
		timePtr(u.LastSeenAt),
		timePtr(u.LastUploadAt),
		strconv.Itoa(u.UploadCount),
		timePtr(u.GrantedAt),
		strPtr(u.InviteLink),
		timePtr(u.LinkUsedAt),
		int64Ptr(u.ChatID),
	}
}

// GroupByChat buckets users by their recorded chat. Users without a chat go
// under 0. Each bucket is ordered by last-seen, newest first, never-seen last.
func GroupByChat(users []store.UserRecord) map[int64][]store.UserRecord {
	out := make(map[int64][]store.UserRecord)
	for _, u := range users {
		var key int64
		if u.ChatID != nil {
			key = *u.ChatID
		}
		out[key] = append(out[key], u)
	}
	for _, bucket := range out {
		SortByLastSeen(bucket)
	}
	return out
}

// SortByLastSeen orders users newest-seen first; users never seen sort last.
func SortByLastSeen(users []store.UserRecord) {
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i].LastSeenAt, users[j].LastSeenAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// WriteDir writes users to dir/FileName(title, now), creating dir if needed,
// and returns the written path.
func WriteDir(dir, title string, users []store.UserRecord, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("export: mkdir: %w", err)
	}
	path := filepath.Join(dir, FileName(title, now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("export: open: %w", err)
	}
	if err := WriteCSV(f, users); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("export: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("export: close: %w", err)
	}
	return path, nil
}

func strPtr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func timePtr(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(timeLayout)
}

func int64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
