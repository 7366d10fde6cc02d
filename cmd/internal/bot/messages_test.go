package bot

import (
	"testing"
	"time"

	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/store"
)

func TestFormatRemaining(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "less than one minute"},
		{0, "less than one minute"},
		{time.Minute, "1 minute"},
		{9*time.Minute + 59*time.Second, "9 minutes"},
		{time.Hour, "1 hour and 0 minutes"},
		{61 * time.Minute, "1 hour and 1 minute"},
		{150 * time.Minute, "2 hours and 30 minutes"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.in); got != tt.want {
			t.Fatalf("FormatRemaining(%s): got %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegisterKeyboard_TwoColumns(t *testing.T) {
	t.Parallel()

	rows := registerKeyboard([]store.ActiveChat{
		{ChatID: -1, Title: "A"},
		{ChatID: -2, Title: "B"},
		{ChatID: -3, Title: "C"},
	})
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 2 {
		t.Fatalf("layout: %+v", rows)
	}
	want := platform.Button{Text: "None", Data: "activechats_None"}
	if rows[1][1] != want {
		t.Fatalf("last button: got %+v want %+v", rows[1][1], want)
	}
	if rows[0][0].Data != "activechats_-1" {
		t.Fatalf("first button: %+v", rows[0][0])
	}
}

func TestReviewBatches(t *testing.T) {
	t.Parallel()

	var uploads []store.UploadRecord
	for i := 0; i < 12; i++ {
		uploads = append(uploads, store.UploadRecord{FileID: "v", Kind: store.MediaVideo})
	}
	uploads = append(uploads, store.UploadRecord{FileID: "d", Kind: store.MediaDocument})

	batches := reviewBatches(uploads, "cap")
	if len(batches) != 3 {
		t.Fatalf("batches: got %d want 3", len(batches))
	}
	if len(batches[0]) != 1 || batches[0][0].Kind != platform.MediaDocument || batches[0][0].Caption != "cap" {
		t.Fatalf("first batch: %+v", batches[0])
	}
	if len(batches[1]) != platform.MaxAlbumSize || len(batches[2]) != 2 {
		t.Fatalf("album sizes: %d, %d", len(batches[1]), len(batches[2]))
	}
}

func TestMessages_Merge(t *testing.T) {
	t.Parallel()

	got := Messages{Start: "custom"}.Merge(DefaultMessages())
	if got.Start != "custom" || got.Help != DefaultMessages().Help || got.Setup == "" {
		t.Fatalf("merge: %+v", got)
	}
}
