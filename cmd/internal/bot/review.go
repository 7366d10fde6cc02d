package bot

import (
	"context"
	"fmt"

	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/store"
)

// forwardForReview posts the user's most recent uploads to the review chat.
// Photos and videos go out as albums of at most platform.MaxAlbumSize;
// animations and documents cannot share an album and go out one by one.
func (d *Dispatcher) forwardForReview(ctx context.Context, u platform.User) error {
	if d.cfg.ReviewChatID == 0 {
		return nil
	}
	uploads, err := d.store.RecentUploads(ctx, u.ID, d.cfg.ReviewMediaCount)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		return nil
	}

	batches := reviewBatches(uploads, reviewCaption(u))
	for _, items := range batches {
		if err := d.platform.SendMedia(ctx, d.cfg.ReviewChatID, items); err != nil {
			return err
		}
	}
	d.log.Info("review.forwarded", "user_id", u.ID, "items", len(uploads), "posts", len(batches))
	return nil
}

func reviewCaption(u platform.User) string {
	name := u.FullName()
	if u.Username != "" {
		return fmt.Sprintf("Media from %s (@%s, id %d)", name, u.Username, u.ID)
	}
	return fmt.Sprintf("Media from %s (id %d)", name, u.ID)
}

func reviewBatches(uploads []store.UploadRecord, caption string) [][]platform.MediaItem {
	var (
		out     [][]platform.MediaItem
		grouped []platform.MediaItem
	)
	for _, up := range uploads {
		item := platform.MediaItem{Kind: platform.MediaKind(up.Kind), FileID: up.FileID}
		switch up.Kind {
		case store.MediaPhoto, store.MediaVideo:
			grouped = append(grouped, item)
		default:
			out = append(out, []platform.MediaItem{item})
		}
	}
	for i := 0; i < len(grouped); i += platform.MaxAlbumSize {
		end := min(i+platform.MaxAlbumSize, len(grouped))
		out = append(out, grouped[i:end])
	}
	if len(out) > 0 {
		out[0][0].Caption = caption
	}
	return out
}
