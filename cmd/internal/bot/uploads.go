package bot

import (
	"context"
	"html"

	"bouncer/cmd/internal/album"
	"bouncer/cmd/internal/feed"
	"bouncer/cmd/internal/grant"
	"bouncer/cmd/internal/ingest"
	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/store"
)

// handleUpload ingests one standalone item, then answers with either a
// duplicate notice or the user's assessment.
func (d *Dispatcher) handleUpload(ctx context.Context, m *platform.Message, up ingest.Upload) error {
	req := &Request{Chat: m.Chat, From: m.From, Message: m}
	if !allow(ctx, req, []Guard{d.NotBanned()}) {
		return nil
	}

	if err := d.touch(ctx, profileOf(m.From)); err != nil {
		return err
	}
	out, err := d.ingest.Submit(ctx, up)
	if err != nil {
		return err
	}
	if out.Kind == ingest.Duplicate {
		return d.send(ctx, m.Chat.ID, textDuplicate, platform.ParsePlain)
	}

	dec, err := d.assess(ctx, m.From)
	if err != nil {
		return err
	}
	return d.send(ctx, m.Chat.ID, decisionText(dec, html.EscapeString(m.From.FullName()), d.invites.Window()), platform.ParseHTML)
}

// drainAlbum replays a settled album through ingestion and assesses the
// uploader exactly once.
func (d *Dispatcher) drainAlbum(ctx context.Context, b album.Batch) {
	if len(b.Items) == 0 {
		return
	}
	first := b.Items[0]

	banned, err := d.store.IsBanned(ctx, first.UserID)
	if err != nil {
		d.fail("album.drain", err)
		return
	}
	if banned {
		return
	}

	if err := d.touch(ctx, store.Profile{UserID: first.UserID, FullName: first.FullName, Username: first.Username}); err != nil {
		d.fail("album.touch", err)
		return
	}

	var accepted, duplicates int
	for _, item := range b.Items {
		out, err := d.ingest.Submit(ctx, item)
		if err != nil {
			d.fail("album.submit", err)
			continue
		}
		switch out.Kind {
		case ingest.Accepted:
			accepted++
		case ingest.Duplicate:
			duplicates++
		}
	}
	if accepted+duplicates == 0 {
		return
	}

	d.feed.Publish(feed.Event{
		Kind:   feed.KindAlbumDrained,
		At:     d.now(),
		UserID: first.UserID,
		ChatID: first.ChatID,
		Count:  accepted,
		Detail: b.GroupID,
	})
	d.log.Info("album.drained",
		"group_id", b.GroupID,
		"user_id", first.UserID,
		"accepted", accepted,
		"duplicates", duplicates,
	)

	user := platform.User{ID: first.UserID, FirstName: first.FullName, Username: first.Username}
	dec, err := d.assess(ctx, user)
	if err != nil {
		d.fail("album.assess", err)
		return
	}

	text := albumSummary(accepted, duplicates) + "\n\n" +
		decisionText(dec, html.EscapeString(first.FullName), d.invites.Window())
	if err := d.send(ctx, first.ChatID, text, platform.ParseHTML); err != nil {
		d.fail("album.reply", err)
	}
}

// assess runs the grant machine and its side effects: self-healing a dead
// destination and forwarding review media on a first grant.
func (d *Dispatcher) assess(ctx context.Context, u platform.User) (grant.Decision, error) {
	dec, err := d.grants.Assess(ctx, u.ID)
	if err != nil {
		return grant.Decision{}, err
	}

	switch {
	case dec.Kind == grant.NoDestination:
		dest, err := store.DestinationChat(ctx, d.store)
		if err != nil {
			d.log.Warn("destination.lookup.failed", "err", err)
		} else if dest != nil {
			d.probe(ctx, *dest)
		}
	case dec.FirstGrant:
		if err := d.forwardForReview(ctx, u); err != nil {
			d.fail("review.forward", err)
		}
	}
	return dec, nil
}

// touch records last-seen and, for users without a grant, the current destination.
func (d *Dispatcher) touch(ctx context.Context, p store.Profile) error {
	dest, err := store.DestinationChat(ctx, d.store)
	if err != nil {
		return err
	}
	return d.store.TouchUser(ctx, p, d.now(), dest)
}
