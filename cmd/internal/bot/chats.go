package bot

import (
	"context"
	"errors"
	"fmt"

	"bouncer/cmd/internal/export"
	"bouncer/cmd/internal/feed"
	"bouncer/cmd/internal/invite"
	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/store"
)

func (d *Dispatcher) handleJoin(ctx context.Context, j platform.MemberJoined) error {
	res, err := d.invites.MarkConsumed(ctx, invite.Join{
		Link:         j.InviteLink,
		JoinedUserID: j.User.ID,
		ChatID:       j.Chat.ID,
	})
	if err != nil {
		return err
	}
	d.log.Debug("join.processed", "chat_id", j.Chat.ID, "user_id", j.User.ID, "result", res.Kind.String())
	return nil
}

func (d *Dispatcher) handleMembership(ctx context.Context, m platform.BotMembership) error {
	if m.Chat.IsPrivate() {
		// A user starting or blocking the bot is not a destination candidate.
		d.log.Debug("chat.membership.private_ignored", "chat_id", m.Chat.ID, "added", m.Added)
		return nil
	}
	if m.Added {
		if err := d.store.UpsertActiveChat(ctx, store.ActiveChat{ChatID: m.Chat.ID, Title: m.Chat.Title}); err != nil {
			return err
		}
		d.chats.add(m.Chat.ID, m.Chat.Title)
		d.log.Info("chat.joined", "chat_id", m.Chat.ID, "title", m.Chat.Title, "by", m.By.ID)
		return nil
	}
	return d.Teardown(ctx, m.Chat.ID, "removed")
}

// probe checks that chatID is still reachable. A permanent failure tears the
// chat down; a transient one only reports it unreachable for now.
func (d *Dispatcher) probe(ctx context.Context, chatID int64) (platform.Chat, bool) {
	chat, err := d.platform.GetChat(ctx, chatID)
	if err == nil {
		return chat, true
	}
	if !platform.IsPermanent(err) {
		d.log.Warn("chat.probe.transient", "chat_id", chatID, "err", err)
		return platform.Chat{}, false
	}
	d.log.Warn("chat.unreachable", "chat_id", chatID, "err", err)
	if terr := d.Teardown(ctx, chatID, "self_heal"); terr != nil {
		d.fail("teardown", terr)
	}
	return platform.Chat{}, false
}

// sweep probes every registered chat, refills the cache with the reachable
// ones and tears down the rest. It returns the number removed.
func (d *Dispatcher) sweep(ctx context.Context, trigger string) (int, error) {
	chats, err := d.store.ListActiveChats(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range chats {
		live, err := d.platform.GetChat(ctx, c.ChatID)
		switch {
		case err == nil:
			title := c.Title
			if live.Title != "" && live.Title != c.Title {
				title = live.Title
				if err := d.store.UpsertActiveChat(ctx, store.ActiveChat{ChatID: c.ChatID, Title: title}); err != nil {
					d.log.Warn("chat.retitle.failed", "chat_id", c.ChatID, "err", err)
				}
			}
			d.chats.add(c.ChatID, title)
		case platform.IsPermanent(err):
			d.log.Warn("chat.unreachable", "chat_id", c.ChatID, "title", c.Title, "trigger", trigger, "err", err)
			if err := d.Teardown(ctx, c.ChatID, trigger); err != nil {
				d.fail("teardown", err)
				continue
			}
			removed++
		default:
			// Keep it; the next sweep decides.
			d.chats.add(c.ChatID, c.Title)
			d.log.Warn("chat.probe.transient", "chat_id", c.ChatID, "trigger", trigger, "err", err)
		}
	}
	d.log.Info("chats.swept", "trigger", trigger, "checked", len(chats), "removed", removed)
	return removed, nil
}

// Teardown archives the users of chatID to CSV, then purges them with their
// uploads, forgets the chat and clears the destination if it pointed there.
// Nothing is purged when the archive cannot be written.
func (d *Dispatcher) Teardown(ctx context.Context, chatID int64, trigger string) error {
	title, err := d.store.ActiveChatTitle(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		title = fmt.Sprintf("chat_%d", chatID)
	} else if err != nil {
		return err
	}

	users, err := d.store.ListUsersByChat(ctx, chatID)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		export.SortByLastSeen(users)
		path, err := export.WriteDir(d.cfg.ExportDir, title, users, d.now())
		if err != nil {
			return err
		}
		d.log.Info("teardown.archived", "chat_id", chatID, "path", path, "users", len(users))
	}

	purged, err := d.store.DeleteUsersByChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := d.store.DeleteActiveChat(ctx, chatID); err != nil {
		return err
	}
	d.chats.remove(chatID)

	dest, err := store.DestinationChat(ctx, d.store)
	if err != nil {
		return err
	}
	if dest != nil && *dest == chatID {
		if err := store.SetDestinationChat(ctx, d.store, nil); err != nil {
			return err
		}
		d.log.Warn("destination.cleared", "chat_id", chatID, "trigger", trigger)
	}

	d.metrics.Teardown(trigger)
	d.feed.Publish(feed.Event{
		Kind:   feed.KindChatTeardown,
		At:     d.now(),
		ChatID: chatID,
		Count:  purged,
		Detail: trigger,
	})
	d.log.Info("teardown.done", "chat_id", chatID, "title", title, "trigger", trigger, "purged", purged)
	return nil
}

// CleanDB probes every registered chat and tears down the unreachable ones.
func (d *Dispatcher) CleanDB(ctx context.Context) (int, error) {
	return d.sweep(ctx, "cleandb")
}
