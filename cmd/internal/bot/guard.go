package bot

import (
	"context"

	"bouncer/cmd/internal/platform"
)

// Request is what a route sees: the originating chat and user plus the
// triggering message or callback.
type Request struct {
	Chat     platform.Chat
	From     platform.User
	Message  *platform.Message
	Callback *platform.Callback
	Args     []string
}

// Guard decides whether a route may run. A denial is silent.
type Guard func(ctx context.Context, r *Request) bool

// PrivateOnly admits requests from one-to-one chats with the bot.
func PrivateOnly() Guard {
	return func(_ context.Context, r *Request) bool {
		return r.Chat.IsPrivate()
	}
}

// AdminOnly admits allowlisted users. An empty allowlist admits everyone.
func AdminOnly(admins map[int64]struct{}) Guard {
	return func(_ context.Context, r *Request) bool {
		if len(admins) == 0 {
			return true
		}
		_, ok := admins[r.From.ID]
		return ok
	}
}

// NotBanned denies banned users. A failed lookup denies too.
func (d *Dispatcher) NotBanned() Guard {
	return func(ctx context.Context, r *Request) bool {
		banned, err := d.store.IsBanned(ctx, r.From.ID)
		if err != nil {
			d.log.Warn("guard.ban_lookup.failed", "user_id", r.From.ID, "err", err)
			return false
		}
		return !banned
	}
}

func allow(ctx context.Context, r *Request, guards []Guard) bool {
	for _, g := range guards {
		if !g(ctx, r) {
			return false
		}
	}
	return true
}
