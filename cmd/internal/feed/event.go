package feed

import "time"

// Event kinds published by the bot.
const (
	KindUploadAccepted     = "upload.accepted"
	KindUploadDuplicate    = "upload.duplicate"
	KindAlbumDrained       = "album.drained"
	KindGrantIssued        = "grant.issued"
	KindGrantReused        = "grant.reused"
	KindGrantNoDestination = "grant.no_destination"
	KindInviteConsumed     = "invite.consumed"
	KindChatTeardown       = "chat.teardown"
)

// Event is one observable state change. It is also the TypeEvent payload.
type Event struct {
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	UserID int64     `json:"user_id,omitempty"`
	ChatID int64     `json:"chat_id,omitempty"`
	Count  int       `json:"count,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
