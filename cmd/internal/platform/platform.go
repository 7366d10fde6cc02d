package platform

import (
	"context"
	"time"
)

// Platform is the outbound half of the messaging collaborator.
type Platform interface {
	SendText(ctx context.Context, msg Text) (MessageRef, error)
	// SendMedia posts up to MaxAlbumSize items as one album.
	SendMedia(ctx context.Context, chatID int64, items []MediaItem) error
	SendDocument(ctx context.Context, chatID int64, doc Document) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// CreateInviteLink creates an invite to chatID. A zero expireAt means no time limit.
	CreateInviteLink(ctx context.Context, chatID int64, expireAt time.Time, memberLimit int) (string, error)
	BanMember(ctx context.Context, chatID, userID int64) error
	// GetChat fetches chat metadata; it doubles as the reachability probe.
	GetChat(ctx context.Context, chatID int64) (Chat, error)
}

// MaxAlbumSize is the largest media group the platform accepts in one post.
const MaxAlbumSize = 10

// ParseMode selects how outgoing text is rendered.
type ParseMode string

const (
	ParsePlain    ParseMode = ""
	ParseMarkdown ParseMode = "Markdown"
	ParseHTML     ParseMode = "HTML"
)

// Button is one inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// Text is an outgoing text message.
type Text struct {
	ChatID    int64
	Text      string
	ParseMode ParseMode
	// Keyboard rows of inline buttons; nil sends none.
	Keyboard [][]Button
}

// MessageRef identifies a sent or received message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// MediaItem is one outgoing album entry referencing an already-uploaded file.
type MediaItem struct {
	Kind    MediaKind
	FileID  string
	Caption string
}

// Document is an in-memory file attachment.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}
