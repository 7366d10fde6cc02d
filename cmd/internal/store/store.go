package store

import (
	"context"
	"time"
)

// Store is the persistence boundary for the bouncer.
type Store interface {
	// TouchUser upserts display fields and last-seen. dest is recorded as the user's chat
	// only while the user holds no grant, so a stale-destination check stays meaningful.
	TouchUser(ctx context.Context, p Profile, now time.Time, dest *int64) error
	GetUser(ctx context.Context, userID int64) (UserRecord, error)
	UserByInviteLink(ctx context.Context, link string) (UserRecord, error)
	DeleteUser(ctx context.Context, userID int64) error
	ListUsers(ctx context.Context) ([]UserRecord, error)
	ListUsersByChat(ctx context.Context, chatID int64) ([]UserRecord, error)
	DeleteUsersByChat(ctx context.Context, chatID int64) (int, error)

	// RecordUpload checks (user, content id) for a duplicate, inserts the upload and increments
	// the count as one linearizable step per user.
	RecordUpload(ctx context.Context, in UploadInput) (UploadResult, error)
	RecentUploads(ctx context.Context, userID int64, limit int) ([]UploadRecord, error)

	RecordGrant(ctx context.Context, in GrantInput) error
	// MarkLinkUsed stamps consumption of link once; it reports false when already stamped and
	// ErrNotFound when link is no longer the user's current link.
	MarkLinkUsed(ctx context.Context, userID int64, link string, now time.Time) (bool, error)

	UpsertActiveChat(ctx context.Context, chat ActiveChat) error
	ListActiveChats(ctx context.Context) ([]ActiveChat, error)
	ActiveChatTitle(ctx context.Context, chatID int64) (string, error)
	DeleteActiveChat(ctx context.Context, chatID int64) error

	GetSetting(ctx context.Context, key string) (*string, error)
	SetSetting(ctx context.Context, key string, value *string) error

	BanUser(ctx context.Context, b BannedUser) error
	UnbanUser(ctx context.Context, userID int64) error
	IsBanned(ctx context.Context, userID int64) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
