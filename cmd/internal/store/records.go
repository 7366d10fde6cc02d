package store

import "time"

// MediaKind is the attachment type an upload arrived as.
type MediaKind string

const (
	MediaVideo     MediaKind = "video"
	MediaPhoto     MediaKind = "photo"
	MediaAnimation MediaKind = "animation"
	MediaDocument  MediaKind = "document"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaVideo, MediaPhoto, MediaAnimation, MediaDocument:
		return true
	}
	return false
}

// UserRecord is the per-user upload and grant state.
//
// Invariants:
//   - UploadCount only decreases through DeleteUser / DeleteUsersByChat.
//   - InviteLink != nil implies GrantedAt != nil.
//   - LinkUsedAt is only stamped by MarkLinkUsed for the current InviteLink.
type UserRecord struct {
	UserID       int64
	FullName     string
	Username     *string
	LastSeenAt   *time.Time
	LastUploadAt *time.Time
	UploadCount  int
	GrantedAt    *time.Time
	InviteLink   *string
	LinkUsedAt   *time.Time
	ChatID       *int64
}

// HasGrant reports whether the user has ever been granted access.
func (u UserRecord) HasGrant() bool { return u.GrantedAt != nil }

// UploadRecord is one accepted (non-duplicate) media item.
type UploadRecord struct {
	ID           string
	UserID       int64
	FileID       string
	FileUniqueID string
	Kind         MediaKind
	ChatID       int64
	AcceptedAt   time.Time
}

// ActiveChat is a non-private chat the bot has observed.
type ActiveChat struct {
	ChatID int64
	Title  string
}

// BannedUser is a user the bot silently ignores.
type BannedUser struct {
	UserID   int64
	BannedAt time.Time
	BannedBy int64
}

// Profile is the display identity captured from the platform on each contact.
type Profile struct {
	UserID   int64
	FullName string
	Username string
}

// UploadInput describes one media submission.
type UploadInput struct {
	Profile      Profile
	ChatID       int64
	FileID       string
	FileUniqueID string
	Kind         MediaKind
	Now          time.Time
}

// UploadResult is the outcome of RecordUpload.
// Count is the user's count after the call (unchanged when Duplicate).
type UploadResult struct {
	Count     int
	Duplicate bool
	Record    UploadRecord
}

// GrantInput persists a freshly issued link. It overwrites any prior link and clears its consumption.
type GrantInput struct {
	UserID     int64
	InviteLink string
	ChatID     int64
	Now        time.Time
}

// SettingDestinationChat is the settings key holding the current destination chat id.
const SettingDestinationChat = "destination_chat_id"
