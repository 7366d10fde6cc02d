package platform

import (
	"strings"
	"time"
)

// ChatType is the platform's chat classification.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Chat is chat metadata as seen on an event or from GetChat.
type Chat struct {
	ID    int64
	Type  ChatType
	Title string
}

// IsPrivate reports whether the chat is a one-to-one conversation with the bot.
func (c Chat) IsPrivate() bool { return c.Type == ChatPrivate }

// User is the sender of an event.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// MediaKind is the attachment type of an inbound media message.
type MediaKind string

const (
	MediaVideo     MediaKind = "video"
	MediaPhoto     MediaKind = "photo"
	MediaAnimation MediaKind = "animation"
	MediaDocument  MediaKind = "document"
)

// Media is an inbound attachment. FileUniqueID is stable across re-sends of the same content.
type Media struct {
	Kind         MediaKind
	FileID       string
	FileUniqueID string
}

// Event is one inbound platform update.
type Event interface {
	isEvent()
}

// Message is a new message, optionally carrying media.
type Message struct {
	Ref  MessageRef
	Chat Chat
	From User
	Text string
	Date time.Time

	Media *Media
	// MediaGroupID is shared by items posted together as one album.
	MediaGroupID string
}

// Command splits "/cmd@bot arg1 arg2" into ("cmd", ["arg1", "arg2"]).
// ok is false when the text is not a command.
func (m Message) Command() (name string, args []string, ok bool) {
	if !strings.HasPrefix(m.Text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(m.Text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name = fields[0]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:], name != ""
}

// MemberJoined reports a user entering a chat, with the invite link used if any.
type MemberJoined struct {
	Chat       Chat
	User       User
	InviteLink string
}

// BotMembership reports the bot itself being added to or removed from a chat.
type BotMembership struct {
	Chat  Chat
	Added bool
	By    User
}

// Callback is an inline button press.
type Callback struct {
	ID      string
	From    User
	Data    string
	Message MessageRef
}

func (Message) isEvent()       {}
func (MemberJoined) isEvent()  {}
func (BotMembership) isEvent() {}
func (Callback) isEvent()      {}
