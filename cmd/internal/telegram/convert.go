package telegram

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bouncer/cmd/internal/platform"
)

// convertUpdate maps one Bot API update to a platform event. ok is false for updates the bot ignores.
func convertUpdate(u tgbotapi.Update, selfID int64) (platform.Event, bool) {
	switch {
	case u.Message != nil:
		return convertMessage(u.Message)
	case u.CallbackQuery != nil:
		return convertCallback(u.CallbackQuery)
	case u.ChatMember != nil:
		return convertJoin(u.ChatMember)
	case u.MyChatMember != nil:
		return convertBotMembership(u.MyChatMember, selfID)
	}
	return nil, false
}

func convertMessage(m *tgbotapi.Message) (platform.Event, bool) {
	if m.Chat == nil || m.From == nil {
		return nil, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return platform.Message{
		Ref:          platform.MessageRef{ChatID: m.Chat.ID, MessageID: m.MessageID},
		Chat:         convertChat(m.Chat),
		From:         convertUser(m.From),
		Text:         text,
		Date:         time.Unix(int64(m.Date), 0).UTC(),
		Media:        extractMedia(m),
		MediaGroupID: m.MediaGroupID,
	}, true
}

// extractMedia picks the attachment. Animations also carry a Document, so they are checked first.
func extractMedia(m *tgbotapi.Message) *platform.Media {
	switch {
	case m.Video != nil:
		return &platform.Media{Kind: platform.MediaVideo, FileID: m.Video.FileID, FileUniqueID: m.Video.FileUniqueID}
	case m.Animation != nil:
		return &platform.Media{Kind: platform.MediaAnimation, FileID: m.Animation.FileID, FileUniqueID: m.Animation.FileUniqueID}
	case len(m.Photo) > 0:
		// Sizes are ascending; the largest one identifies the content.
		p := m.Photo[len(m.Photo)-1]
		return &platform.Media{Kind: platform.MediaPhoto, FileID: p.FileID, FileUniqueID: p.FileUniqueID}
	case m.Document != nil:
		return &platform.Media{Kind: platform.MediaDocument, FileID: m.Document.FileID, FileUniqueID: m.Document.FileUniqueID}
	}
	return nil
}

func convertCallback(q *tgbotapi.CallbackQuery) (platform.Event, bool) {
	if q.From == nil {
		return nil, false
	}
	cb := platform.Callback{
		ID:   q.ID,
		From: convertUser(q.From),
		Data: q.Data,
	}
	if q.Message != nil && q.Message.Chat != nil {
		cb.Message = platform.MessageRef{ChatID: q.Message.Chat.ID, MessageID: q.Message.MessageID}
	}
	return cb, true
}

func convertJoin(u *tgbotapi.ChatMemberUpdated) (platform.Event, bool) {
	if !isOutside(u.OldChatMember.Status) || !isInside(u.NewChatMember.Status) {
		return nil, false
	}
	ev := platform.MemberJoined{
		Chat: convertChat(&u.Chat),
	}
	if u.NewChatMember.User != nil {
		ev.User = convertUser(u.NewChatMember.User)
	} else {
		ev.User = convertUser(&u.From)
	}
	if u.InviteLink != nil {
		ev.InviteLink = u.InviteLink.InviteLink
	}
	return ev, true
}

func convertBotMembership(u *tgbotapi.ChatMemberUpdated, selfID int64) (platform.Event, bool) {
	if u.NewChatMember.User != nil && selfID != 0 && u.NewChatMember.User.ID != selfID {
		return nil, false
	}
	switch {
	case isOutside(u.OldChatMember.Status) && isInside(u.NewChatMember.Status):
		return platform.BotMembership{Chat: convertChat(&u.Chat), Added: true, By: convertUser(&u.From)}, true
	case isInside(u.OldChatMember.Status) && isOutside(u.NewChatMember.Status):
		return platform.BotMembership{Chat: convertChat(&u.Chat), Added: false, By: convertUser(&u.From)}, true
	}
	return nil, false
}

func isInside(status string) bool {
	switch status {
	case "creator", "administrator", "member", "restricted":
		return true
	}
	return false
}

func isOutside(status string) bool {
	return status == "left" || status == "kicked" || status == ""
}

func convertChat(c *tgbotapi.Chat) platform.Chat {
	if c == nil {
		return platform.Chat{}
	}
	title := c.Title
	if title == "" {
		title = c.FirstName
	}
	return platform.Chat{ID: c.ID, Type: platform.ChatType(c.Type), Title: title}
}

func convertUser(u *tgbotapi.User) platform.User {
	if u == nil {
		return platform.User{}
	}
	return platform.User{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.UserName,
		IsBot:     u.IsBot,
	}
}
