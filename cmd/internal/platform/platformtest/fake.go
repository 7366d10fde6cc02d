// Package platformtest provides an in-memory platform.Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bouncer/cmd/internal/platform"
)

// InviteCall records one CreateInviteLink request.
type InviteCall struct {
	ChatID      int64
	ExpireAt    time.Time
	MemberLimit int
	Link        string
}

// MediaCall records one SendMedia request.
type MediaCall struct {
	ChatID int64
	Items  []platform.MediaItem
}

// DocumentCall records one SendDocument request.
type DocumentCall struct {
	ChatID int64
	Doc    platform.Document
}

// Fake records every outbound call. Behavior is steered through the exported error fields.
type Fake struct {
	mu sync.Mutex

	Texts     []platform.Text
	Media     []MediaCall
	Documents []DocumentCall
	Deleted   []platform.MessageRef
	Answered  []string
	Invites   []InviteCall
	Bans      [][2]int64

	// Chats answers GetChat; a missing id yields a Permanent error.
	Chats map[int64]platform.Chat

	InviteErr  error
	SendErr    error
	GetChatErr map[int64]error

	nextMsg  int
	nextLink int
}

var _ platform.Platform = (*Fake)(nil)

// New returns a Fake that knows the given chats.
func New(chats ...platform.Chat) *Fake {
	f := &Fake{Chats: make(map[int64]platform.Chat), GetChatErr: make(map[int64]error)}
	for _, c := range chats {
		f.Chats[c.ID] = c
	}
	return f
}

func (f *Fake) SendText(_ context.Context, msg platform.Text) (platform.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendErr != nil {
		return platform.MessageRef{}, f.SendErr
	}
	f.nextMsg++
	f.Texts = append(f.Texts, msg)
	return platform.MessageRef{ChatID: msg.ChatID, MessageID: f.nextMsg}, nil
}

func (f *Fake) SendMedia(_ context.Context, chatID int64, items []platform.MediaItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendErr != nil {
		return f.SendErr
	}
	f.Media = append(f.Media, MediaCall{ChatID: chatID, Items: append([]platform.MediaItem(nil), items...)})
	return nil
}

func (f *Fake) SendDocument(_ context.Context, chatID int64, doc platform.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendErr != nil {
		return f.SendErr
	}
	f.Documents = append(f.Documents, DocumentCall{ChatID: chatID, Doc: doc})
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, ref platform.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Deleted = append(f.Deleted, ref)
	return nil
}

func (f *Fake) AnswerCallback(_ context.Context, callbackID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Answered = append(f.Answered, callbackID)
	return nil
}

func (f *Fake) CreateInviteLink(_ context.Context, chatID int64, expireAt time.Time, memberLimit int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.InviteErr != nil {
		return "", f.InviteErr
	}
	f.nextLink++
	link := fmt.Sprintf("https://t.me/+fake%d_%d", -chatID, f.nextLink)
	f.Invites = append(f.Invites, InviteCall{ChatID: chatID, ExpireAt: expireAt, MemberLimit: memberLimit, Link: link})
	return link, nil
}

func (f *Fake) BanMember(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Bans = append(f.Bans, [2]int64{chatID, userID})
	return nil
}

func (f *Fake) GetChat(_ context.Context, chatID int64) (platform.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.GetChatErr[chatID]; err != nil {
		return platform.Chat{}, err
	}
	c, ok := f.Chats[chatID]
	if !ok {
		return platform.Chat{}, platform.NewError("getChat", platform.Permanent, fmt.Errorf("chat %d not found", chatID))
	}
	return c, nil
}

// SetChat adds or replaces a reachable chat.
func (f *Fake) SetChat(c platform.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Chats[c.ID] = c
}

// RemoveChat makes chatID unreachable.
func (f *Fake) RemoveChat(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Chats, chatID)
}

// SetInviteErr makes CreateInviteLink fail with err (nil restores success).
func (f *Fake) SetInviteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InviteErr = err
}

// TextsTo returns the texts sent to chatID, in order.
func (f *Fake) TextsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, t := range f.Texts {
		if t.ChatID == chatID {
			out = append(out, t.Text)
		}
	}
	return out
}

// InviteCalls returns a snapshot of CreateInviteLink requests.
func (f *Fake) InviteCalls() []InviteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InviteCall(nil), f.Invites...)
}

// MediaCalls returns a snapshot of SendMedia requests.
func (f *Fake) MediaCalls() []MediaCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MediaCall(nil), f.Media...)
}

// DocumentCalls returns a snapshot of SendDocument requests.
func (f *Fake) DocumentCalls() []DocumentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DocumentCall(nil), f.Documents...)
}

// LastText returns the most recently sent text, or false.
func (f *Fake) LastText() (platform.Text, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Texts) == 0 {
		return platform.Text{}, false
	}
	return f.Texts[len(f.Texts)-1], true
}

// DeletedRefs returns a snapshot of DeleteMessage requests.
func (f *Fake) DeletedRefs() []platform.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.MessageRef(nil), f.Deleted...)
}

// BanCalls returns a snapshot of BanMember requests as (chat, user) pairs.
func (f *Fake) BanCalls() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int64(nil), f.Bans...)
}

// LastTextTo returns the most recent text sent to chatID, or false.
func (f *Fake) LastTextTo(chatID int64) (platform.Text, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.Texts) - 1; i >= 0; i-- {
		if f.Texts[i].ChatID == chatID {
			return f.Texts[i], true
		}
	}
	return platform.Text{}, false
}
