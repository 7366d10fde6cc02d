package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	"bouncer/cmd/internal/export"
	"bouncer/cmd/internal/platform"
	"bouncer/cmd/internal/store"
)

func (d *Dispatcher) handleStart(ctx context.Context, r *Request) error {
	dest, err := store.DestinationChat(ctx, d.store)
	if err != nil {
		return err
	}
	if err := d.store.TouchUser(ctx, profileOf(r.From), d.now(), dest); err != nil {
		return err
	}

	name := html.EscapeString(r.From.FullName())
	noDest := fmt.Sprintf("Hi %s! %s", name, textNoDestination)
	if dest == nil {
		return d.send(ctx, r.Chat.ID, noDest, platform.ParseHTML)
	}
	chat, ok := d.probe(ctx, *dest)
	if !ok {
		return d.send(ctx, r.Chat.ID, noDest, platform.ParseHTML)
	}

	dec, err := d.assess(ctx, r.From)
	if err != nil {
		return err
	}
	text := startText(d.cfg.Messages, chat.Title, dec, name, d.invites.Window())
	return d.send(ctx, r.Chat.ID, text, platform.ParseHTML)
}

func (d *Dispatcher) handleHelp(ctx context.Context, r *Request) error {
	text := d.cfg.Messages.Help
	if d.isListedAdmin(r.From.ID) {
		text = d.cfg.Messages.Setup
	}
	return d.send(ctx, r.Chat.ID, text, platform.ParseHTML)
}

func (d *Dispatcher) handleReset(ctx context.Context, r *Request) error {
	if err := d.store.DeleteUser(ctx, r.From.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	d.log.Info("user.reset", "user_id", r.From.ID)
	return d.send(ctx, r.Chat.ID, textReset, platform.ParsePlain)
}

func (d *Dispatcher) handleRegister(ctx context.Context, r *Request) error {
	chats, err := d.store.ListActiveChats(ctx)
	if err != nil {
		return err
	}
	_, err = d.platform.SendText(ctx, platform.Text{
		ChatID:    r.Chat.ID,
		Text:      textRegisterMenu,
		ParseMode: platform.ParseHTML,
		Keyboard:  registerKeyboard(chats),
	})
	return err
}

// registerKeyboard lays out one button per chat plus "None", two per row.
func registerKeyboard(chats []store.ActiveChat) [][]platform.Button {
	buttons := make([]platform.Button, 0, len(chats)+1)
	for _, c := range chats {
		buttons = append(buttons, platform.Button{Text: c.Title, Data: callbackRegister + strconv.FormatInt(c.ChatID, 10)})
	}
	buttons = append(buttons, platform.Button{Text: "None", Data: callbackRegister + "None"})

	rows := make([][]platform.Button, 0, (len(buttons)+1)/2)
	for i := 0; i < len(buttons); i += 2 {
		end := min(i+2, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return rows
}

func (d *Dispatcher) handleRegisterChoice(ctx context.Context, r *Request) error {
	cb := r.Callback
	if err := d.platform.AnswerCallback(ctx, cb.ID, ""); err != nil {
		d.log.Debug("callback.answer.failed", "err", err)
	}

	text, err := d.applyChoice(ctx, strings.TrimPrefix(cb.Data, callbackRegister))
	if err != nil {
		return err
	}
	if err := d.send(ctx, r.Chat.ID, text, platform.ParseHTML); err != nil {
		return err
	}

	t := time.NewTimer(d.cfg.ConfirmDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	if err := d.platform.DeleteMessage(ctx, cb.Message); err != nil && !platform.IsPermanent(err) {
		return err
	}
	return nil
}

// applyChoice sets the destination from a register button and returns the confirmation.
func (d *Dispatcher) applyChoice(ctx context.Context, choice string) (string, error) {
	if choice == "None" {
		if err := store.SetDestinationChat(ctx, d.store, nil); err != nil {
			return "", err
		}
		d.log.Info("destination.cleared")
		return "Destination group set to <strong>None</strong>.", nil
	}

	chatID, err := strconv.ParseInt(choice, 10, 64)
	if err != nil {
		return textInvalidAction, nil
	}
	title, err := d.store.ActiveChatTitle(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return textInvalidAction, nil
	}
	if err != nil {
		return "", err
	}
	if err := store.SetDestinationChat(ctx, d.store, &chatID); err != nil {
		return "", err
	}
	d.log.Info("destination.set", "chat_id", chatID, "title", title)
	return fmt.Sprintf("Destination group set to <strong>%s</strong>.", html.EscapeString(title)), nil
}

func (d *Dispatcher) handleChats(ctx context.Context, r *Request) error {
	chats, err := d.store.ListActiveChats(ctx)
	if err != nil {
		return err
	}
	return d.send(ctx, r.Chat.ID, activeChatsText(chats), platform.ParsePlain)
}

func activeChatsText(chats []store.ActiveChat) string {
	if len(chats) == 0 {
		return textNoChats
	}
	var b strings.Builder
	b.WriteString("ACTIVE CHATS:\n\n")
	for _, c := range chats {
		fmt.Fprintf(&b, "%d - %s\n", c.ChatID, c.Title)
	}
	return b.String()
}

func (d *Dispatcher) handleCSV(ctx context.Context, r *Request) error {
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return d.send(ctx, r.Chat.ID, "No users recorded yet.", platform.ParsePlain)
	}

	groups := export.GroupByChat(users)
	chatIDs := make([]int64, 0, len(groups))
	for id := range groups {
		chatIDs = append(chatIDs, id)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })

	now := d.now()
	for _, id := range chatIDs {
		title, err := export.ChatTitle(ctx, d.store, id)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, groups[id]); err != nil {
			return err
		}
		if err := d.platform.SendDocument(ctx, r.Chat.ID, platform.Document{
			Name:    export.FileName(title, now),
			Data:    buf.Bytes(),
			Caption: title,
		}); err != nil {
			return err
		}
	}
	d.log.Info("export.sent", "chats", len(chatIDs), "users", len(users))
	return nil
}

func (d *Dispatcher) handleCleanDB(ctx context.Context, r *Request) error {
	if _, err := d.sweep(ctx, "cleandb"); err != nil {
		return err
	}
	return d.handleChats(ctx, r)
}

func (d *Dispatcher) handleBan(ctx context.Context, r *Request) error {
	userID, ok := parseUserArg(r.Args)
	if !ok {
		return d.send(ctx, r.Chat.ID, "Usage: /ban <user_id>", platform.ParsePlain)
	}
	if err := d.store.BanUser(ctx, store.BannedUser{UserID: userID, BannedAt: d.now(), BannedBy: r.From.ID}); err != nil {
		return err
	}

	dest, err := store.DestinationChat(ctx, d.store)
	if err != nil {
		d.log.Warn("destination.lookup.failed", "err", err)
	} else if dest != nil {
		if err := d.platform.BanMember(ctx, *dest, userID); err != nil {
			d.log.Warn("ban.member.failed", "chat_id", *dest, "user_id", userID, "err", err)
		}
	}

	d.log.Info("user.banned", "user_id", userID, "by", r.From.ID)
	return d.send(ctx, r.Chat.ID, fmt.Sprintf("User %d banned.", userID), platform.ParsePlain)
}

func (d *Dispatcher) handleUnban(ctx context.Context, r *Request) error {
	userID, ok := parseUserArg(r.Args)
	if !ok {
		return d.send(ctx, r.Chat.ID, "Usage: /unban <user_id>", platform.ParsePlain)
	}
	if err := d.store.UnbanUser(ctx, userID); err != nil {
		return err
	}
	d.log.Info("user.unbanned", "user_id", userID, "by", r.From.ID)
	return d.send(ctx, r.Chat.ID, fmt.Sprintf("User %d unbanned.", userID), platform.ParsePlain)
}

func parseUserArg(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
