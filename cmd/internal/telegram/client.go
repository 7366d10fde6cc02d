// Package telegram adapts the Telegram Bot API to the platform boundary.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bouncer/cmd/internal/platform"
)

// Client implements platform.Platform over the Bot API.
type Client struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

var _ platform.Platform = (*Client)(nil)

// New authenticates token against the Bot API (one getMe round-trip).
func New(token string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	_ = tgbotapi.SetLogger(botLogger{log: log.With("component", "tgbotapi")})

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, classify("getMe", err)
	}
	return &Client{api: api, log: log}, nil
}

// Self returns the bot's own account.
func (c *Client) Self() platform.User {
	return convertUser(&c.api.Self)
}

// Updates long-polls until ctx is done, converting updates to platform events.
// The returned channel is closed after polling stops.
func (c *Client) Updates(ctx context.Context, pollTimeout time.Duration) <-chan platform.Event {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(pollTimeout / time.Second)
	cfg.AllowedUpdates = []string{"message", "callback_query", "chat_member", "my_chat_member"}

	in := c.api.GetUpdatesChan(cfg)
	out := make(chan platform.Event)
	selfID := c.api.Self.ID

	go func() {
		defer close(out)
		defer c.api.StopReceivingUpdates()

		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-in:
				if !ok {
					return
				}
				ev, ok := convertUpdate(u, selfID)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (c *Client) SendText(ctx context.Context, msg platform.Text) (platform.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return platform.MessageRef{}, err
	}
	cfg := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	cfg.ParseMode = string(msg.ParseMode)
	cfg.DisableWebPagePreview = true
	if len(msg.Keyboard) > 0 {
		cfg.ReplyMarkup = inlineKeyboard(msg.Keyboard)
	}

	sent, err := c.api.Send(cfg)
	if err != nil {
		return platform.MessageRef{}, classify("sendMessage", err)
	}
	return platform.MessageRef{ChatID: msg.ChatID, MessageID: sent.MessageID}, nil
}

func (c *Client) SendMedia(ctx context.Context, chatID int64, items []platform.MediaItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > platform.MaxAlbumSize {
		return fmt.Errorf("telegram: album of %d exceeds %d items", len(items), platform.MaxAlbumSize)
	}

	if len(items) == 1 {
		_, err := c.api.Send(singleMedia(chatID, items[0]))
		return classify("sendMedia", err)
	}

	files := make([]any, 0, len(items))
	for _, it := range items {
		files = append(files, inputMedia(it))
	}
	_, err := c.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, files))
	return classify("sendMediaGroup", err)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, doc platform.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: doc.Name, Bytes: doc.Data})
	cfg.Caption = doc.Caption
	_, err := c.api.Send(cfg)
	return classify("sendDocument", err)
}

func (c *Client) DeleteMessage(ctx context.Context, ref platform.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID))
	return classify("deleteMessage", err)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.NewCallback(callbackID, text))
	return classify("answerCallbackQuery", err)
}

func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, expireAt time.Time, memberLimit int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: chatID},
		MemberLimit: memberLimit,
	}
	if !expireAt.IsZero() {
		cfg.ExpireDate = int(expireAt.Unix())
	}

	resp, err := c.api.Request(cfg)
	if err != nil {
		return "", classify("createChatInviteLink", err)
	}
	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("telegram: decode invite link: %w", err)
	}
	if link.InviteLink == "" {
		return "", errors.New("telegram: empty invite link in response")
	}
	return link.InviteLink, nil
}

func (c *Client) BanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	})
	return classify("banChatMember", err)
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (platform.Chat, error) {
	if err := ctx.Err(); err != nil {
		return platform.Chat{}, err
	}
	chat, err := c.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return platform.Chat{}, classify("getChat", err)
	}
	return convertChat(&chat), nil
}

func inlineKeyboard(rows [][]platform.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func inputMedia(it platform.MediaItem) any {
	file := tgbotapi.FileID(it.FileID)
	switch it.Kind {
	case platform.MediaPhoto:
		m := tgbotapi.NewInputMediaPhoto(file)
		m.Caption = it.Caption
		return m
	case platform.MediaAnimation:
		m := tgbotapi.NewInputMediaAnimation(file)
		m.Caption = it.Caption
		return m
	case platform.MediaDocument:
		m := tgbotapi.NewInputMediaDocument(file)
		m.Caption = it.Caption
		return m
	default:
		m := tgbotapi.NewInputMediaVideo(file)
		m.Caption = it.Caption
		return m
	}
}

func singleMedia(chatID int64, it platform.MediaItem) tgbotapi.Chattable {
	file := tgbotapi.FileID(it.FileID)
	switch it.Kind {
	case platform.MediaPhoto:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption = it.Caption
		return cfg
	case platform.MediaAnimation:
		cfg := tgbotapi.NewAnimation(chatID, file)
		cfg.Caption = it.Caption
		return cfg
	case platform.MediaDocument:
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.Caption = it.Caption
		return cfg
	default:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption = it.Caption
		return cfg
	}
}

// botLogger routes the library's printf-style logging into slog.
type botLogger struct {
	log *slog.Logger
}

func (l botLogger) Println(v ...any) {
	l.log.Debug(fmt.Sprint(v...))
}

func (l botLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
