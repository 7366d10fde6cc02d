package telegram

import (
	"errors"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bouncer/cmd/internal/platform"
)

// Descriptions the Bot API returns with 400 when a chat is gone for good.
var permanentDescriptions = []string{
	"chat not found",
	"bot was kicked",
	"bot is not a member",
	"group chat was upgraded",
	"chat was deleted",
	"user is deactivated",
	"peer_id_invalid",
}

// classify converts a Bot API error into a *platform.Error. nil stays nil.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		kind, retry := classifyAPI(apiErr.Code, apiErr.Message, apiErr.RetryAfter)
		return &platform.Error{Op: op, Kind: kind, RetryAfter: retry, Err: err}
	}
	return &platform.Error{Op: op, Kind: platform.Transient, Err: err}
}

func classifyAPI(code int, description string, retryAfter int) (platform.Kind, time.Duration) {
	if code == http.StatusTooManyRequests || retryAfter > 0 {
		return platform.RateLimited, time.Duration(retryAfter) * time.Second
	}
	if code == http.StatusForbidden {
		return platform.Permanent, 0
	}
	if code == http.StatusBadRequest {
		desc := strings.ToLower(description)
		for _, p := range permanentDescriptions {
			if strings.Contains(desc, p) {
				return platform.Permanent, 0
			}
		}
	}
	return platform.Transient, 0
}
