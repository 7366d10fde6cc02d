package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DestinationChat returns the configured destination chat, or nil when granting is disabled.
func DestinationChat(ctx context.Context, st Store) (*int64, error) {
	raw, err := st.GetSetting(ctx, SettingDestinationChat)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" || strings.EqualFold(v, "none") {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store: malformed %s %q: %w", SettingDestinationChat, v, err)
	}
	return &id, nil
}

// SetDestinationChat stores chatID as the destination; nil disables granting.
func SetDestinationChat(ctx context.Context, st Store, chatID *int64) error {
	if chatID == nil {
		return st.SetSetting(ctx, SettingDestinationChat, nil)
	}
	v := strconv.FormatInt(*chatID, 10)
	return st.SetSetting(ctx, SettingDestinationChat, &v)
}

// DeleteSetting clears key.
func DeleteSetting(ctx context.Context, st Store, key string) error {
	return st.SetSetting(ctx, key, nil)
}
