package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"bouncer/cmd/internal/store"
)

// ChatTitle resolves a display title for chatID, falling back to "chat_<id>"
// for unknown chats and "unassigned" for users without a chat.
func ChatTitle(ctx context.Context, st store.Store, chatID int64) (string, error) {
	if chatID == 0 {
		return "unassigned", nil
	}
	title, err := st.ActiveChatTitle(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && title == "") {
		return fmt.Sprintf("chat_%d", chatID), nil
	}
	return title, err
}

// Archive writes one CSV per chat into dir and returns the written paths in
// chat id order.
func Archive(ctx context.Context, st store.Store, dir string, now time.Time) ([]string, error) {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	groups := GroupByChat(users)

	chatIDs := make([]int64, 0, len(groups))
	for id := range groups {
		chatIDs = append(chatIDs, id)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })

	paths := make([]string, 0, len(chatIDs))
	for _, id := range chatIDs {
		title, err := ChatTitle(ctx, st, id)
		if err != nil {
			return paths, err
		}
		path, err := WriteDir(dir, title, groups[id], now)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteChat writes the users of chatID (all users when chatID is nil) as CSV.
func WriteChat(ctx context.Context, st store.Store, w io.Writer, chatID *int64) error {
	var (
		users []store.UserRecord
		err   error
	)
	if chatID == nil {
		users, err = st.ListUsers(ctx)
	} else {
		users, err = st.ListUsersByChat(ctx, *chatID)
	}
	if err != nil {
		return err
	}
	SortByLastSeen(users)
	return WriteCSV(w, users)
}
