package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"bouncer/cmd/internal/ids"
)

// SQLiteStore is a single-file embedded Store.
//
// The pool is pinned to one connection, so every transaction is serialized;
// that gives the same per-user linearizability as the Postgres advisory lock.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at dsn. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const sqliteUserColumns = `user_id, full_name, username, last_seen_at, last_upload_at, upload_count,
       granted_at, invite_link, link_used_at, chat_id`

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row sqlRow) (UserRecord, error) {
	var (
		u                                     UserRecord
		username, link                        sql.NullString
		seen, uploaded, granted, used, chatID sql.NullInt64
	)
	err := row.Scan(&u.UserID, &u.FullName, &username, &seen, &uploaded, &u.UploadCount,
		&granted, &link, &used, &chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	u.Username = nullString(username)
	u.InviteLink = nullString(link)
	u.LastSeenAt = nullTime(seen)
	u.LastUploadAt = nullTime(uploaded)
	u.GrantedAt = nullTime(granted)
	u.LinkUsedAt = nullTime(used)
	if chatID.Valid {
		c := chatID.Int64
		u.ChatID = &c
	}
	return u, nil
}

// TouchUser upserts display fields and last-seen.
func (s *SQLiteStore) TouchUser(ctx context.Context, p Profile, now time.Time, dest *int64) error {
	if p.UserID == 0 {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, full_name, username, last_seen_at, chat_id)
		 VALUES (?, ?, NULLIF(?, ''), ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		    SET full_name    = COALESCE(NULLIF(excluded.full_name, ''), users.full_name),
		        username     = COALESCE(excluded.username, users.username),
		        last_seen_at = excluded.last_seen_at,
		        chat_id      = CASE WHEN users.granted_at IS NULL AND excluded.chat_id IS NOT NULL
		                            THEN excluded.chat_id ELSE users.chat_id END`,
		p.UserID, p.FullName, p.Username, nanos(nowOr(now)), nullInt(dest),
	)
	return err
}

// GetUser returns the user's record.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (UserRecord, error) {
	return scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE user_id = ?`, userID))
}

// UserByInviteLink finds the user currently holding link.
func (s *SQLiteStore) UserByInviteLink(ctx context.Context, link string) (UserRecord, error) {
	if link == "" {
		return UserRecord{}, ErrInvalidInput
	}
	return scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE invite_link = ? LIMIT 1`, link))
}

// DeleteUser removes the user and their uploads.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE user_id = ?`, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
		return err
	})
}

// ListUsers returns every user ordered by user id.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	return s.queryUsers(ctx, `SELECT `+sqliteUserColumns+` FROM users ORDER BY user_id`)
}

// ListUsersByChat returns users whose recorded chat is chatID.
func (s *SQLiteStore) ListUsersByChat(ctx context.Context, chatID int64) ([]UserRecord, error) {
	return s.queryUsers(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE chat_id = ? ORDER BY user_id`, chatID)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, q string, args ...any) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUsersByChat purges users (and their uploads) recorded against chatID.
func (s *SQLiteStore) DeleteUsersByChat(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM uploads WHERE user_id IN (SELECT user_id FROM users WHERE chat_id = ?)`, chatID,
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE chat_id = ?`, chatID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		n = int(affected)
		return err
	})
	return n, err
}

// RecordUpload dedups by (user, content id) and increments the count.
func (s *SQLiteStore) RecordUpload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if err := validateUpload(in); err != nil {
		return UploadResult{}, err
	}
	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return UploadResult{}, err
	}

	var out UploadResult
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (user_id, full_name, username) VALUES (?, ?, NULLIF(?, ''))
			 ON CONFLICT (user_id) DO NOTHING`,
			in.Profile.UserID, in.Profile.FullName, in.Profile.Username,
		); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO uploads (id, user_id, file_id, file_unique_id, kind, chat_id, accepted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, file_unique_id) DO NOTHING`,
			id, in.Profile.UserID, in.FileID, in.FileUniqueID, string(in.Kind), in.ChatID, nanos(now),
		)
		if err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if inserted == 0 {
			out.Duplicate = true
			return tx.QueryRowContext(ctx, `SELECT upload_count FROM users WHERE user_id = ?`,
				in.Profile.UserID).Scan(&out.Count)
		}

		if err := tx.QueryRowContext(ctx,
			`UPDATE users
			    SET upload_count   = upload_count + 1,
			        last_upload_at = ?,
			        full_name      = COALESCE(NULLIF(?, ''), full_name),
			        username       = COALESCE(NULLIF(?, ''), username)
			  WHERE user_id = ?
			RETURNING upload_count`,
			nanos(now), in.Profile.FullName, in.Profile.Username, in.Profile.UserID,
		).Scan(&out.Count); err != nil {
			return err
		}
		out.Record = UploadRecord{
			ID:           id,
			UserID:       in.Profile.UserID,
			FileID:       in.FileID,
			FileUniqueID: in.FileUniqueID,
			Kind:         in.Kind,
			ChatID:       in.ChatID,
			AcceptedAt:   now,
		}
		return nil
	})
	if err != nil {
		return UploadResult{}, err
	}
	return out, nil
}

// RecentUploads returns up to limit uploads, newest first.
func (s *SQLiteStore) RecentUploads(ctx context.Context, userID int64, limit int) ([]UploadRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_id, file_unique_id, kind, chat_id, accepted_at
		   FROM uploads
		  WHERE user_id = ?
		  ORDER BY accepted_at DESC, id DESC
		  LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UploadRecord
	for rows.Next() {
		var (
			r        UploadRecord
			kind     string
			accepted int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.FileID, &r.FileUniqueID, &kind, &r.ChatID, &accepted); err != nil {
			return nil, err
		}
		r.Kind = MediaKind(kind)
		r.AcceptedAt = time.Unix(0, accepted).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordGrant overwrites the user's link and clears its consumption marker.
func (s *SQLiteStore) RecordGrant(ctx context.Context, in GrantInput) error {
	if in.UserID == 0 || in.InviteLink == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, granted_at, invite_link, chat_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		    SET granted_at   = excluded.granted_at,
		        invite_link  = excluded.invite_link,
		        chat_id      = excluded.chat_id,
		        link_used_at = NULL`,
		in.UserID, nanos(nowOr(in.Now)), in.InviteLink, in.ChatID,
	)
	return err
}

// MarkLinkUsed stamps consumption once.
func (s *SQLiteStore) MarkLinkUsed(ctx context.Context, userID int64, link string, now time.Time) (bool, error) {
	var marked bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			current sql.NullString
			used    sql.NullInt64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT invite_link, link_used_at FROM users WHERE user_id = ?`, userID,
		).Scan(&current, &used)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && (!current.Valid || current.String != link)) {
			return ErrNotFound
		}
		if err != nil || used.Valid {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET link_used_at = ? WHERE user_id = ? AND invite_link = ?`,
			nanos(nowOr(now)), userID, link,
		); err != nil {
			return err
		}
		marked = true
		return nil
	})
	return marked, err
}

// UpsertActiveChat records (or retitles) a chat.
func (s *SQLiteStore) UpsertActiveChat(ctx context.Context, chat ActiveChat) error {
	if chat.ChatID == 0 {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_chats (chat_id, title) VALUES (?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET title = excluded.title`,
		chat.ChatID, chat.Title,
	)
	return err
}

// ListActiveChats returns chats ordered by id.
func (s *SQLiteStore) ListActiveChats(ctx context.Context) ([]ActiveChat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, title FROM active_chats ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveChat
	for rows.Next() {
		var c ActiveChat
		if err := rows.Scan(&c.ChatID, &c.Title); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActiveChatTitle returns the recorded title of chatID.
func (s *SQLiteStore) ActiveChatTitle(ctx context.Context, chatID int64) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM active_chats WHERE chat_id = ?`, chatID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return title, err
}

// DeleteActiveChat removes chatID from the registry.
func (s *SQLiteStore) DeleteActiveChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_chats WHERE chat_id = ?`, chatID)
	return err
}

// GetSetting returns nil when the key is unset.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*string, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return nullString(v), nil
}

// SetSetting stores value; nil clears the key.
func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value *string) error {
	if key == "" {
		return ErrInvalidInput
	}
	if value == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, *value,
	)
	return err
}

// BanUser records a ban (idempotent).
func (s *SQLiteStore) BanUser(ctx context.Context, b BannedUser) error {
	if b.UserID == 0 {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO banned_users (user_id, banned_at, banned_by) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		b.UserID, nanos(nowOr(b.BannedAt)), b.BannedBy,
	)
	return err
}

// UnbanUser lifts a ban (idempotent).
func (s *SQLiteStore) UnbanUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM banned_users WHERE user_id = ?`, userID)
	return err
}

// IsBanned reports whether userID is banned.
func (s *SQLiteStore) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var banned bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM banned_users WHERE user_id = ?)`, userID,
	).Scan(&banned)
	return banned, err
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
