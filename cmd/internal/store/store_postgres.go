package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bouncer/cmd/internal/ids"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Upload recording takes a per-user transactional advisory lock, so the duplicate
//     check, the insert and the count increment are one step with no lost updates.
//   - The (user_id, file_unique_id) unique constraint remains the final authority.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "bouncer").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("store: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "bouncer",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("store: nil pool")
	}
	return st, nil
}

// Migrate applies the idempotent schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchemaSQL(s.schema)); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Ping checks pool connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgUserColumns = `user_id, full_name, username, last_seen_at, last_upload_at, upload_count,
       granted_at, invite_link, link_used_at, chat_id`

type pgRow interface {
	Scan(dest ...any) error
}

func scanPGUser(row pgRow) (UserRecord, error) {
	var u UserRecord
	err := row.Scan(
		&u.UserID,
		&u.FullName,
		&u.Username,
		&u.LastSeenAt,
		&u.LastUploadAt,
		&u.UploadCount,
		&u.GrantedAt,
		&u.InviteLink,
		&u.LinkUsedAt,
		&u.ChatID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	return u, err
}

// TouchUser upserts display fields and last-seen.
func (s *PostgresStore) TouchUser(ctx context.Context, p Profile, now time.Time, dest *int64) error {
	if p.UserID == 0 {
		return ErrInvalidInput
	}
	users := pgIdent(s.schema, "users")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` AS u (user_id, full_name, username, last_seen_at, chat_id)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		    SET full_name    = COALESCE(NULLIF(EXCLUDED.full_name, ''), u.full_name),
		        username     = COALESCE(EXCLUDED.username, u.username),
		        last_seen_at = EXCLUDED.last_seen_at,
		        chat_id      = CASE WHEN u.granted_at IS NULL AND EXCLUDED.chat_id IS NOT NULL
		                            THEN EXCLUDED.chat_id ELSE u.chat_id END`,
		p.UserID, p.FullName, p.Username, nowOr(now), dest,
	)
	return err
}

// GetUser returns the user's record.
func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (UserRecord, error) {
	users := pgIdent(s.schema, "users")
	return scanPGUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+users+` WHERE user_id = $1`, userID))
}

// UserByInviteLink finds the user currently holding link.
func (s *PostgresStore) UserByInviteLink(ctx context.Context, link string) (UserRecord, error) {
	if link == "" {
		return UserRecord{}, ErrInvalidInput
	}
	users := pgIdent(s.schema, "users")
	return scanPGUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+users+` WHERE invite_link = $1 LIMIT 1`, link))
}

// DeleteUser removes the user and their uploads.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+pgIdent(s.schema, "uploads")+` WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM `+pgIdent(s.schema, "users")+` WHERE user_id = $1`, userID)
		return err
	})
}

// ListUsers returns every user ordered by user id.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	users := pgIdent(s.schema, "users")
	return s.queryUsers(ctx, `SELECT `+pgUserColumns+` FROM `+users+` ORDER BY user_id`)
}

// ListUsersByChat returns users whose recorded chat is chatID.
func (s *PostgresStore) ListUsersByChat(ctx context.Context, chatID int64) ([]UserRecord, error) {
	users := pgIdent(s.schema, "users")
	return s.queryUsers(ctx, `SELECT `+pgUserColumns+` FROM `+users+` WHERE chat_id = $1 ORDER BY user_id`, chatID)
}

func (s *PostgresStore) queryUsers(ctx context.Context, sql string, args ...any) ([]UserRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		u, err := scanPGUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUsersByChat purges users (and their uploads) recorded against chatID.
func (s *PostgresStore) DeleteUsersByChat(ctx context.Context, chatID int64) (int, error) {
	users := pgIdent(s.schema, "users")
	uploads := pgIdent(s.schema, "uploads")

	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+uploads+` WHERE user_id IN (SELECT user_id FROM `+users+` WHERE chat_id = $1)`,
			chatID,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM `+users+` WHERE chat_id = $1`, chatID)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

// RecordUpload dedups by (user, content id) and increments the count.
func (s *PostgresStore) RecordUpload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if err := validateUpload(in); err != nil {
		return UploadResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	now := nowOr(in.Now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return UploadResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(s.schema, "users")
	uploads := pgIdent(s.schema, "uploads")

	// Serialize all uploads per user.
	lockKey := "bouncer.user:" + strconv.FormatInt(in.Profile.UserID, 10)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return UploadResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+users+` (user_id, full_name, username)
		 VALUES ($1, $2, NULLIF($3, ''))
		 ON CONFLICT (user_id) DO NOTHING`,
		in.Profile.UserID, in.Profile.FullName, in.Profile.Username,
	); err != nil {
		return UploadResult{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return UploadResult{}, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO `+uploads+` (id, user_id, file_id, file_unique_id, kind, chat_id, accepted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, file_unique_id) DO NOTHING`,
		id, in.Profile.UserID, in.FileID, in.FileUniqueID, string(in.Kind), in.ChatID, now,
	)
	if err != nil {
		return UploadResult{}, fmt.Errorf("insert upload: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var count int
		if err := tx.QueryRow(ctx, `SELECT upload_count FROM `+users+` WHERE user_id = $1`, in.Profile.UserID).Scan(&count); err != nil {
			return UploadResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return UploadResult{}, err
		}
		return UploadResult{Count: count, Duplicate: true}, nil
	}

	var count int
	if err := tx.QueryRow(ctx,
		`UPDATE `+users+`
		    SET upload_count   = upload_count + 1,
		        last_upload_at = $2,
		        full_name      = COALESCE(NULLIF($3, ''), full_name),
		        username       = COALESCE(NULLIF($4, ''), username)
		  WHERE user_id = $1
		RETURNING upload_count`,
		in.Profile.UserID, now, in.Profile.FullName, in.Profile.Username,
	).Scan(&count); err != nil {
		return UploadResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{
		Count: count,
		Record: UploadRecord{
			ID:           id,
			UserID:       in.Profile.UserID,
			FileID:       in.FileID,
			FileUniqueID: in.FileUniqueID,
			Kind:         in.Kind,
			ChatID:       in.ChatID,
			AcceptedAt:   now,
		},
	}, nil
}

// RecentUploads returns up to limit uploads, newest first.
func (s *PostgresStore) RecentUploads(ctx context.Context, userID int64, limit int) ([]UploadRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	uploads := pgIdent(s.schema, "uploads")
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, file_id, file_unique_id, kind, chat_id, accepted_at
		   FROM `+uploads+`
		  WHERE user_id = $1
		  ORDER BY accepted_at DESC, id DESC
		  LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UploadRecord
	for rows.Next() {
		var (
			r    UploadRecord
			kind string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.FileID, &r.FileUniqueID, &kind, &r.ChatID, &r.AcceptedAt); err != nil {
			return nil, err
		}
		r.Kind = MediaKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordGrant overwrites the user's link and clears its consumption marker.
func (s *PostgresStore) RecordGrant(ctx context.Context, in GrantInput) error {
	if in.UserID == 0 || in.InviteLink == "" {
		return ErrInvalidInput
	}
	users := pgIdent(s.schema, "users")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` AS u (user_id, granted_at, invite_link, chat_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		    SET granted_at   = EXCLUDED.granted_at,
		        invite_link  = EXCLUDED.invite_link,
		        chat_id      = EXCLUDED.chat_id,
		        link_used_at = NULL`,
		in.UserID, nowOr(in.Now), in.InviteLink, in.ChatID,
	)
	return err
}

// MarkLinkUsed stamps consumption once.
func (s *PostgresStore) MarkLinkUsed(ctx context.Context, userID int64, link string, now time.Time) (bool, error) {
	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET link_used_at = $3
		  WHERE user_id = $1 AND invite_link = $2 AND link_used_at IS NULL`,
		userID, link, nowOr(now),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var sameLink bool
	err = s.pool.QueryRow(ctx,
		`SELECT invite_link IS NOT DISTINCT FROM $2 FROM `+users+` WHERE user_id = $1`, userID, link,
	).Scan(&sameLink)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !sameLink) {
		return false, ErrNotFound
	}
	return false, err
}

// UpsertActiveChat records (or retitles) a chat.
func (s *PostgresStore) UpsertActiveChat(ctx context.Context, chat ActiveChat) error {
	if chat.ChatID == 0 {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "active_chats")+` (chat_id, title) VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO UPDATE SET title = EXCLUDED.title`,
		chat.ChatID, chat.Title,
	)
	return err
}

// ListActiveChats returns chats ordered by id.
func (s *PostgresStore) ListActiveChats(ctx context.Context) ([]ActiveChat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, title FROM `+pgIdent(s.schema, "active_chats")+` ORDER BY chat_id`)
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
func (s *PostgresStore) ActiveChatTitle(ctx context.Context, chatID int64) (string, error) {
	var title string
	err := s.pool.QueryRow(ctx,
		`SELECT title FROM `+pgIdent(s.schema, "active_chats")+` WHERE chat_id = $1`, chatID,
	).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return title, err
}

// DeleteActiveChat removes chatID from the registry.
func (s *PostgresStore) DeleteActiveChat(ctx context.Context, chatID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "active_chats")+` WHERE chat_id = $1`, chatID)
	return err
}

// GetSetting returns nil when the key is unset.
func (s *PostgresStore) GetSetting(ctx context.Context, key string) (*string, error) {
	var v *string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM `+pgIdent(s.schema, "settings")+` WHERE key = $1`, key,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// SetSetting stores value; nil clears the key.
func (s *PostgresStore) SetSetting(ctx context.Context, key string, value *string) error {
	if key == "" {
		return ErrInvalidInput
	}
	settings := pgIdent(s.schema, "settings")
	if value == nil {
		_, err := s.pool.Exec(ctx, `DELETE FROM `+settings+` WHERE key = $1`, key)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+settings+` (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, *value,
	)
	return err
}

// BanUser records a ban (idempotent).
func (s *PostgresStore) BanUser(ctx context.Context, b BannedUser) error {
	if b.UserID == 0 {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "banned_users")+` (user_id, banned_at, banned_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		b.UserID, nowOr(b.BannedAt), b.BannedBy,
	)
	return err
}

// UnbanUser lifts a ban (idempotent).
func (s *PostgresStore) UnbanUser(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "banned_users")+` WHERE user_id = $1`, userID)
	return err
}

// IsBanned reports whether userID is banned.
func (s *PostgresStore) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var banned bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+pgIdent(s.schema, "banned_users")+` WHERE user_id = $1)`, userID,
	).Scan(&banned)
	return banned, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
