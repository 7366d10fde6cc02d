package store

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// postgresSchemaSQL returns idempotent DDL for the given schema.
func postgresSchemaSQL(schema string) string {
	users := pgIdent(schema, "users")
	uploads := pgIdent(schema, "uploads")
	chats := pgIdent(schema, "active_chats")
	settings := pgIdent(schema, "settings")
	bans := pgIdent(schema, "banned_users")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  user_id        BIGINT PRIMARY KEY,
  full_name      TEXT NOT NULL DEFAULT '',
  username       TEXT,
  last_seen_at   TIMESTAMPTZ,
  last_upload_at TIMESTAMPTZ,
  upload_count   INTEGER NOT NULL DEFAULT 0,
  granted_at     TIMESTAMPTZ,
  invite_link    TEXT,
  link_used_at   TIMESTAMPTZ,
  chat_id        BIGINT,

  CONSTRAINT chk_users_upload_count CHECK (upload_count >= 0),
  CONSTRAINT chk_users_link_needs_grant CHECK (invite_link IS NULL OR granted_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_users_invite_link ON %s (invite_link);
CREATE INDEX IF NOT EXISTS idx_users_chat_id ON %s (chat_id);

CREATE TABLE IF NOT EXISTS %s (
  id             TEXT PRIMARY KEY,
  user_id        BIGINT NOT NULL,
  file_id        TEXT NOT NULL,
  file_unique_id TEXT NOT NULL,
  kind           TEXT NOT NULL,
  chat_id        BIGINT NOT NULL,
  accepted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_uploads_user_content UNIQUE (user_id, file_unique_id)
);

CREATE INDEX IF NOT EXISTS idx_uploads_user_accepted ON %s (user_id, accepted_at DESC);

CREATE TABLE IF NOT EXISTS %s (
  chat_id BIGINT PRIMARY KEY,
  title   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS %s (
  key   TEXT PRIMARY KEY,
  value TEXT
);

CREATE TABLE IF NOT EXISTS %s (
  user_id   BIGINT PRIMARY KEY,
  banned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  banned_by BIGINT NOT NULL DEFAULT 0
);
`,
		pgx.Identifier{schema}.Sanitize(),
		users, users, users,
		uploads, uploads,
		chats, settings, bans,
	)
}

// sqliteSchemaSQL is the embedded-store DDL. Timestamps are unix nanoseconds.
const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
  user_id        INTEGER PRIMARY KEY,
  full_name      TEXT NOT NULL DEFAULT '',
  username       TEXT,
  last_seen_at   INTEGER,
  last_upload_at INTEGER,
  upload_count   INTEGER NOT NULL DEFAULT 0 CHECK (upload_count >= 0),
  granted_at     INTEGER,
  invite_link    TEXT,
  link_used_at   INTEGER,
  chat_id        INTEGER,
  CHECK (invite_link IS NULL OR granted_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_users_invite_link ON users (invite_link);
CREATE INDEX IF NOT EXISTS idx_users_chat_id ON users (chat_id);

CREATE TABLE IF NOT EXISTS uploads (
  id             TEXT PRIMARY KEY,
  user_id        INTEGER NOT NULL,
  file_id        TEXT NOT NULL,
  file_unique_id TEXT NOT NULL,
  kind           TEXT NOT NULL,
  chat_id        INTEGER NOT NULL,
  accepted_at    INTEGER NOT NULL,
  UNIQUE (user_id, file_unique_id)
);

CREATE INDEX IF NOT EXISTS idx_uploads_user_accepted ON uploads (user_id, accepted_at DESC);

CREATE TABLE IF NOT EXISTS active_chats (
  chat_id INTEGER PRIMARY KEY,
  title   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settings (
  key   TEXT PRIMARY KEY,
  value TEXT
);

CREATE TABLE IF NOT EXISTS banned_users (
  user_id   INTEGER PRIMARY KEY,
  banned_at INTEGER NOT NULL,
  banned_by INTEGER NOT NULL DEFAULT 0
);
`
