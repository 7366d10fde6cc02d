package app

import (
	"errors"
	"fmt"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DatabaseURL selects the store: postgres:// or postgresql:// for Postgres,
	// sqlite: or a file path for SQLite, empty for the in-memory store.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	DBMaxConnLifetime   time.Duration
	DBHealthCheckPeriod time.Duration
	DBConnectTimeout    time.Duration

	BotToken    string
	PollTimeout time.Duration

	// Admins may run admin commands; empty means anyone may.
	Admins        []int64
	UploadsNeeded int
	// LinkExpiration of zero issues links that never expire.
	LinkExpiration   time.Duration
	AlbumSettle      time.Duration
	ReviewChatID     int64
	ReviewMediaCount int
	ExportDir        string
	MessagesFile     string

	MaxBackground int64
	ChatCacheSize int

	// AdminTokenHash is an argon2id hash; empty disables /feed and /admin/export.
	AdminTokenHash     string
	FeedAllowedOrigins []string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvStringAllowEmpty("BOUNCER_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  EnvString("BOUNCER_LOG_LEVEL", "info"),
		LogFormat: EnvString("BOUNCER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BOUNCER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BOUNCER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BOUNCER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BOUNCER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BOUNCER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BOUNCER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BOUNCER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BOUNCER_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("BOUNCER_DB_SCHEMA", "bouncer"),

		DBMaxConnLifetime:   EnvDuration("BOUNCER_DB_MAX_CONN_LIFETIME", time.Hour),
		DBHealthCheckPeriod: EnvDuration("BOUNCER_DB_HEALTH_CHECK_PERIOD", time.Minute),
		DBConnectTimeout:    EnvDuration("BOUNCER_DB_CONNECT_TIMEOUT", 5*time.Second),

		BotToken:    EnvString("BOUNCER_BOT_TOKEN", ""),
		PollTimeout: EnvDuration("BOUNCER_POLL_TIMEOUT", 60*time.Second),

		Admins:           EnvInt64List("BOUNCER_ADMIN_IDS"),
		UploadsNeeded:    EnvInt("BOUNCER_UPLOADS_NEEDED", 5),
		LinkExpiration:   EnvDurationOrZero("BOUNCER_LINK_EXPIRATION", 10*time.Minute),
		AlbumSettle:      EnvDuration("BOUNCER_ALBUM_SETTLE", 1500*time.Millisecond),
		ReviewChatID:     EnvInt64("BOUNCER_REVIEW_CHAT_ID", 0),
		ReviewMediaCount: EnvInt("BOUNCER_REVIEW_MEDIA_COUNT", 0),
		ExportDir:        EnvString("BOUNCER_EXPORT_DIR", "exports"),
		MessagesFile:     EnvString("BOUNCER_MESSAGES_FILE", ""),

		MaxBackground: int64(EnvInt("BOUNCER_MAX_BACKGROUND", 32)),
		ChatCacheSize: EnvInt("BOUNCER_ACTIVE_CHAT_CACHE", 256),

		AdminTokenHash:     EnvString("BOUNCER_ADMIN_TOKEN_HASH", ""),
		FeedAllowedOrigins: EnvStringList("BOUNCER_FEED_ALLOWED_ORIGINS"),
	}
}

var ErrBotTokenMissing = errors.New("config: BOUNCER_BOT_TOKEN is required")

// Validate checks the settings the bot cannot run without.
func (c Config) Validate() error {
	if c.BotToken == "" {
		return ErrBotTokenMissing
	}
	if c.UploadsNeeded < 1 {
		return fmt.Errorf("config: BOUNCER_UPLOADS_NEEDED must be >= 1, got %d", c.UploadsNeeded)
	}
	if c.LinkExpiration < 0 {
		return fmt.Errorf("config: BOUNCER_LINK_EXPIRATION must not be negative")
	}
	return nil
}
