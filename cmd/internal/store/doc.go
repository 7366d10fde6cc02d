// Package store is the record store for the bouncer: one row per user with upload/grant state,
// an append-only upload log keyed by (user, content id), the active-chat registry, bans and settings.
//
// Three implementations share the Store contract:
//   - PostgresStore: pgx pool, per-user transactional advisory locks.
//   - SQLiteStore: embedded single-writer database (modernc.org/sqlite).
//   - MemoryStore: dev/test fallback.
//
// The store is the per-user serialization point for upload counting; callers never
// read-modify-write counts themselves.
package store
