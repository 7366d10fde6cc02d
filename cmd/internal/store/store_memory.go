package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bouncer/cmd/internal/ids"
)

// MemoryStore is a dev-only fallback when no database is configured.
// A single mutex serializes every write, which trivially satisfies the per-user ordering contract.
type MemoryStore struct {
	mu       sync.Mutex
	closed   bool
	users    map[int64]*UserRecord
	uploads  map[int64][]UploadRecord
	dedupe   map[uploadKey]struct{}
	chats    map[int64]string
	settings map[string]string
	bans     map[int64]BannedUser
}

type uploadKey struct {
	userID   int64
	uniqueID string
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]*UserRecord),
		uploads:  make(map[int64][]UploadRecord),
		dedupe:   make(map[uploadKey]struct{}),
		chats:    make(map[int64]string),
		settings: make(map[string]string),
		bans:     make(map[int64]BannedUser),
	}
}

func (s *MemoryStore) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) userLocked(userID int64) *UserRecord {
	u := s.users[userID]
	if u == nil {
		u = &UserRecord{UserID: userID}
		s.users[userID] = u
	}
	return u
}

// TouchUser upserts display fields and last-seen.
func (s *MemoryStore) TouchUser(ctx context.Context, p Profile, now time.Time, dest *int64) error {
	if p.UserID == 0 {
		return ErrInvalidInput
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	u := s.userLocked(p.UserID)
	applyProfile(u, p)
	t := now
	u.LastSeenAt = &t
	if u.GrantedAt == nil && dest != nil {
		d := *dest
		u.ChatID = &d
	}
	return nil
}

func applyProfile(u *UserRecord, p Profile) {
	if p.FullName != "" {
		u.FullName = p.FullName
	}
	if p.Username != "" {
		h := p.Username
		u.Username = &h
	}
}

// GetUser returns a copy of the user's record.
func (s *MemoryStore) GetUser(ctx context.Context, userID int64) (UserRecord, error) {
	if err := s.lock(ctx); err != nil {
		return UserRecord{}, err
	}
	defer s.mu.Unlock()

	u := s.users[userID]
	if u == nil {
		return UserRecord{}, ErrNotFound
	}
	return cloneUser(*u), nil
}

// UserByInviteLink finds the user currently holding link.
func (s *MemoryStore) UserByInviteLink(ctx context.Context, link string) (UserRecord, error) {
	if link == "" {
		return UserRecord{}, ErrInvalidInput
	}
	if err := s.lock(ctx); err != nil {
		return UserRecord{}, err
	}
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.InviteLink != nil && *u.InviteLink == link {
			return cloneUser(*u), nil
		}
	}
	return UserRecord{}, ErrNotFound
}

// DeleteUser removes the user and their uploads.
func (s *MemoryStore) DeleteUser(ctx context.Context, userID int64) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.deleteUserLocked(userID)
	return nil
}

func (s *MemoryStore) deleteUserLocked(userID int64) {
	delete(s.users, userID)
	for _, up := range s.uploads[userID] {
		delete(s.dedupe, uploadKey{userID: userID, uniqueID: up.FileUniqueID})
	}
	delete(s.uploads, userID)
}

// ListUsers returns every user ordered by user id.
func (s *MemoryStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]UserRecord, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(*u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ListUsersByChat returns users whose recorded chat is chatID.
func (s *MemoryStore) ListUsersByChat(ctx context.Context, chatID int64) ([]UserRecord, error) {
	all, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, u := range all {
		if u.ChatID != nil && *u.ChatID == chatID {
			out = append(out, u)
		}
	}
	return out, nil
}

// DeleteUsersByChat purges users (and their uploads) recorded against chatID.
func (s *MemoryStore) DeleteUsersByChat(ctx context.Context, chatID int64) (int, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for id, u := range s.users {
		if u.ChatID != nil && *u.ChatID == chatID {
			s.deleteUserLocked(id)
			n++
		}
	}
	return n, nil
}

// RecordUpload dedups by (user, content id) and increments the count.
func (s *MemoryStore) RecordUpload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if err := validateUpload(in); err != nil {
		return UploadResult{}, err
	}
	now := nowOr(in.Now)
	if err := s.lock(ctx); err != nil {
		return UploadResult{}, err
	}
	defer s.mu.Unlock()

	u := s.userLocked(in.Profile.UserID)
	key := uploadKey{userID: in.Profile.UserID, uniqueID: in.FileUniqueID}
	if _, dup := s.dedupe[key]; dup {
		return UploadResult{Count: u.UploadCount, Duplicate: true}, nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return UploadResult{}, err
	}
	rec := UploadRecord{
		ID:           id,
		UserID:       in.Profile.UserID,
		FileID:       in.FileID,
		FileUniqueID: in.FileUniqueID,
		Kind:         in.Kind,
		ChatID:       in.ChatID,
		AcceptedAt:   now,
	}
	s.dedupe[key] = struct{}{}
	s.uploads[in.Profile.UserID] = append(s.uploads[in.Profile.UserID], rec)

	applyProfile(u, in.Profile)
	u.UploadCount++
	t := now
	u.LastUploadAt = &t

	return UploadResult{Count: u.UploadCount, Record: rec}, nil
}

// RecentUploads returns up to limit uploads, newest first.
func (s *MemoryStore) RecentUploads(ctx context.Context, userID int64, limit int) ([]UploadRecord, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	list := s.uploads[userID]
	out := make([]UploadRecord, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}

// RecordGrant overwrites the user's link and clears its consumption marker.
func (s *MemoryStore) RecordGrant(ctx context.Context, in GrantInput) error {
	if in.UserID == 0 || in.InviteLink == "" {
		return ErrInvalidInput
	}
	now := nowOr(in.Now)
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	u := s.userLocked(in.UserID)
	link, chat := in.InviteLink, in.ChatID
	u.GrantedAt = &now
	u.InviteLink = &link
	u.ChatID = &chat
	u.LinkUsedAt = nil
	return nil
}

// MarkLinkUsed stamps consumption once.
func (s *MemoryStore) MarkLinkUsed(ctx context.Context, userID int64, link string, now time.Time) (bool, error) {
	now = nowOr(now)
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	u := s.users[userID]
	if u == nil || u.InviteLink == nil || *u.InviteLink != link {
		return false, ErrNotFound
	}
	if u.LinkUsedAt != nil {
		return false, nil
	}
	u.LinkUsedAt = &now
	return true, nil
}

// UpsertActiveChat records (or retitles) a chat.
func (s *MemoryStore) UpsertActiveChat(ctx context.Context, chat ActiveChat) error {
	if chat.ChatID == 0 {
		return ErrInvalidInput
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.chats[chat.ChatID] = chat.Title
	return nil
}

// ListActiveChats returns chats ordered by id.
func (s *MemoryStore) ListActiveChats(ctx context.Context) ([]ActiveChat, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]ActiveChat, 0, len(s.chats))
	for id, title := range s.chats {
		out = append(out, ActiveChat{ChatID: id, Title: title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// ActiveChatTitle returns the recorded title of chatID.
func (s *MemoryStore) ActiveChatTitle(ctx context.Context, chatID int64) (string, error) {
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	title, ok := s.chats[chatID]
	if !ok {
		return "", ErrNotFound
	}
	return title, nil
}

// DeleteActiveChat removes chatID from the registry.
func (s *MemoryStore) DeleteActiveChat(ctx context.Context, chatID int64) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	delete(s.chats, chatID)
	return nil
}

// GetSetting returns nil when the key is unset.
func (s *MemoryStore) GetSetting(ctx context.Context, key string) (*string, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	v, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// SetSetting stores value; nil clears the key.
func (s *MemoryStore) SetSetting(ctx context.Context, key string, value *string) error {
	if key == "" {
		return ErrInvalidInput
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if value == nil {
		delete(s.settings, key)
		return nil
	}
	s.settings[key] = *value
	return nil
}

// BanUser records a ban (idempotent).
func (s *MemoryStore) BanUser(ctx context.Context, b BannedUser) error {
	if b.UserID == 0 {
		return ErrInvalidInput
	}
	b.BannedAt = nowOr(b.BannedAt)
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, ok := s.bans[b.UserID]; !ok {
		s.bans[b.UserID] = b
	}
	return nil
}

// UnbanUser lifts a ban (idempotent).
func (s *MemoryStore) UnbanUser(ctx context.Context, userID int64) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	delete(s.bans, userID)
	return nil
}

// IsBanned reports whether userID is banned.
func (s *MemoryStore) IsBanned(ctx context.Context, userID int64) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	_, ok := s.bans[userID]
	return ok, nil
}

// Ping always succeeds while open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneUser(u UserRecord) UserRecord {
	out := u
	out.Username = cloneStr(u.Username)
	out.InviteLink = cloneStr(u.InviteLink)
	out.LastSeenAt = cloneTime(u.LastSeenAt)
	out.LastUploadAt = cloneTime(u.LastUploadAt)
	out.GrantedAt = cloneTime(u.GrantedAt)
	out.LinkUsedAt = cloneTime(u.LinkUsedAt)
	if u.ChatID != nil {
		c := *u.ChatID
		out.ChatID = &c
	}
	return out
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func validateUpload(in UploadInput) error {
	if in.Profile.UserID == 0 || in.FileUniqueID == "" || in.FileID == "" {
		return ErrInvalidInput
	}
	if !in.Kind.Valid() {
		return ErrInvalidInput
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
