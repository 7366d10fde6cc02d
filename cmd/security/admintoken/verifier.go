package admintoken

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
)

// Verifier checks presented tokens against one configured hash.
//
// Argon2id is deliberately slow, so the SHA-256 digest of the last accepted token is
// remembered and repeat presentations skip the key derivation.
type Verifier struct {
	cfg     Config
	encoded string

	mu       sync.Mutex
	accepted [sha256.Size]byte
	hasCache bool
}

// NewVerifier validates encoded up front so misconfiguration fails at startup.
func NewVerifier(cfg Config, encoded string) (*Verifier, error) {
	params, _, _, err := decode(encoded)
	if err != nil {
		return nil, err
	}
	if !withinBounds(params, cfg.Params) {
		return nil, ErrInvalidHash
	}
	return &Verifier{cfg: cfg, encoded: encoded}, nil
}

// Check reports whether token is the admin token. A nil Verifier denies everything.
func (v *Verifier) Check(token string) bool {
	if v == nil || token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	v.mu.Lock()
	cached := v.hasCache && subtle.ConstantTimeCompare(digest[:], v.accepted[:]) == 1
	v.mu.Unlock()
	if cached {
		return true
	}

	ok, err := v.cfg.Verify(v.encoded, token)
	if err != nil || !ok {
		return false
	}

	v.mu.Lock()
	v.accepted = digest
	v.hasCache = true
	v.mu.Unlock()
	return true
}
