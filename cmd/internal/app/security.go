package app

import (
	"fmt"
	"net/http"
	"strings"

	"bouncer/cmd/security/admintoken"
)

// ValidateSecurityConfig builds the admin token verifier. It returns nil, nil when
// no hash is configured, which leaves the admin HTTP routes unmounted.
//
// A malformed hash or out-of-bounds cost parameters are startup errors.
func ValidateSecurityConfig(cfg Config) (*admintoken.Verifier, error) {
	if strings.TrimSpace(cfg.AdminTokenHash) == "" {
		return nil, nil
	}
	tcfg, err := admintoken.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("security policy: %w", err)
	}
	v, err := admintoken.NewVerifier(tcfg, strings.TrimSpace(cfg.AdminTokenHash))
	if err != nil {
		return nil, fmt.Errorf("security policy: BOUNCER_ADMIN_TOKEN_HASH: %w", err)
	}
	return v, nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>". Browsers cannot
// set headers on websocket upgrades, so ?token= is accepted as a fallback.
func bearerToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func requireAdmin(v *admintoken.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Check(bearerToken(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bouncer"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
