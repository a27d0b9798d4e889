package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// keyring holds the accepted API keys.
type keyring [][]byte

func newKeyring(keys []string) keyring {
	var kr keyring
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			kr = append(kr, []byte(k))
		}
	}
	return kr
}

func (kr keyring) accepts(given string) bool {
	if given == "" {
		return false
	}
	g := []byte(given)
	for _, k := range kr {
		if subtle.ConstantTimeCompare(k, g) == 1 {
			return true
		}
	}
	return false
}

// presentedKey reads "Authorization: Bearer <key>" or X-API-Key.
func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// RequireKey guards the ops API. With no keys configured every request
// passes (local dev).
func RequireKey(keys []string) func(http.Handler) http.Handler {
	kr := newKeyring(keys)
	return func(next http.Handler) http.Handler {
		if len(kr) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !kr.accepts(presentedKey(r)) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="watchdog"`)
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
