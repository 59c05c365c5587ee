package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/af-corp/hass-agent/internal/httputil"
)

// TokenSet holds the accepted token hashes. It can be replaced at runtime
// when the configuration reloads.
type TokenSet struct {
	mu     sync.RWMutex
	hashes []string
}

func NewTokenSet(hashes []string) *TokenSet {
	s := &TokenSet{}
	s.Replace(hashes)
	return s
}

func (s *TokenSet) Replace(hashes []string) {
	normalized := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			normalized = append(normalized, h)
		}
	}
	s.mu.Lock()
	s.hashes = normalized
	s.mu.Unlock()
}

// Enabled reports whether any token is configured. With none, requests
// pass through unauthenticated.
func (s *TokenSet) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes) > 0
}

// Contains reports whether hash is accepted.
func (s *TokenSet) Contains(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	for _, h := range s.hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(hash)) == 1 {
			found = true
		}
	}
	return found
}

// Middleware returns a chi middleware that authenticates requests via Bearer token.
func Middleware(tokens *TokenSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokens.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			reqID := w.Header().Get("X-Request-ID")

			// Extract Bearer token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <token>")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <token>")
				return
			}
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Empty access token")
				return
			}

			hash := HashToken(token)
			if !tokens.Contains(hash) {
				slog.Warn("auth failed: token not accepted", "token_prefix", TokenPrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid access token")
				return
			}

			ctx := ContextWithCaller(r.Context(), &Caller{TokenHash: hash, TokenPrefix: TokenPrefix(token)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
