package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// apiKeyCost is the bcrypt cost used for stored API key hashes
const apiKeyCost = 12

// HashAPIKey returns the bcrypt hash to store as security.api_key_hash
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), apiKeyCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// keyVerifier checks a presented key against a bcrypt hash or a plain key
type keyVerifier struct {
	plain string
	hash  []byte

	mu       sync.Mutex
	verified []byte
}

func (v *keyVerifier) enabled() bool {
	return v.plain != "" || len(v.hash) > 0
}

func (v *keyVerifier) verify(provided string) bool {
	if len(v.hash) == 0 {
		return constantTimeEquals(v.plain, provided)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	// bcrypt is slow; remember the last key that matched
	if v.verified != nil && subtle.ConstantTimeCompare(v.verified, []byte(provided)) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(provided)) != nil {
		return false
	}
	v.verified = []byte(provided)
	return true
}

// APIKeyAuth creates middleware for API key authentication of /api routes.
// apiKeyHash (bcrypt) wins over apiKey; with neither set the API is open.
func APIKeyAuth(apiKey, apiKeyHash, headerName string) func(http.Handler) http.Handler {
	verifier := &keyVerifier{plain: apiKey}
	if apiKeyHash != "" {
		verifier.hash = []byte(apiKeyHash)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health endpoints
			path := r.URL.Path
			if path == "/health" || path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			// Only authenticate API routes
			if !strings.HasPrefix(path, "/api") || !verifier.enabled() {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get(headerName)
			if providedKey == "" {
				writeError(w, http.StatusUnauthorized, "API key is required.")
				return
			}

			if !verifier.verify(providedKey) {
				writeError(w, http.StatusUnauthorized, "Invalid API key.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// constantTimeEquals performs a constant-time string comparison
func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
