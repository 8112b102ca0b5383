package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/pawanbishnoiii/vk1-sub001/internal/httputil"
)

// AdminKeyHeader carries the admin key on admin API requests.
const AdminKeyHeader = "X-Admin-Key"

// Argon2id parameters used by HashAdminKey.
const (
	argonMemory      uint32 = 64 * 1024
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
)

// HashAdminKey encodes key as $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>.
func HashAdminKey(key string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(key), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyAdminKey checks key against an encoded Argon2id hash in constant time.
func VerifyAdminKey(key, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		slog.Error("malformed argon2id hash")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		slog.Error("malformed argon2id parameters", "err", err)
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(key), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// AdminOnly rejects requests whose X-Admin-Key does not match encodedHash.
// An empty hash disables the admin API entirely.
func AdminOnly(encodedHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if encodedHash == "" {
				httputil.WriteError(w, "admin API disabled", http.StatusForbidden)
				return
			}
			key := r.Header.Get(AdminKeyHeader)
			if key == "" || !VerifyAdminKey(key, encodedHash) {
				slog.Warn("admin key rejected", "remote", r.RemoteAddr)
				httputil.WriteError(w, "invalid admin key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
