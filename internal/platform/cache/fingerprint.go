package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is a stable digest of a request's canonical parts. Parts are
// joined with NUL so ("ab","c") and ("a","bc") never collide.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
