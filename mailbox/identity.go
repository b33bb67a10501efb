package mailbox

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentFingerprint returns a stable fingerprint of raw message content.
func ContentFingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// CanonicalMessageID strips the angle brackets and surrounding space from
// a raw Message-ID header value.
func CanonicalMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}
