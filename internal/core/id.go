package core

import (
	"crypto/rand"
	"encoding/base64"
)

// NewID returns an 8-byte random identifier, base64url-encoded without
// padding (11 characters).
func NewID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is in no state to continue.
		panic("core: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
