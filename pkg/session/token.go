package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rhuss/authcore/pkg/debug"
)

// maxTokenLen bounds what Validate will hash. Real tokens are far shorter.
const maxTokenLen = 512

// newToken returns n random bytes, hex-encoded.
func newToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the lookup digest stored in place of the token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// hint is the display-safe suffix shown in session lists.
func hint(token string) string {
	return debug.Mask(token)
}
