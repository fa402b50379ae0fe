package attempt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// attemptCodeBytes gives 128 bits of entropy, enough that code collisions are
// not a practical concern even across years of attempts.
const attemptCodeBytes = 16

// GenerateCode produces a fresh random attempt code. The code identifies the
// attempt to the vendor software without exposing internal IDs.
func GenerateCode() (string, error) {
	buf := make([]byte, attemptCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("attempt: generating code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
