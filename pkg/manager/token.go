package manager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// newRuntimeToken generates the per-sandbox bearer secret. The token is
// injected into the container as SECRET_TOKEN at create time and never
// rotates for the container's lifetime; pooled sandboxes keep the token
// they were built with across re-keying.
func newRuntimeToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
