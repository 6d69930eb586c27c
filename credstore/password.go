package credstore

import (
	"fmt"
	"os"
	"strings"
)

// ReadPasswordFile reads a UTF-8 password file and returns its contents
// with surrounding whitespace trimmed. The trim is irrevocable: a password
// whose real value is, say, a single trailing newline cannot be
// represented this way. Operators must be told this in documentation
// rather than discovering it from a failed handshake.
func ReadPasswordFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading password file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
