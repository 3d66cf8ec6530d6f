// message.go validates commit messages supplied with write operations.
package validation

import (
	"fmt"
	"strings"
)

const (
	// MinMessageLength rejects throwaway messages like "x".
	MinMessageLength = 4
	// MaxMessageLength keeps the subject line readable in GitHub's UI.
	MaxMessageLength = 280
)

// ValidateCommitMessage validates a user-supplied commit message.
func ValidateCommitMessage(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return fmt.Errorf("commit message is required")
	}
	if len(trimmed) < MinMessageLength {
		return fmt.Errorf("commit message must be at least %d characters", MinMessageLength)
	}
	if len(trimmed) > MaxMessageLength {
		return fmt.Errorf("commit message exceeds %d characters", MaxMessageLength)
	}
	return nil
}
