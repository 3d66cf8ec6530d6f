// email.go validates and normalizes notification email recipient lists.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
)

// MaxNotificationEmails caps the recipient list per project.
const MaxNotificationEmails = 50

// NormalizeEmail trims and lower-cases an address, then validates it.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", fmt.Errorf("email is empty")
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil {
		return "", fmt.Errorf("invalid email %q", email)
	}
	// Reject display-name forms ("Jane <jane@x.com>"); only bare addresses
	// are stored.
	if addr.Address != normalized {
		return "", fmt.Errorf("invalid email %q", email)
	}
	return normalized, nil
}

// NormalizeEmails validates a recipient list and returns it trimmed,
// lower-cased, and deduplicated, preserving first-seen order. An empty input
// yields an empty, non-nil slice.
func NormalizeEmails(emails []string) ([]string, error) {
	if len(emails) > MaxNotificationEmails {
		return nil, fmt.Errorf("at most %d notification emails allowed", MaxNotificationEmails)
	}

	seen := make(map[string]bool, len(emails))
	result := make([]string, 0, len(emails))
	for _, email := range emails {
		normalized, err := NormalizeEmail(email)
		if err != nil {
			return nil, err
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		result = append(result, normalized)
	}
	return result, nil
}
