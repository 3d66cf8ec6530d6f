// Package validation checks user-supplied input before any I/O happens:
// repository-relative paths, commit messages, notification email lists, and
// repository names. Every check here runs before a single byte is sent to the
// database or to GitHub.
package validation

import (
	"fmt"
	"strings"
)

// MaxPathLength bounds repository-relative paths. GitHub tolerates longer, but
// nothing a human edits in a browser needs more.
const MaxPathLength = 512

// ValidatePath validates a repository-relative file or directory path.
// Paths are slash-separated, relative, and must not escape the repository
// root. The empty string is valid and means the root.
func ValidatePath(path string) error {
	if path == "" {
		return nil
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("path exceeds %d characters", MaxPathLength)
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must be relative")
	}
	if strings.Contains(path, "\\") {
		return fmt.Errorf("path must use forward slashes")
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("path contains control characters")
		}
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			return fmt.Errorf("path contains an empty segment")
		}
		if segment == "." || segment == ".." {
			return fmt.Errorf("path must not contain traversal segments")
		}
	}
	return nil
}

// ValidateFilePath is ValidatePath plus the requirement that the path names a
// file, not the root.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	return ValidatePath(path)
}

// ValidateMove validates a rename/move request. Source and destination must
// both be valid file paths and must differ.
func ValidateMove(fromPath, toPath string) error {
	if err := ValidateFilePath(fromPath); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := ValidateFilePath(toPath); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if fromPath == toPath {
		return fmt.Errorf("source and destination are the same path")
	}
	// Moving a directory under itself would recurse forever.
	if strings.HasPrefix(toPath, fromPath+"/") {
		return fmt.Errorf("destination is inside the source directory")
	}
	return nil
}

// IsEditableExtension reports whether the path's extension is in the
// configured set of text-editable extensions. Extensions are matched without
// the leading dot, case-insensitively.
func IsEditableExtension(path string, editable []string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return false
	}
	ext := strings.ToLower(path[idx+1:])
	for _, allowed := range editable {
		if strings.ToLower(strings.TrimPrefix(allowed, ".")) == ext {
			return true
		}
	}
	return false
}
