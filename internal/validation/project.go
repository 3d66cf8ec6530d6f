// project.go validates project and repository naming.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	repoNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	repoOwnerPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?$`)
	slugPattern      = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	slugInvalidRunes = regexp.MustCompile(`[^a-z0-9]+`)
)

// ValidateRepoName validates a GitHub repository name.
func ValidateRepoName(name string) error {
	if name == "" {
		return fmt.Errorf("repository name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("repository name exceeds 100 characters")
	}
	if !repoNamePattern.MatchString(name) {
		return fmt.Errorf("repository name may only contain letters, digits, hyphens, underscores, and dots")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("repository name %q is reserved", name)
	}
	return nil
}

// ValidateRepoOwner validates a GitHub user or organization login.
func ValidateRepoOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("repository owner is required")
	}
	if len(owner) > 39 {
		return fmt.Errorf("repository owner exceeds 39 characters")
	}
	if !repoOwnerPattern.MatchString(owner) {
		return fmt.Errorf("repository owner may only contain letters, digits, and non-edge hyphens")
	}
	return nil
}

// ValidateProjectName validates a project display name.
func ValidateProjectName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("project name is required")
	}
	if len(trimmed) > 120 {
		return fmt.Errorf("project name exceeds 120 characters")
	}
	return nil
}

// ValidateSlug validates a URL-safe project slug.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("slug is required")
	}
	if len(slug) > 100 {
		return fmt.Errorf("slug exceeds 100 characters")
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug must be lowercase letters, digits, and single hyphens")
	}
	return nil
}

// Slugify derives a URL-safe slug from a display name. Returns an empty
// string when nothing usable remains, which callers must treat as invalid.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugInvalidRunes.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 100 {
		slug = strings.Trim(slug[:100], "-")
	}
	return slug
}
