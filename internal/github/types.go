// types.go defines the adapter-facing view of GitHub API resources. Handlers
// and workspace code consume these types and never see raw API payloads.
package github

import (
	"io"
	"time"
)

// StreamedFile carries a raw content stream and its upstream content type.
// The caller must close Body.
type StreamedFile struct {
	Body        io.ReadCloser
	ContentType string
}

// RepoRef identifies a branch of a repository for content operations
type RepoRef struct {
	Owner  string
	Repo   string
	Branch string
}

// User is the authenticated GitHub account behind a token
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Repo is repository metadata relevant to project binding
type Repo struct {
	FullName      string `json:"full_name"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

// Entry is one row of a directory listing
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	Size int64  `json:"size"`
	SHA  string `json:"sha"`
}

// File is a fully read file. Content holds the decoded text; ContentBase64
// retains the upstream base64 payload (newlines stripped) so byte-exact copies
// never round-trip through a string decode.
type File struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	SHA           string `json:"sha"`
	Size          int64  `json:"size"`
	Content       string `json:"content"`
	ContentBase64 string `json:"-"`
	DownloadURL   string `json:"download_url"`
}

// Commit is one entry of a path's history
type Commit struct {
	SHA         string    `json:"sha"`
	Message     string    `json:"message"`
	AuthorName  string    `json:"author_name"`
	AuthorLogin string    `json:"author_login"`
	Date        time.Time `json:"date"`
	HTMLURL     string    `json:"html_url"`
}

// WriteResult reports a successful content write or delete
type WriteResult struct {
	CommitSHA  string `json:"commit_sha"`
	ContentSHA string `json:"content_sha,omitempty"`
}
