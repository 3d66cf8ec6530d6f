// Package github implements the repository adapter for the GitHub REST API.
// The adapter is stateless: every call takes the caller's OAuth access token,
// so one client instance serves all sessions. It talks to api.github.com by
// default and to a configurable base URL under test or against GitHub
// Enterprise Server.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docverctl/docverctl/internal/telemetry"
)

const defaultAPIURL = "https://api.github.com"

// commitPageSize caps how much history a single file-history request pulls.
const commitPageSize = 50

// Client is a stateless GitHub REST API adapter
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// NewClient creates a GitHub adapter against api.github.com
func NewClient() *Client {
	return NewClientWithBaseURL(defaultAPIURL)
}

// NewClientWithBaseURL creates a GitHub adapter against a custom API base URL
func NewClientWithBaseURL(apiURL string) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetAuthenticatedUser returns the account that owns the access token
func (c *Client) GetAuthenticatedUser(ctx context.Context, token string) (*User, error) {
	resp, err := c.get(ctx, token, "get_authenticated_user", "/user")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp, "failed to fetch authenticated user")
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("github: decode user: %w", err)
	}

	return &user, nil
}

// GetRepo gets metadata for a repository. Returns ErrRepoNotFound on 404,
// which is also what GitHub answers for repositories the token cannot see.
func (c *Client) GetRepo(ctx context.Context, token, owner, repo string) (*Repo, error) {
	resp, err := c.get(ctx, token, "get_repo", fmt.Sprintf("/repos/%s/%s", owner, repo))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRepoNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp, "failed to fetch repository")
	}

	var ghRepo struct {
		Name          string `json:"name"`
		FullName      string `json:"full_name"`
		Private       bool   `json:"private"`
		DefaultBranch string `json:"default_branch"`
		HTMLURL       string `json:"html_url"`
		Owner         struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ghRepo); err != nil {
		return nil, fmt.Errorf("github: decode repository: %w", err)
	}

	return &Repo{
		FullName:      ghRepo.FullName,
		Owner:         ghRepo.Owner.Login,
		Name:          ghRepo.Name,
		Private:       ghRepo.Private,
		DefaultBranch: ghRepo.DefaultBranch,
		HTMLURL:       ghRepo.HTMLURL,
	}, nil
}

// ListDirectory lists a directory, directories first, each group sorted by
// name. A 404 at the repository root means an empty (just-initialized)
// repository and yields an empty listing; a 404 below the root is
// ErrPathNotFound.
func (c *Client) ListDirectory(ctx context.Context, token string, ref RepoRef, path string) ([]*Entry, error) {
	resp, err := c.get(ctx, token, "list_directory", c.contentsPath(ref, path))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		if path == "" {
			return []*Entry{}, nil
		}
		return nil, ErrPathNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp, "failed to list directory")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: read directory listing: %w", err)
	}

	// The contents endpoint answers an object for a file and an array for a
	// directory.
	if len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] != '[' {
		return nil, ErrNotADir
	}

	var raw []struct {
		Name string `json:"name"`
		Path string `json:"path"`
		Type string `json:"type"`
		Size int64  `json:"size"`
		SHA  string `json:"sha"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("github: decode directory listing: %w", err)
	}

	entries := make([]*Entry, len(raw))
	for i, e := range raw {
		entries[i] = &Entry{Name: e.Name, Path: e.Path, Type: e.Type, Size: e.Size, SHA: e.SHA}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "dir"
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// ReadFile reads a file and decodes its content as text
func (c *Client) ReadFile(ctx context.Context, token string, ref RepoRef, path string) (*File, error) {
	file, err := c.readContent(ctx, token, ref, path)
	if err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(file.ContentBase64)
	if err != nil {
		return nil, fmt.Errorf("github: decode file content: %w", err)
	}
	file.Content = string(decoded)

	return file, nil
}

// ReadFileRaw reads a file keeping only the upstream base64 payload. Used by
// move operations so binary files are copied byte-exact.
func (c *Client) ReadFileRaw(ctx context.Context, token string, ref RepoRef, path string) (*File, error) {
	return c.readContent(ctx, token, ref, path)
}

// ReadFileStream streams a file's raw bytes along with the upstream content
// type. The caller must close the reader.
func (c *Client) ReadFileStream(ctx context.Context, token string, ref RepoRef, path string) (io.ReadCloser, string, error) {
	req, err := c.newRequest(ctx, token, "GET", c.contentsPath(ref, path), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/vnd.github.raw")

	resp, err := c.do("read_file_stream", req)
	if err != nil {
		return nil, "", err
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, "", ErrPathNotFound
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", c.apiError(resp, "failed to stream file")
	}

	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// UpsertFile creates or updates a file. A nil sha asks GitHub to create the
// path; GitHub rejects that when the path already exists, and rejects a stale
// sha on update. Both reject cases surface as ErrStaleSHA.
func (c *Client) UpsertFile(ctx context.Context, token string, ref RepoRef, path, contentBase64, message string, sha *string) (*WriteResult, error) {
	payload := map[string]interface{}{
		"message": message,
		"content": contentBase64,
	}
	if ref.Branch != "" {
		payload["branch"] = ref.Branch
	}
	if sha != nil && *sha != "" {
		payload["sha"] = *sha
	}

	resp, err := c.send(ctx, token, "upsert_file", "PUT", c.rawContentsPath(ref, path), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return nil, ErrRepoNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return nil, ErrStaleSHA
	default:
		return nil, c.apiError(resp, "failed to write file")
	}

	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("github: decode write result: %w", err)
	}

	return &WriteResult{CommitSHA: result.Commit.SHA, ContentSHA: result.Content.SHA}, nil
}

// DeleteFile removes a file. The sha is mandatory; a stale one surfaces as
// ErrStaleSHA.
func (c *Client) DeleteFile(ctx context.Context, token string, ref RepoRef, path, sha, message string) (*WriteResult, error) {
	payload := map[string]interface{}{
		"message": message,
		"sha":     sha,
	}
	if ref.Branch != "" {
		payload["branch"] = ref.Branch
	}

	resp, err := c.send(ctx, token, "delete_file", "DELETE", c.rawContentsPath(ref, path), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrPathNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return nil, ErrStaleSHA
	default:
		return nil, c.apiError(resp, "failed to delete file")
	}

	var result struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("github: decode delete result: %w", err)
	}

	return &WriteResult{CommitSHA: result.Commit.SHA}, nil
}

// ListCommits lists a path's history on the ref's branch, newest first,
// capped at commitPageSize entries. An empty repository yields an empty list.
func (c *Client) ListCommits(ctx context.Context, token string, ref RepoRef, path string) ([]*Commit, error) {
	params := url.Values{}
	params.Set("per_page", fmt.Sprintf("%d", commitPageSize))
	if ref.Branch != "" {
		params.Set("sha", ref.Branch)
	}
	if path != "" {
		params.Set("path", path)
	}

	resp, err := c.get(ctx, token, "list_commits", fmt.Sprintf("/repos/%s/%s/commits?%s", ref.Owner, ref.Repo, params.Encode()))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrRepoNotFound
	case http.StatusConflict:
		// "Git Repository is empty."
		return []*Commit{}, nil
	default:
		return nil, c.apiError(resp, "failed to list commits")
	}

	var raw []githubCommit
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("github: decode commit list: %w", err)
	}

	commits := make([]*Commit, len(raw))
	for i := range raw {
		commits[i] = convertCommit(&raw[i])
	}

	return commits, nil
}

// GetCommit gets a single commit by sha
func (c *Client) GetCommit(ctx context.Context, token string, ref RepoRef, sha string) (*Commit, error) {
	resp, err := c.get(ctx, token, "get_commit", fmt.Sprintf("/repos/%s/%s/commits/%s", ref.Owner, ref.Repo, url.PathEscape(sha)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPathNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp, "failed to fetch commit")
	}

	var raw githubCommit
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("github: decode commit: %w", err)
	}

	return convertCommit(&raw), nil
}

// ContentAtRef reads a path's decoded content as of a specific commit. A
// missing blob (path did not exist at that commit) is an empty string, not an
// error, so history comparison tolerates file creation.
func (c *Client) ContentAtRef(ctx context.Context, token string, ref RepoRef, path, sha string) (string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s",
		ref.Owner, ref.Repo, escapePath(path), url.QueryEscape(sha))

	resp, err := c.get(ctx, token, "content_at_ref", endpoint)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp, "failed to fetch content at ref")
	}

	var file struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", fmt.Errorf("github: decode content at ref: %w", err)
	}
	if file.Type != "file" {
		return "", ErrNotAFile
	}

	decoded, err := base64.StdEncoding.DecodeString(stripNewlines(file.Content))
	if err != nil {
		return "", fmt.Errorf("github: decode content at ref: %w", err)
	}

	return string(decoded), nil
}

// CreateUserRepo creates a private auto-initialized repository under the
// token's account
func (c *Client) CreateUserRepo(ctx context.Context, token, name string) (*Repo, error) {
	return c.createRepo(ctx, token, "/user/repos", name)
}

// CreateOrgRepo creates a private auto-initialized repository under an
// organization
func (c *Client) CreateOrgRepo(ctx context.Context, token, org, name string) (*Repo, error) {
	return c.createRepo(ctx, token, fmt.Sprintf("/orgs/%s/repos", org), name)
}

func (c *Client) createRepo(ctx context.Context, token, endpoint, name string) (*Repo, error) {
	payload := map[string]interface{}{
		"name":      name,
		"private":   true,
		"auto_init": true,
	}

	resp, err := c.send(ctx, token, "create_repo", "POST", endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusUnprocessableEntity:
		return nil, ErrRepoExists
	default:
		return nil, c.apiError(resp, "failed to create repository")
	}

	var ghRepo struct {
		Name          string `json:"name"`
		FullName      string `json:"full_name"`
		Private       bool   `json:"private"`
		DefaultBranch string `json:"default_branch"`
		HTMLURL       string `json:"html_url"`
		Owner         struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ghRepo); err != nil {
		return nil, fmt.Errorf("github: decode created repository: %w", err)
	}

	return &Repo{
		FullName:      ghRepo.FullName,
		Owner:         ghRepo.Owner.Login,
		Name:          ghRepo.Name,
		Private:       ghRepo.Private,
		DefaultBranch: ghRepo.DefaultBranch,
		HTMLURL:       ghRepo.HTMLURL,
	}, nil
}

// Helper methods

func (c *Client) readContent(ctx context.Context, token string, ref RepoRef, path string) (*File, error) {
	resp, err := c.get(ctx, token, "read_file", c.contentsPath(ref, path))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPathNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp, "failed to read file")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: read file response: %w", err)
	}

	// An array means the path is a directory.
	if len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] == '[' {
		return nil, ErrNotAFile
	}

	var raw struct {
		Name        string `json:"name"`
		Path        string `json:"path"`
		Type        string `json:"type"`
		SHA         string `json:"sha"`
		Size        int64  `json:"size"`
		Content     string `json:"content"`
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("github: decode file: %w", err)
	}
	if raw.Type != "file" {
		return nil, ErrNotAFile
	}

	return &File{
		Name:          raw.Name,
		Path:          raw.Path,
		SHA:           raw.SHA,
		Size:          raw.Size,
		ContentBase64: stripNewlines(raw.Content),
		DownloadURL:   raw.DownloadURL,
	}, nil
}

func (c *Client) contentsPath(ref RepoRef, path string) string {
	endpoint := c.rawContentsPath(ref, path)
	if ref.Branch != "" {
		endpoint += "?ref=" + url.QueryEscape(ref.Branch)
	}
	return endpoint
}

func (c *Client) rawContentsPath(ref RepoRef, path string) string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", ref.Owner, ref.Repo, escapePath(path))
}

func (c *Client) get(ctx context.Context, token, op, endpoint string) (*http.Response, error) {
	req, err := c.newRequest(ctx, token, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(op, req)
}

func (c *Client) send(ctx context.Context, token, op, method, endpoint string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("github: encode request body: %w", err)
	}

	req, err := c.newRequest(ctx, token, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req)
}

// do executes the request and records per-operation telemetry. The operation
// label is a fixed method name, never a repository or path, to keep metric
// cardinality bounded.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	telemetry.GitHubAPIRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.GitHubAPIRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, NewAPIError(0, "github request failed", err)
	}
	telemetry.GitHubAPIRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, token, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return req, nil
}

func (c *Client) apiError(resp *http.Response, message string) error {
	var ghErr struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ghErr)
	if ghErr.Message != "" {
		return NewAPIError(resp.StatusCode, message, fmt.Errorf("%s", ghErr.Message))
	}
	return NewAPIError(resp.StatusCode, message, nil)
}

// escapePath percent-encodes each path segment while keeping the separators
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

type githubCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
}

func convertCommit(raw *githubCommit) *Commit {
	return &Commit{
		SHA:         raw.SHA,
		Message:     raw.Commit.Message,
		AuthorName:  raw.Commit.Author.Name,
		AuthorLogin: raw.Author.Login,
		Date:        raw.Commit.Author.Date,
		HTMLURL:     raw.HTMLURL,
	}
}
