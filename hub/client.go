// Package hub is a client for a HuggingFace-style model registry: repository
// tree listing, snapshot downloads, idempotent repository creation, and
// recursive folder uploads through the commit API.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const (
	defaultBaseURL   = "https://huggingface.co"
	defaultUserAgent = "conversational-filler-web-demo"
)

// Error kinds reported by the client. Callers branch with errors.Is instead
// of matching message text.
var (
	ErrNotFound     = errors.New("repository or file not found")
	ErrUnauthorized = errors.New("authentication required")
)

// RepoFile describes one entry in a repository tree
type RepoFile struct {
	Type string `json:"type"` // "file" or "directory"
	Path string `json:"path"`
	Size int64  `json:"size"`
	OID  string `json:"oid"`
}

// Client talks to the hub's HTTP API
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	token      string
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithToken sets the API token used for authenticated requests
func WithToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.token = token
		}
	}
}

// WithBaseURL points the client at a different hub endpoint
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a hub client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RepoURL returns the human-readable page for a repository
func (c *Client) RepoURL(repo string) string {
	return c.baseURL + "/" + repo
}

// ListFiles returns all files in a repository at a revision, recursing into
// directories
func (c *Client) ListFiles(ctx context.Context, repo, revision string) ([]RepoFile, error) {
	if revision == "" {
		revision = "main"
	}
	return c.listFilesRecursive(ctx, repo, revision, "")
}

func (c *Client) listFilesRecursive(ctx context.Context, repo, revision, filePath string) ([]RepoFile, error) {
	endpoint := fmt.Sprintf("%s/api/models/%s/tree/%s", c.baseURL, repo, path.Join(revision, filePath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, repo); err != nil {
		return nil, err
	}

	var entries []RepoFile
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode tree listing: %w", err)
	}

	var files []RepoFile
	for _, entry := range entries {
		switch entry.Type {
		case "file":
			files = append(files, entry)
		case "directory":
			sub, err := c.listFilesRecursive(ctx, repo, revision, entry.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", entry.Path, err)
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// OpenFile streams one file from a repository at a revision
func (c *Client) OpenFile(ctx context.Context, repo, revision, filePath string) (io.ReadCloser, int64, error) {
	if revision == "" {
		revision = "main"
	}
	endpoint := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, revision, escapePath(filePath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %w", filePath, err)
	}

	if err := c.checkResponse(resp, repo); err != nil {
		resp.Body.Close()
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

// CreateRepo creates a model repository, tolerating one that already exists
func (c *Client) CreateRepo(ctx context.Context, repo string) error {
	name := repo
	organization := ""
	if i := strings.IndexByte(repo, '/'); i >= 0 {
		organization = repo[:i]
		name = repo[i+1:]
	}

	body, err := json.Marshal(map[string]string{
		"name":         name,
		"organization": organization,
		"type":         "model",
	})
	if err != nil {
		return fmt.Errorf("failed to encode create request: %w", err)
	}

	endpoint := c.baseURL + "/api/repos/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create repo: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the repository already exists, which is fine.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	return c.checkResponse(resp, repo)
}

// setHeaders applies authentication and identification headers
func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
}

// checkResponse maps HTTP failures onto the client's error kinds
func (c *Client) checkResponse(resp *http.Response, repo string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, repo)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, repo)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d for %s: %s", resp.StatusCode, repo, strings.TrimSpace(string(body)))
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
