package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub serves a minimal slice of the hub API for one repository
type fakeHub struct {
	repo    string
	files   map[string]string // path -> content
	commits []string          // raw NDJSON commit bodies
	created int
}

func (h *fakeHub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/models/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/models/")
		switch {
		case strings.Contains(rest, "/tree/"):
			h.serveTree(w, r, rest)
		case strings.Contains(rest, "/commit/"):
			body, _ := io.ReadAll(r.Body)
			h.commits = append(h.commits, string(body))
			fmt.Fprint(w, `{"success": true}`)
		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/api/repos/create", func(w http.ResponseWriter, r *http.Request) {
		h.created++
		if h.created > 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		fmt.Fprint(w, `{"url": "ok"}`)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// /{repo}/resolve/{rev}/{path}
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/resolve/main/", 2)
		if len(parts) != 2 || parts[0] != h.repo {
			http.NotFound(w, r)
			return
		}
		content, ok := h.files[parts[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, content)
	})

	return mux
}

func (h *fakeHub) serveTree(w http.ResponseWriter, r *http.Request, rest string) {
	if !strings.HasPrefix(rest, h.repo+"/tree/main") {
		http.NotFound(w, r)
		return
	}
	var entries []RepoFile
	for path, content := range h.files {
		entries = append(entries, RepoFile{
			Type: "file",
			Path: path,
			Size: int64(len(content)),
			OID:  "oid-" + path,
		})
	}
	json.NewEncoder(w).Encode(entries)
}

func newTestClient(t *testing.T, h *fakeHub) *Client {
	t.Helper()
	server := httptest.NewServer(h.handler())
	t.Cleanup(server.Close)
	return NewClient(WithBaseURL(server.URL), WithToken("test-token"))
}

func TestListFiles(t *testing.T) {
	h := &fakeHub{
		repo: "org/model",
		files: map[string]string{
			"config.json":    `{"a":1}`,
			"tokenizer.json": `{}`,
		},
	}
	client := newTestClient(t, h)

	files, err := client.ListFiles(context.Background(), "org/model", "main")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestListFilesNotFound(t *testing.T) {
	client := newTestClient(t, &fakeHub{repo: "org/model"})

	_, err := client.ListFiles(context.Background(), "org/other", "main")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestSnapshotDownloadsAndSkips(t *testing.T) {
	h := &fakeHub{
		repo: "org/model",
		files: map[string]string{
			"config.json":     `{"vocab_size": 4}`,
			"onnx/model.onnx": "binary-ish",
			"tokenizer.json":  `{}`,
		},
	}
	client := newTestClient(t, h)
	dir := t.TempDir()

	got, err := client.Snapshot(context.Background(), "org/model", "main", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	data, err := os.ReadFile(filepath.Join(dir, "onnx", "model.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "binary-ish", string(data))

	// The fake derives OIDs from paths, so changing the content without the
	// OID simulates an unchanged remote file. A second snapshot must keep the
	// local copy instead of re-downloading.
	h.files["onnx/model.onnx"] = "server content drifted"
	_, err = client.Snapshot(context.Background(), "org/model", "main", dir)
	require.NoError(t, err)

	data, err = os.ReadFile(filepath.Join(dir, "onnx", "model.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "binary-ish", string(data))
}

func TestCreateRepoIdempotent(t *testing.T) {
	h := &fakeHub{repo: "org/model"}
	client := newTestClient(t, h)

	require.NoError(t, client.CreateRepo(context.Background(), "org/model"))
	// Second create returns 409, treated as success.
	require.NoError(t, client.CreateRepo(context.Background(), "org/model"))
	assert.Equal(t, 2, h.created)
}

func TestUploadFolder(t *testing.T) {
	h := &fakeHub{repo: "org/model-onnx"}
	client := newTestClient(t, h)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "onnx"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "onnx", "model.onnx"), []byte("graph"), 0o644))
	// Dotfiles stay local.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".snapshot.json"), []byte(`{}`), 0o644))

	url, err := client.UploadFolder(context.Background(), "org/model-onnx", "main", dir, "onnx conversion")
	require.NoError(t, err)
	assert.Contains(t, url, "org/model-onnx")

	require.Len(t, h.commits, 1)
	lines := strings.Split(strings.TrimSpace(h.commits[0]), "\n")
	require.Len(t, lines, 3) // header + two files

	var header struct {
		Key   string `json:"key"`
		Value struct {
			Summary string `json:"summary"`
		} `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	assert.Equal(t, "header", header.Key)
	assert.Equal(t, "onnx conversion", header.Value.Summary)

	var file struct {
		Key   string `json:"key"`
		Value struct {
			Path     string `json:"path"`
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		} `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &file))
	assert.Equal(t, "file", file.Key)
	assert.Equal(t, "onnx/model.onnx", file.Value.Path)
	assert.Equal(t, "base64", file.Value.Encoding)
	decoded, err := base64.StdEncoding.DecodeString(file.Value.Content)
	require.NoError(t, err)
	assert.Equal(t, "graph", string(decoded))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("same content"), 0o644))

	a, err := HashFile(path)
	require.NoError(t, err)
	b, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, os.WriteFile(path, []byte("different content"), 0o644))
	c, err := HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
