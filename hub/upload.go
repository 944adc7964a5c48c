package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// commitLine is one NDJSON record in a commit API request
type commitLine struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type commitFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// UploadFolder uploads every regular file under dir to the repository as a
// single commit and returns the repository's confirmation URL. Hidden
// bookkeeping files (dotfiles such as the snapshot manifest) are skipped.
func (c *Client) UploadFolder(ctx context.Context, repo, revision, dir, message string) (string, error) {
	if revision == "" {
		revision = "main"
	}

	paths, err := collectFiles(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("nothing to upload in %s", dir)
	}

	log := logrus.WithFields(logrus.Fields{"repo": repo, "files": len(paths)})
	log.Info("uploading folder")

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
	)

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	if err := enc.Encode(commitLine{Key: "header", Value: commitHeader{Summary: message}}); err != nil {
		return "", fmt.Errorf("failed to encode commit header: %w", err)
	}

	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", rel, err)
		}
		line := commitLine{Key: "file", Value: commitFile{
			Path:     rel,
			Content:  base64.StdEncoding.EncodeToString(data),
			Encoding: "base64",
		}}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", rel, err)
		}
		bar.Add(1)
	}
	bar.Finish()

	endpoint := fmt.Sprintf("%s/api/models/%s/commit/%s", c.baseURL, repo, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to commit upload: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, repo); err != nil {
		return "", err
	}

	return c.RepoURL(repo), nil
}

// collectFiles returns the slash-separated relative paths of all regular
// files under dir, sorted for a stable commit order
func collectFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}
