package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// manifestName is the per-snapshot bookkeeping file
const manifestName = ".snapshot.json"

// manifestEntry records what was downloaded for one repo file so unchanged
// files can be skipped on the next snapshot
type manifestEntry struct {
	OID    string `json:"oid"`
	Size   int64  `json:"size"`
	XXHash uint64 `json:"xxhash"`
}

// Snapshot downloads every file of a repository into dir and returns dir.
// Files whose remote OID matches the local manifest, and whose local content
// still hashes to the recorded value, are not downloaded again.
func (c *Client) Snapshot(ctx context.Context, repo, revision, dir string) (string, error) {
	files, err := c.ListFiles(ctx, repo, revision)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	manifest := loadManifest(dir)
	log := logrus.WithField("repo", repo)

	for _, file := range files {
		localPath := filepath.Join(dir, filepath.FromSlash(file.Path))

		if entry, ok := manifest[file.Path]; ok && entry.OID == file.OID && localFileMatches(localPath, entry) {
			log.WithField("file", file.Path).Debug("snapshot file up to date")
			continue
		}

		sum, err := c.downloadFile(ctx, repo, revision, file, localPath)
		if err != nil {
			return "", err
		}
		manifest[file.Path] = manifestEntry{OID: file.OID, Size: file.Size, XXHash: sum}
	}

	if err := saveManifest(dir, manifest); err != nil {
		return "", err
	}

	log.WithField("files", len(files)).Info("snapshot complete")
	return dir, nil
}

// downloadFile fetches one file with a progress bar and returns its xxhash
func (c *Client) downloadFile(ctx context.Context, repo, revision string, file RepoFile, localPath string) (uint64, error) {
	body, size, err := c.OpenFile(ctx, repo, revision, file.Path)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer out.Close()

	if size <= 0 {
		size = file.Size
	}
	bar := progressbar.DefaultBytes(size, filepath.Base(file.Path))
	hash := xxhash.New()

	if _, err := io.Copy(io.MultiWriter(out, hash, bar), body); err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", file.Path, err)
	}
	return hash.Sum64(), nil
}

// localFileMatches re-hashes the local file and compares against the
// manifest, catching files changed on disk since the download
func localFileMatches(path string, entry manifestEntry) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() != entry.Size {
		return false
	}
	sum, err := HashFile(path)
	if err != nil {
		return false
	}
	return sum == entry.XXHash
}

// HashFile computes the xxhash of a file's contents
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	hash := xxhash.New()
	if _, err := io.Copy(hash, f); err != nil {
		return 0, err
	}
	return hash.Sum64(), nil
}

func loadManifest(dir string) map[string]manifestEntry {
	manifest := make(map[string]manifestEntry)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return manifest
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return make(map[string]manifestEntry)
	}
	return manifest
}

func saveManifest(dir string, manifest map[string]manifestEntry) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
