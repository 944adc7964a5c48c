// Package convert turns a hub-hosted safetensors checkpoint into a local ONNX
// artifact directory laid out for browser and server ONNX runtimes: tokenizer
// files and a normalized config.json at the root, the exported graph under
// onnx/model.onnx.
package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/hub"
)

// tokenizerFiles are the checkpoint files copied verbatim into the artifact
// root. Missing optional files are skipped.
var tokenizerFiles = []string{
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"vocab.json",
	"merges.txt",
	"generation_config.json",
}

// forcedConfig holds the config.json fields overwritten in the artifact. The
// exported graph is float32 and stateless, so downstream loaders must not
// expect fp16 weights or past-key-value inputs.
var forcedConfig = map[string]interface{}{
	"torch_dtype": "float32",
	"use_cache":   false,
}

// Exporter produces an ONNX graph from a local checkpoint directory
type Exporter interface {
	Export(checkpointDir, outPath string) error
}

// Options configures a conversion run
type Options struct {
	SourceRepo string // hub repo holding the safetensors checkpoint
	TargetRepo string // hub repo for the optional upload
	OutputDir  string // artifact destination, recreated from scratch
	CacheDir   string // snapshot cache for the source checkpoint
	Token      string // hub API token
	SkipTest   bool   // skip the post-conversion smoke test
}

// ArtifactFile is one file of a produced artifact
type ArtifactFile struct {
	Path   string // slash-separated, relative to the artifact root
	Size   int64
	XXHash uint64
}

// Artifact describes a completed conversion
type Artifact struct {
	Path  string
	Files []ArtifactFile
}

// Run executes the conversion pipeline: snapshot the source checkpoint,
// export the graph, assemble the artifact directory. Any failure aborts the
// run and no artifact is returned.
func Run(ctx context.Context, client *hub.Client, exporter Exporter, opts Options) (*Artifact, error) {
	if opts.SourceRepo == "" {
		return nil, fmt.Errorf("source repo is required")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}

	log := logrus.WithFields(logrus.Fields{"source": opts.SourceRepo, "output": opts.OutputDir})
	log.Info("starting conversion")

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "model-cache", filepath.FromSlash(opts.SourceRepo))
	}

	checkpointDir, err := client.Snapshot(ctx, opts.SourceRepo, "main", cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", opts.SourceRepo, err)
	}

	// Start from a clean slate so stale files from earlier runs cannot leak
	// into the artifact.
	if err := os.RemoveAll(opts.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to clear output dir: %w", err)
	}
	onnxDir := filepath.Join(opts.OutputDir, "onnx")
	if err := os.MkdirAll(onnxDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := exporter.Export(checkpointDir, filepath.Join(onnxDir, "model.onnx")); err != nil {
		return nil, fmt.Errorf("failed to export model: %w", err)
	}

	copied, err := copyTokenizerFiles(checkpointDir, opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if copied == 0 {
		return nil, fmt.Errorf("no tokenizer files found in %s", checkpointDir)
	}

	config, err := normalizeConfig(filepath.Join(checkpointDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(opts.OutputDir, "config.json"), config, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(onnxDir, "config.json"), config, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write onnx config: %w", err)
	}

	artifact, err := inventory(opts.OutputDir)
	if err != nil {
		return nil, err
	}

	log.WithField("files", len(artifact.Files)).Info("conversion complete")
	return artifact, nil
}

// copyTokenizerFiles copies the known tokenizer files that exist in the
// checkpoint and reports how many were found
func copyTokenizerFiles(srcDir, dstDir string) (int, error) {
	copied := 0
	for _, name := range tokenizerFiles {
		src := filepath.Join(srcDir, name)
		data, err := os.ReadFile(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dstDir, name), data, 0o644); err != nil {
			return copied, fmt.Errorf("failed to copy %s: %w", name, err)
		}
		logrus.WithField("file", name).Debug("copied tokenizer file")
		copied++
	}
	return copied, nil
}

// normalizeConfig rewrites the checkpoint config with the forced artifact
// fields, preserving everything else verbatim
func normalizeConfig(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config map[string]interface{}
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for key, value := range forcedConfig {
		config[key] = value
	}

	out, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return append(out, '\n'), nil
}

// inventory fingerprints every file of the finished artifact
func inventory(dir string) (*Artifact, error) {
	artifact := &Artifact{Path: dir}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := hub.HashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		artifact.Files = append(artifact.Files, ArtifactFile{
			Path:   filepath.ToSlash(rel),
			Size:   info.Size(),
			XXHash: sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to inventory artifact: %w", err)
	}

	sort.Slice(artifact.Files, func(i, j int) bool {
		return artifact.Files[i].Path < artifact.Files[j].Path
	})
	return artifact, nil
}
