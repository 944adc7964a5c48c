package convert

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/hub"
)

// commitMessage is the summary attached to artifact upload commits
const commitMessage = "onnx conversion"

// Upload pushes a finished artifact to the target repository, creating it if
// needed, and returns the repository URL. The artifact stays on disk whether
// or not the upload succeeds.
func Upload(ctx context.Context, client *hub.Client, artifact *Artifact, targetRepo string) (string, error) {
	if targetRepo == "" {
		return "", fmt.Errorf("target repo is required")
	}

	log := logrus.WithFields(logrus.Fields{"repo": targetRepo, "artifact": artifact.Path})
	log.Info("uploading artifact")

	if err := client.CreateRepo(ctx, targetRepo); err != nil {
		return "", fmt.Errorf("failed to create repo %s: %w", targetRepo, err)
	}

	url, err := client.UploadFolder(ctx, targetRepo, "main", artifact.Path, commitMessage)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	log.WithField("url", url).Info("upload complete")
	return url, nil
}
