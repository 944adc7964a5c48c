package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/convert"
	"github.com/maximus-powers/conversational-filler-web-demo/hub"
	"github.com/maximus-powers/conversational-filler-web-demo/onnxgen"
)

const (
	defaultSource = "maximuspowers/smollm-convo-filler"
	defaultTarget = "maximuspowers/smollm-convo-filler-onnx"
)

func main() {
	source := flag.String("source", defaultSource, "Hub repo holding the safetensors checkpoint")
	target := flag.String("target", defaultTarget, "Hub repo for the converted artifact")
	output := flag.String("out", "", "Artifact output directory (default ./<target repo name>)")
	cache := flag.String("cache", "", "Snapshot cache directory for the source checkpoint")
	token := flag.String("token", os.Getenv("HF_TOKEN"), "Hub API token (defaults to HF_TOKEN)")
	skipTest := flag.Bool("skip-test", false, "Skip the post-conversion smoke test")
	uploadMode := flag.String("upload", "ask", "Upload the artifact: ask, yes, or no")
	verbose := flag.Bool("verbose", false, "Enable debug logging")

	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	switch *uploadMode {
	case "ask", "yes", "no":
	default:
		fmt.Fprintf(os.Stderr, "invalid -upload value %q (want ask, yes, or no)\n", *uploadMode)
		os.Exit(2)
	}

	outDir := *output
	if outDir == "" {
		parts := strings.Split(*target, "/")
		outDir = "./" + parts[len(parts)-1]
	}

	fmt.Printf("Converting %s to ONNX\n", *source)
	fmt.Println(strings.Repeat("=", 50))

	ctx := context.Background()
	client := hub.NewClient(hub.WithToken(*token))
	exporter := onnxgen.NewExporter()

	artifact, err := convert.Run(ctx, client, exporter, convert.Options{
		SourceRepo: *source,
		TargetRepo: *target,
		OutputDir:  outDir,
		CacheDir:   *cache,
		Token:      *token,
		SkipTest:   *skipTest,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Conversion failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nConversion successful, %d files at %s:\n", len(artifact.Files), artifact.Path)
	for _, f := range artifact.Files {
		fmt.Printf("  %s (%d bytes)\n", f.Path, f.Size)
	}

	if !*skipTest {
		fmt.Println("\nTesting converted model...")
		if convert.SmokeTest(ctx, artifact.Path) {
			fmt.Println("Smoke test passed")
		} else {
			fmt.Println("Smoke test failed, review the artifact before uploading")
		}
	}

	if shouldUpload(*uploadMode, *target) {
		url, err := convert.Upload(ctx, client, artifact, *target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nConversion successful but upload failed: %v\n", err)
			fmt.Fprintf(os.Stderr, "Files are at %s\n", artifact.Path)
			os.Exit(1)
		}
		fmt.Printf("\nUploaded to %s\n", url)
	} else {
		fmt.Printf("\nSkipped upload, files are at %s\n", artifact.Path)
	}

	fmt.Println("\nCompleted!")
}

// shouldUpload resolves the upload decision, prompting on stdin in ask mode
func shouldUpload(mode, target string) bool {
	switch mode {
	case "yes":
		return true
	case "no":
		return false
	}

	fmt.Printf("\nUpload to %s? [y/N]: ", target)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
