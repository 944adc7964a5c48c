package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/compare"
	"github.com/maximus-powers/conversational-filler-web-demo/engine"
	"github.com/maximus-powers/conversational-filler-web-demo/hub"
)

const (
	defaultReference = "maximuspowers/smollm-convo-filler"
	defaultConverted = "maximuspowers/smollm-convo-filler-onnx"
)

// defaultPrompts is the standard verification corpus
var defaultPrompts = []string{
	"What is the capital of France?",
	"How do plants make food?",
	"What causes rain?",
	"Who wrote Romeo and Juliet?",
	"What is the largest planet in our solar system?",
}

func main() {
	reference := flag.String("original", defaultReference, "Reference model: hub repo or local directory")
	converted := flag.String("onnx", defaultConverted, "Converted model: hub repo or local directory")
	cache := flag.String("cache", "", "Snapshot cache directory")
	token := flag.String("token", os.Getenv("HF_TOKEN"), "Hub API token (defaults to HF_TOKEN)")
	baseURL := flag.String("base-url", "", "Override the hub endpoint")
	quiet := flag.Bool("quiet", false, "Suppress per-case output, show a progress bar instead")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cacheDir := *cache
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "model-cache")
	}

	ctx := context.Background()
	client := hub.NewClient(hub.WithToken(*token), hub.WithBaseURL(*baseURL))

	fmt.Println("Loading models...")

	refDir, err := resolveModelDir(ctx, client, *reference, cacheDir)
	if err != nil {
		fatalLoad(*reference, err)
	}
	convDir, err := resolveModelDir(ctx, client, *converted, cacheDir)
	if err != nil {
		fatalLoad(*converted, err)
	}

	refPair, err := loadPair("reference", refDir, engine.LoadNativeModel)
	if err != nil {
		fatalLoad(*reference, err)
	}
	defer refPair.Model.Close()
	defer refPair.Tokenizer.Close()

	convPair, err := loadPair("converted", convDir, engine.LoadONNXModel)
	if err != nil {
		fatalLoad(*converted, err)
	}
	defer convPair.Model.Close()
	defer convPair.Tokenizer.Close()

	paramSets := []*engine.GenerationParams{
		engine.NewGenerationParams(engine.WithMaxNewTokens(20)),
		engine.NewGenerationParams(
			engine.WithMaxNewTokens(50),
			engine.WithSampling(true),
			engine.WithTemperature(0.7),
			engine.WithTopP(0.9),
		),
	}

	comparator := compare.NewComparator(refPair, convPair,
		compare.WithOutput(os.Stdout),
		compare.WithVerbose(!*quiet),
	)

	fmt.Printf("Comparing %s against %s\n", *reference, *converted)
	fmt.Println(strings.Repeat("=", 80))

	report, err := comparator.Run(ctx, defaultPrompts, paramSets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Comparison failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	report.Write(os.Stdout)
}

// resolveModelDir accepts either a local directory or a hub repo id, snapshot
// downloading the latter into the cache
func resolveModelDir(ctx context.Context, client *hub.Client, spec, cacheDir string) (string, error) {
	if info, err := os.Stat(spec); err == nil && info.IsDir() {
		return spec, nil
	}
	return client.Snapshot(ctx, spec, "main", filepath.Join(cacheDir, filepath.FromSlash(spec)))
}

// loadPair loads a model plus the tokenizer stored alongside it
func loadPair(name, dir string, load func(string) (engine.Model, error)) (compare.ModelPair, error) {
	model, err := load(dir)
	if err != nil {
		return compare.ModelPair{}, fmt.Errorf("failed to load %s model: %w", name, err)
	}
	tokenizer, err := engine.LoadTokenizer(dir)
	if err != nil {
		model.Close()
		return compare.ModelPair{}, fmt.Errorf("failed to load %s tokenizer: %w", name, err)
	}
	return compare.ModelPair{Name: name, Model: model, Tokenizer: tokenizer}, nil
}

// fatalLoad reports a model loading failure and exits
func fatalLoad(spec string, err error) {
	fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", spec, err)
	if errors.Is(err, hub.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "Make sure both models exist and are accessible")
	}
	os.Exit(1)
}
