package convert

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/compare"
	"github.com/maximus-powers/conversational-filler-web-demo/engine"
)

// SmokeTest loads the finished artifact through the ONNX engine and runs one
// short greedy generation. A failure marks the artifact suspect but never
// aborts the pipeline; the caller decides whether to upload anyway.
func SmokeTest(ctx context.Context, artifactPath string) bool {
	log := logrus.WithField("artifact", artifactPath)
	log.Info("running smoke test")

	model, err := engine.LoadONNXModel(artifactPath)
	if err != nil {
		log.WithError(err).Warn("smoke test failed to load model")
		return false
	}
	defer model.Close()

	tokenizer, err := engine.LoadTokenizer(artifactPath)
	if err != nil {
		log.WithError(err).Warn("smoke test failed to load tokenizer")
		return false
	}
	defer tokenizer.Close()

	inputIDs, err := tokenizer.Encode(compare.WrapPrompt("What is the capital of France?"))
	if err != nil {
		log.WithError(err).Warn("smoke test failed to encode prompt")
		return false
	}

	params := engine.NewGenerationParams(engine.WithMaxNewTokens(10)).
		WithTokens(tokenizer.EOSTokenID(), tokenizer.PadTokenID())
	outputIDs, err := model.Generate(ctx, inputIDs, params)
	if err != nil {
		log.WithError(err).Warn("smoke test generation failed")
		return false
	}

	text, err := tokenizer.Decode(outputIDs[len(inputIDs):], false)
	if err != nil {
		log.WithError(err).Warn("smoke test failed to decode output")
		return false
	}

	log.WithField("output", text).Info("smoke test passed")
	return true
}
