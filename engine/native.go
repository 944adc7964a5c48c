package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/engine/tensor"
)

// nativeModel runs a safetensors checkpoint on the in-process transformer
// runtime. It is the reference side of the comparison.
type nativeModel struct {
	model *tensor.Model
}

// LoadNativeModel loads a llama-family safetensors checkpoint from a local
// directory.
func LoadNativeModel(dir string) (Model, error) {
	model, err := tensor.LoadCheckpoint(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"dir":    dir,
		"layers": model.Config.NumLayers,
		"hidden": model.Config.Hidden,
	}).Debug("loaded native model")

	return &nativeModel{model: model}, nil
}

// Generate runs KV-cached autoregressive generation: one prefill pass over
// the prompt, then single-token decode steps.
func (m *nativeModel) Generate(ctx context.Context, inputIDs []int, params *GenerationParams) ([]int, error) {
	if len(inputIDs) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}

	ids := make([]int, len(inputIDs))
	copy(ids, inputIDs)

	sampling := samplingFromParams(params)

	logits, cache := m.model.ForwardWithCache(ids, nil, 0)
	next := tensor.Sample(m.model.LastTokenLogits(logits), sampling)
	ids = append(ids, next)

	for step := 1; step < params.MaxNewTokens; step++ {
		if params.EOSTokenID >= 0 && next == params.EOSTokenID {
			return ids, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logits, cache = m.model.ForwardWithCache([]int{next}, cache, cache.SeqLen())
		next = tensor.Sample(m.model.LastTokenLogits(logits), sampling)
		ids = append(ids, next)
	}
	return ids, nil
}

func (m *nativeModel) Close() error {
	return nil
}
