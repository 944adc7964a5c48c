package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/maximus-powers/conversational-filler-web-demo/engine/tensor"
)

// onnxModel runs a converted artifact through ONNX Runtime. The exported
// graph takes input_ids [batch, sequence] and produces logits
// [batch, sequence, vocab]; with use_cache forced off there are no
// past-key-value inputs, so every step feeds the full sequence.
type onnxModel struct {
	modelPath string
	vocabSize int
	options   *ort.SessionOptions
}

// LoadONNXModel opens the ONNX model inside an artifact directory. The
// directory must follow the converted layout: config.json at the root and the
// exported model under onnx/.
func LoadONNXModel(artifactDir string) (Model, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	config, err := tensor.LoadModelConfig(filepath.Join(artifactDir, "config.json"))
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := options.SetIntraOpNumThreads(4); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to set threads: %w", err)
	}

	modelPath := filepath.Join(artifactDir, "onnx", "model.onnx")
	logrus.WithFields(logrus.Fields{
		"model": modelPath,
		"vocab": config.VocabSize,
	}).Debug("loaded ONNX model")

	return &onnxModel{
		modelPath: modelPath,
		vocabSize: config.VocabSize,
		options:   options,
	}, nil
}

// Generate runs the autoregressive loop, re-running the full sequence each
// step since the exported graph carries no KV cache.
func (m *onnxModel) Generate(ctx context.Context, inputIDs []int, params *GenerationParams) ([]int, error) {
	if len(inputIDs) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}

	ids := make([]int, len(inputIDs))
	copy(ids, inputIDs)

	sampling := samplingFromParams(params)

	for step := 0; step < params.MaxNewTokens; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logits, err := m.forward(ids)
		if err != nil {
			return nil, err
		}

		next := tensor.Sample(logits, sampling)
		ids = append(ids, next)

		if params.EOSTokenID >= 0 && next == params.EOSTokenID {
			break
		}
	}
	return ids, nil
}

// forward runs one inference pass and returns the logits for the last
// position
func (m *onnxModel) forward(ids []int) ([]float32, error) {
	inputShape := ort.NewShape(1, int64(len(ids)))
	inputData := make([]int64, len(ids))
	for i, id := range ids {
		inputData[i] = int64(id)
	}

	inputTensor, err := ort.NewTensor(inputShape, inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(1, int64(len(ids)), int64(m.vocabSize))
	outputData := make([]float32, len(ids)*m.vocabSize)
	outputTensor, err := ort.NewTensor(outputShape, outputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewAdvancedSession(
		m.modelPath,
		[]string{"input_ids"},
		[]string{"logits"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		m.options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	logits := outputTensor.GetData()
	lastStart := (len(ids) - 1) * m.vocabSize
	out := make([]float32, m.vocabSize)
	copy(out, logits[lastStart:lastStart+m.vocabSize])
	return out, nil
}

func (m *onnxModel) Close() error {
	if m.options != nil {
		m.options.Destroy()
		m.options = nil
	}
	return nil
}

// samplingFromParams maps generation parameters onto the sampler settings
func samplingFromParams(params *GenerationParams) *tensor.SamplingParams {
	return &tensor.SamplingParams{
		Greedy:      !params.DoSample,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
	}
}
