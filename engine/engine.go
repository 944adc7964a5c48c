// Package engine provides the model and tokenizer capabilities shared by the
// conversion pipeline and the comparison harness. A Model is an opaque
// generative runtime; two implementations exist: a native Go transformer that
// runs safetensors checkpoints directly, and an ONNX Runtime session over a
// converted artifact.
package engine

import "context"

// Model is a loaded causal language model.
type Model interface {
	// Generate runs autoregressive generation and returns the full token
	// sequence, prompt tokens included.
	Generate(ctx context.Context, inputIDs []int, params *GenerationParams) ([]int, error)

	// Close releases runtime resources.
	Close() error
}

// Tokenizer is a bidirectional text/token-id codec.
type Tokenizer interface {
	Encode(text string) ([]int, error)

	// Decode converts token ids back to text. When keepSpecial is true,
	// control tokens such as utterance markers are kept in the output.
	Decode(ids []int, keepSpecial bool) (string, error)

	// PadTokenID returns the pad token id, falling back to the EOS token
	// when the checkpoint defines no pad token.
	PadTokenID() int
	EOSTokenID() int

	Close() error
}
