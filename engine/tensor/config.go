package tensor

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelConfig holds the checkpoint configuration parsed from config.json
type ModelConfig struct {
	Architecture string
	ModelType    string

	VocabSize  int
	Hidden     int
	NumLayers  int
	NumHeads   int // query heads
	NumKVHeads int // KV heads (< NumHeads for GQA)
	HeadDim    int
	FFNDim     int
	MaxSeqLen  int

	EOSTokenID int
	BOSTokenID int
	PadTokenID int

	RoPEBase      float64
	NormEps       float32
	TiedEmbedding bool
}

// rawConfig mirrors the HuggingFace config.json fields we consume
type rawConfig struct {
	Architectures         []string `json:"architectures"`
	ModelType             string   `json:"model_type"`
	VocabSize             int      `json:"vocab_size"`
	HiddenSize            int      `json:"hidden_size"`
	NumHiddenLayers       int      `json:"num_hidden_layers"`
	NumAttentionHeads     int      `json:"num_attention_heads"`
	NumKeyValueHeads      int      `json:"num_key_value_heads"`
	IntermediateSize      int      `json:"intermediate_size"`
	MaxPositionEmbeddings int      `json:"max_position_embeddings"`
	RMSNormEps            float64  `json:"rms_norm_eps"`
	RoPETheta             float64  `json:"rope_theta"`
	TieWordEmbeddings     *bool    `json:"tie_word_embeddings"`
	EOSTokenID            *int     `json:"eos_token_id"`
	BOSTokenID            *int     `json:"bos_token_id"`
	PadTokenID            *int     `json:"pad_token_id"`
}

// supportedArchitectures maps HF architecture names to the llama-family
// decoder this runtime implements.
var supportedArchitectures = map[string]bool{
	"LlamaForCausalLM":   true,
	"MistralForCausalLM": true,
}

// LoadModelConfig parses a HuggingFace config.json into a ModelConfig
func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseModelConfig(data)
}

// ParseModelConfig parses config.json bytes into a ModelConfig
func ParseModelConfig(data []byte) (*ModelConfig, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	arch := ""
	if len(raw.Architectures) > 0 {
		arch = raw.Architectures[0]
	}
	if !supportedArchitectures[arch] {
		return nil, fmt.Errorf("unsupported architecture %q", arch)
	}

	config := &ModelConfig{
		Architecture: arch,
		ModelType:    raw.ModelType,
		VocabSize:    raw.VocabSize,
		Hidden:       raw.HiddenSize,
		NumLayers:    raw.NumHiddenLayers,
		NumHeads:     raw.NumAttentionHeads,
		NumKVHeads:   raw.NumKeyValueHeads,
		FFNDim:       raw.IntermediateSize,
		MaxSeqLen:    raw.MaxPositionEmbeddings,
		NormEps:      float32(raw.RMSNormEps),
		RoPEBase:     raw.RoPETheta,
		EOSTokenID:   -1,
		BOSTokenID:   -1,
		PadTokenID:   -1,
	}

	if config.NumKVHeads == 0 {
		config.NumKVHeads = config.NumHeads
	}
	if config.NumHeads > 0 {
		config.HeadDim = config.Hidden / config.NumHeads
	}
	if config.RoPEBase == 0 {
		config.RoPEBase = 10000.0
	}
	if config.NormEps == 0 {
		config.NormEps = 1e-5
	}
	// Llama checkpoints tie the LM head unless told otherwise.
	config.TiedEmbedding = raw.TieWordEmbeddings == nil || *raw.TieWordEmbeddings

	if raw.EOSTokenID != nil {
		config.EOSTokenID = *raw.EOSTokenID
	}
	if raw.BOSTokenID != nil {
		config.BOSTokenID = *raw.BOSTokenID
	}
	if raw.PadTokenID != nil {
		config.PadTokenID = *raw.PadTokenID
	} else {
		config.PadTokenID = config.EOSTokenID
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate checks the dimensions needed to build the decoder
func (c *ModelConfig) validate() error {
	if c.VocabSize <= 0 || c.Hidden <= 0 || c.NumLayers <= 0 || c.NumHeads <= 0 {
		return fmt.Errorf("incomplete model config: vocab=%d hidden=%d layers=%d heads=%d",
			c.VocabSize, c.Hidden, c.NumLayers, c.NumHeads)
	}
	if c.NumHeads%c.NumKVHeads != 0 {
		return fmt.Errorf("num_attention_heads (%d) must be divisible by num_key_value_heads (%d)",
			c.NumHeads, c.NumKVHeads)
	}
	if c.Hidden%c.NumHeads != 0 {
		return fmt.Errorf("hidden_size (%d) must be divisible by num_attention_heads (%d)",
			c.Hidden, c.NumHeads)
	}
	return nil
}
