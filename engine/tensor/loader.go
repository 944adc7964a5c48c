package tensor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// TensorInfo describes a tensor entry in a safetensors header
type TensorInfo struct {
	Dtype  string   `json:"dtype"`
	Shape  []int    `json:"shape"`
	Offset [2]int64 `json:"data_offsets"`
}

// ReadSafetensors reads a safetensors file and returns all tensors converted
// to float32, keyed by their checkpoint names.
func ReadSafetensors(path string) (map[string]*Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("file too short for safetensors header: %s", path)
	}

	headerSize := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerSize {
		return nil, fmt.Errorf("truncated safetensors header: %s", path)
	}
	headerBytes := data[8 : 8+headerSize]
	tensorData := data[8+headerSize:]

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	tensors := make(map[string]*Tensor, len(entries))
	for name, raw := range entries {
		if name == "__metadata__" {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("failed to parse tensor entry %s: %w", name, err)
		}
		t, err := decodeTensor(tensorData, info)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tensor %s: %w", name, err)
		}
		tensors[name] = t
	}
	return tensors, nil
}

// decodeTensor converts one tensor's raw bytes to float32
func decodeTensor(data []byte, info TensorInfo) (*Tensor, error) {
	numElements := 1
	for _, dim := range info.Shape {
		numElements *= dim
	}

	start, end := info.Offset[0], info.Offset[1]
	if start < 0 || end > int64(len(data)) || start > end {
		return nil, fmt.Errorf("data offsets [%d, %d] out of range", start, end)
	}
	raw := data[start:end]

	out := make([]float32, numElements)
	switch info.Dtype {
	case "F32":
		for i := 0; i < numElements; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : (i+1)*4]))
		}
	case "F16":
		for i := 0; i < numElements; i++ {
			out[i] = float32FromFloat16(binary.LittleEndian.Uint16(raw[i*2 : (i+1)*2]))
		}
	case "BF16":
		for i := 0; i < numElements; i++ {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:(i+1)*2])) << 16)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", info.Dtype)
	}

	shape := make([]int, len(info.Shape))
	copy(shape, info.Shape)
	return &Tensor{Data: out, Shape: shape}, nil
}

// float32FromFloat16 converts an IEEE 754 half-precision value
func float32FromFloat16(bits uint16) float32 {
	sign := uint32(bits>>15) & 1
	exp := uint32(bits>>10) & 0x1f
	frac := uint32(bits) & 0x3ff

	var f32bits uint32
	switch {
	case exp == 0 && frac == 0:
		f32bits = sign << 31
	case exp == 0:
		// Subnormal: normalize
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		f32bits = sign<<31 | e<<23 | frac<<13
	case exp == 0x1f:
		f32bits = sign<<31 | 0xff<<23 | frac<<13
	default:
		f32bits = sign<<31 | (exp+127-15)<<23 | frac<<13
	}
	return math.Float32frombits(f32bits)
}

// LoadCheckpoint loads a llama-family checkpoint (config.json +
// model.safetensors) from a local directory and assembles the decoder.
func LoadCheckpoint(dir string) (*Model, error) {
	config, err := LoadModelConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}

	weights, err := ReadSafetensors(filepath.Join(dir, "model.safetensors"))
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}

	return AssembleModel(config, weights)
}

// AssembleModel builds a decoder from a config and a named weight map. Linear
// weights arrive in PyTorch [out, in] layout and are transposed to [in, out]
// so the forward pass can multiply activations on the left.
func AssembleModel(config *ModelConfig, weights map[string]*Tensor) (*Model, error) {
	model := NewModel(config)

	var err error
	get := func(name string) *Tensor {
		t, ok := weights[name]
		if !ok && err == nil {
			err = fmt.Errorf("tensor not found: %s", name)
		}
		return t
	}

	model.TokenEmbedding = get("model.embed_tokens.weight")

	for i := 0; i < config.NumLayers; i++ {
		prefix := fmt.Sprintf("model.layers.%d", i)
		block := model.Blocks[i]

		block.Attention.QWeight = transposed(get(prefix + ".self_attn.q_proj.weight"))
		block.Attention.KWeight = transposed(get(prefix + ".self_attn.k_proj.weight"))
		block.Attention.VWeight = transposed(get(prefix + ".self_attn.v_proj.weight"))
		block.Attention.OutWeight = transposed(get(prefix + ".self_attn.o_proj.weight"))

		block.FFN.GateWeight = transposed(get(prefix + ".mlp.gate_proj.weight"))
		block.FFN.UpWeight = transposed(get(prefix + ".mlp.up_proj.weight"))
		block.FFN.DownWeight = transposed(get(prefix + ".mlp.down_proj.weight"))

		block.AttnNorm.Weight = get(prefix + ".input_layernorm.weight")
		block.FFNNorm.Weight = get(prefix + ".post_attention_layernorm.weight")
	}

	model.FinalNorm.Weight = get("model.norm.weight")

	if config.TiedEmbedding {
		if model.TokenEmbedding != nil {
			model.LMHead = Transpose(model.TokenEmbedding)
		}
	} else {
		model.LMHead = transposed(get("lm_head.weight"))
	}

	if err != nil {
		return nil, err
	}
	return model, nil
}

func transposed(t *Tensor) *Tensor {
	if t == nil {
		return nil
	}
	return Transpose(t)
}
