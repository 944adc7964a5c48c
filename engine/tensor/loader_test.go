package tensor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeSafetensors serializes float32 tensors into the safetensors layout
func writeSafetensors(t *testing.T, path string, tensors map[string]*Tensor) {
	t.Helper()

	header := make(map[string]TensorInfo, len(tensors))
	var payload []byte
	for name, tensor := range tensors {
		start := int64(len(payload))
		for _, v := range tensor.Data {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			payload = append(payload, buf[:]...)
		}
		header[name] = TensorInfo{
			Dtype:  "F32",
			Shape:  tensor.Shape,
			Offset: [2]int64{start, int64(len(payload))},
		}
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("failed to encode header: %v", err)
	}

	var out []byte
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(len(headerBytes)))
	out = append(out, sizeBuf[:]...)
	out = append(out, headerBytes...)
	out = append(out, payload...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("failed to write safetensors: %v", err)
	}
}

func TestReadSafetensorsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeSafetensors(t, path, map[string]*Tensor{
		"weight.a": {Data: []float32{1, -2, 3.5}, Shape: []int{3}},
		"weight.b": {Data: []float32{0.5, 0.25, -1, 8}, Shape: []int{2, 2}},
	})

	tensors, err := ReadSafetensors(path)
	if err != nil {
		t.Fatalf("ReadSafetensors: %v", err)
	}

	a := tensors["weight.a"]
	if a == nil || a.Shape[0] != 3 || a.Data[1] != -2 {
		t.Errorf("weight.a corrupted: %+v", a)
	}
	b := tensors["weight.b"]
	if b == nil || len(b.Shape) != 2 || b.Data[3] != 8 {
		t.Errorf("weight.b corrupted: %+v", b)
	}
}

func TestReadSafetensorsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSafetensors(path); err == nil {
		t.Error("expected error for truncated file")
	}
}

func TestFloat32FromFloat16(t *testing.T) {
	tests := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xbc00, -1},
		{0x4000, 2},
		{0x3800, 0.5},
	}
	for _, tt := range tests {
		if got := float32FromFloat16(tt.bits); got != tt.want {
			t.Errorf("float16 %#04x = %f, want %f", tt.bits, got, tt.want)
		}
	}
}

func testConfigJSON() []byte {
	return []byte(`{
		"architectures": ["LlamaForCausalLM"],
		"model_type": "llama",
		"vocab_size": 32,
		"hidden_size": 8,
		"num_hidden_layers": 2,
		"num_attention_heads": 4,
		"num_key_value_heads": 2,
		"intermediate_size": 16,
		"max_position_embeddings": 64,
		"rms_norm_eps": 1e-5,
		"eos_token_id": 2
	}`)
}

func TestParseModelConfig(t *testing.T) {
	config, err := ParseModelConfig(testConfigJSON())
	if err != nil {
		t.Fatalf("ParseModelConfig: %v", err)
	}

	if config.HeadDim != 2 {
		t.Errorf("HeadDim = %d, want 2", config.HeadDim)
	}
	if config.RoPEBase != 10000.0 {
		t.Errorf("RoPEBase = %f, want default 10000", config.RoPEBase)
	}
	if !config.TiedEmbedding {
		t.Error("TiedEmbedding should default to true")
	}
	if config.PadTokenID != 2 {
		t.Errorf("PadTokenID = %d, want EOS fallback 2", config.PadTokenID)
	}
}

func TestParseModelConfigRejectsUnknownArchitecture(t *testing.T) {
	_, err := ParseModelConfig([]byte(`{
		"architectures": ["BertForMaskedLM"],
		"vocab_size": 10, "hidden_size": 4,
		"num_hidden_layers": 1, "num_attention_heads": 2
	}`))
	if err == nil {
		t.Error("expected error for unsupported architecture")
	}
}

func TestAssembleModelTiedHead(t *testing.T) {
	config, err := ParseModelConfig(testConfigJSON())
	if err != nil {
		t.Fatal(err)
	}

	weights := testCheckpointWeights(config)
	model, err := AssembleModel(config, weights)
	if err != nil {
		t.Fatalf("AssembleModel: %v", err)
	}

	// Tied head is the transposed embedding.
	if model.LMHead.Shape[0] != config.Hidden || model.LMHead.Shape[1] != config.VocabSize {
		t.Errorf("LMHead shape = %v", model.LMHead.Shape)
	}
	if model.LMHead.Data[0] != model.TokenEmbedding.Data[0] {
		t.Error("LMHead not tied to embedding")
	}
}

func TestAssembleModelMissingTensor(t *testing.T) {
	config, err := ParseModelConfig(testConfigJSON())
	if err != nil {
		t.Fatal(err)
	}

	weights := testCheckpointWeights(config)
	delete(weights, "model.layers.1.mlp.down_proj.weight")

	if _, err := AssembleModel(config, weights); err == nil {
		t.Error("expected error for missing tensor")
	}
}

// testCheckpointWeights builds a full random-free weight map in the PyTorch
// [out, in] layout AssembleModel expects
func testCheckpointWeights(config *ModelConfig) map[string]*Tensor {
	weights := map[string]*Tensor{
		"model.embed_tokens.weight": filled(config.VocabSize, config.Hidden),
		"model.norm.weight":         filled(config.Hidden),
	}
	kvDim := config.NumKVHeads * config.HeadDim
	for i := 0; i < config.NumLayers; i++ {
		prefix := fmt.Sprintf("model.layers.%d", i)
		weights[prefix+".self_attn.q_proj.weight"] = filled(config.Hidden, config.Hidden)
		weights[prefix+".self_attn.k_proj.weight"] = filled(kvDim, config.Hidden)
		weights[prefix+".self_attn.v_proj.weight"] = filled(kvDim, config.Hidden)
		weights[prefix+".self_attn.o_proj.weight"] = filled(config.Hidden, config.Hidden)
		weights[prefix+".mlp.gate_proj.weight"] = filled(config.FFNDim, config.Hidden)
		weights[prefix+".mlp.up_proj.weight"] = filled(config.FFNDim, config.Hidden)
		weights[prefix+".mlp.down_proj.weight"] = filled(config.Hidden, config.FFNDim)
		weights[prefix+".input_layernorm.weight"] = filled(config.Hidden)
		weights[prefix+".post_attention_layernorm.weight"] = filled(config.Hidden)
	}
	return weights
}

// filled creates a tensor with a deterministic ramp so transposition bugs
// show up as value mismatches
func filled(shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = float32(i%7) * 0.25
	}
	return t
}
