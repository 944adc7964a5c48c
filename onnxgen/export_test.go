package onnxgen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/maximus-powers/conversational-filler-web-demo/engine/tensor"
)

func testConfig(t *testing.T) *tensor.ModelConfig {
	t.Helper()
	config, err := tensor.ParseModelConfig([]byte(`{
		"architectures": ["LlamaForCausalLM"],
		"model_type": "llama",
		"vocab_size": 16,
		"hidden_size": 8,
		"num_hidden_layers": 2,
		"num_attention_heads": 4,
		"num_key_value_heads": 2,
		"intermediate_size": 12,
		"max_position_embeddings": 32,
		"eos_token_id": 2
	}`))
	require.NoError(t, err)
	return config
}

func testWeights(config *tensor.ModelConfig) map[string]*tensor.Tensor {
	ramp := func(shape ...int) *tensor.Tensor {
		t := tensor.NewTensor(shape...)
		for i := range t.Data {
			t.Data[i] = float32(i%5) * 0.5
		}
		return t
	}

	weights := map[string]*tensor.Tensor{
		"model.embed_tokens.weight": ramp(config.VocabSize, config.Hidden),
		"model.norm.weight":         ramp(config.Hidden),
	}
	kvDim := config.NumKVHeads * config.HeadDim
	for i := 0; i < config.NumLayers; i++ {
		prefix := fmt.Sprintf("model.layers.%d", i)
		weights[prefix+".self_attn.q_proj.weight"] = ramp(config.Hidden, config.Hidden)
		weights[prefix+".self_attn.k_proj.weight"] = ramp(kvDim, config.Hidden)
		weights[prefix+".self_attn.v_proj.weight"] = ramp(kvDim, config.Hidden)
		weights[prefix+".self_attn.o_proj.weight"] = ramp(config.Hidden, config.Hidden)
		weights[prefix+".mlp.gate_proj.weight"] = ramp(config.FFNDim, config.Hidden)
		weights[prefix+".mlp.up_proj.weight"] = ramp(config.FFNDim, config.Hidden)
		weights[prefix+".mlp.down_proj.weight"] = ramp(config.Hidden, config.FFNDim)
		weights[prefix+".input_layernorm.weight"] = ramp(config.Hidden)
		weights[prefix+".post_attention_layernorm.weight"] = ramp(config.Hidden)
	}
	return weights
}

// decodedModel is the subset of the serialized graph the tests inspect
type decodedModel struct {
	irVersion    int64
	opsetVersion int64
	producer     string
	inputNames   []string
	outputNames  []string
	nodeOpTypes  []string
	initDims     map[string][]int64
}

func decodeModel(t *testing.T, data []byte) *decodedModel {
	t.Helper()
	m := &decodedModel{initDims: make(map[string][]int64)}

	walkFields(t, data, func(num protowire.Number, payload []byte, v uint64) {
		switch num {
		case 1:
			m.irVersion = int64(v)
		case 2:
			m.producer = string(payload)
		case 7:
			m.decodeGraph(t, payload)
		case 8:
			walkFields(t, payload, func(num protowire.Number, _ []byte, v uint64) {
				if num == 2 {
					m.opsetVersion = int64(v)
				}
			})
		}
	})
	return m
}

func (m *decodedModel) decodeGraph(t *testing.T, data []byte) {
	walkFields(t, data, func(num protowire.Number, payload []byte, _ uint64) {
		switch num {
		case 1:
			walkFields(t, payload, func(num protowire.Number, p []byte, _ uint64) {
				if num == 4 {
					m.nodeOpTypes = append(m.nodeOpTypes, string(p))
				}
			})
		case 5:
			name := ""
			var dims []int64
			walkFields(t, payload, func(num protowire.Number, p []byte, v uint64) {
				switch num {
				case 1:
					for len(p) > 0 {
						d, n := protowire.ConsumeVarint(p)
						require.GreaterOrEqual(t, n, 0)
						dims = append(dims, int64(d))
						p = p[n:]
					}
				case 8:
					name = string(p)
				}
			})
			m.initDims[name] = dims
		case 11:
			m.inputNames = append(m.inputNames, valueInfoName(t, payload))
		case 12:
			m.outputNames = append(m.outputNames, valueInfoName(t, payload))
		}
	})
}

func valueInfoName(t *testing.T, data []byte) string {
	name := ""
	walkFields(t, data, func(num protowire.Number, payload []byte, _ uint64) {
		if num == 1 {
			name = string(payload)
		}
	})
	return name
}

// walkFields iterates a message's top-level fields, passing bytes payloads
// and varint values to the callback
func walkFields(t *testing.T, data []byte, visit func(num protowire.Number, payload []byte, v uint64)) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		require.GreaterOrEqual(t, int(n), 0, "bad tag")
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			require.GreaterOrEqual(t, n, 0)
			visit(num, nil, v)
			data = data[n:]
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(data)
			require.GreaterOrEqual(t, n, 0)
			visit(num, payload, 0)
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			require.GreaterOrEqual(t, n, 0)
			visit(num, nil, uint64(v))
			data = data[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			require.GreaterOrEqual(t, n, 0)
			visit(num, nil, v)
			data = data[n:]
		default:
			t.Fatalf("unexpected wire type %v", typ)
		}
	}
}

func TestBuildModelStructure(t *testing.T) {
	config := testConfig(t)

	data, err := BuildModel(config, testWeights(config), 16)
	require.NoError(t, err)

	m := decodeModel(t, data)

	assert.Equal(t, int64(irVersion), m.irVersion)
	assert.Equal(t, int64(opsetVersion), m.opsetVersion)
	assert.Equal(t, producerName, m.producer)
	assert.Equal(t, []string{"input_ids"}, m.inputNames)
	assert.Equal(t, []string{"logits"}, m.outputNames)
}

func TestBuildModelInitializers(t *testing.T) {
	config := testConfig(t)

	data, err := BuildModel(config, testWeights(config), 16)
	require.NoError(t, err)
	m := decodeModel(t, data)

	assert.Equal(t, []int64{16, 8}, m.initDims["model.embed_tokens.weight"])
	// Tied head: embedding transposed.
	assert.Equal(t, []int64{8, 16}, m.initDims["lm_head.weight"])
	// Rotary tables are capped to the requested sequence length.
	assert.Equal(t, []int64{16, 2}, m.initDims["rope_cos_table"])

	// Projections are stored [in, out]; KV projections expand from 2 KV
	// heads to the full 4 query heads.
	assert.Equal(t, []int64{8, 8}, m.initDims["model.layers.0.self_attn.q_proj.weight"])
	assert.Equal(t, []int64{8, 8}, m.initDims["model.layers.0.self_attn.k_proj.weight"])
	assert.Equal(t, []int64{8, 8}, m.initDims["model.layers.0.self_attn.v_proj.weight"])
	assert.Equal(t, []int64{8, 12}, m.initDims["model.layers.1.mlp.gate_proj.weight"])
	assert.Equal(t, []int64{12, 8}, m.initDims["model.layers.1.mlp.down_proj.weight"])
}

func TestBuildModelOperators(t *testing.T) {
	config := testConfig(t)

	data, err := BuildModel(config, testWeights(config), 16)
	require.NoError(t, err)
	m := decodeModel(t, data)

	counts := make(map[string]int)
	for _, op := range m.nodeOpTypes {
		counts[op]++
	}

	// One attention softmax per layer, one embedding gather plus the
	// sequence-length gather, SwiGLU sigmoids per layer.
	assert.Equal(t, config.NumLayers, counts["Softmax"])
	assert.Equal(t, config.NumLayers, counts["Sigmoid"])
	assert.Equal(t, 2, counts["Gather"])
	assert.Equal(t, 1, counts["Range"])
	assert.Equal(t, 1, counts["Where"])
	assert.NotZero(t, counts["MatMul"])
}

func TestBuildModelMissingWeight(t *testing.T) {
	config := testConfig(t)
	weights := testWeights(config)
	delete(weights, "model.layers.1.self_attn.v_proj.weight")

	_, err := BuildModel(config, weights, 16)
	assert.Error(t, err)
}

func TestExpandKVWeight(t *testing.T) {
	config := testConfig(t) // 4 query heads, 2 KV heads, head dim 2

	kvDim := config.NumKVHeads * config.HeadDim
	w := tensor.NewTensor(kvDim, config.Hidden)
	for i := range w.Data {
		w.Data[i] = float32(i)
	}

	data, rows, cols := expandKVWeight(w, config)
	assert.Equal(t, config.Hidden, rows)
	assert.Equal(t, config.NumHeads*config.HeadDim, cols)

	// Query heads 0 and 1 share KV head 0, heads 2 and 3 share KV head 1.
	for in := 0; in < rows; in++ {
		for d := 0; d < config.HeadDim; d++ {
			kv0 := w.Data[d*config.Hidden+in]
			assert.Equal(t, kv0, data[in*cols+0*config.HeadDim+d])
			assert.Equal(t, kv0, data[in*cols+1*config.HeadDim+d])

			kv1 := w.Data[(config.HeadDim+d)*config.Hidden+in]
			assert.Equal(t, kv1, data[in*cols+2*config.HeadDim+d])
			assert.Equal(t, kv1, data[in*cols+3*config.HeadDim+d])
		}
	}
}
