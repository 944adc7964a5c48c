package onnxgen

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/engine/tensor"
)

const (
	producerName    = "conversational-filler-web-demo"
	producerVersion = "1.0"

	irVersion    = 8
	opsetVersion = 14

	// defaultMaxSeqLen bounds the exported rotary tables. Checkpoints often
	// advertise very large max_position_embeddings that the demo never uses.
	defaultMaxSeqLen = 2048
)

// Exporter converts a local safetensors checkpoint into a single ONNX graph.
// The graph takes input_ids [batch, sequence] and produces logits
// [batch, sequence, vocab]; it carries no KV-cache state, matching the
// use_cache=false contract of the artifact config.
type Exporter struct {
	maxSeqLen int
}

// ExporterOption configures an Exporter
type ExporterOption func(*Exporter)

// WithMaxSeqLen caps the sequence length baked into the rotary tables
func WithMaxSeqLen(n int) ExporterOption {
	return func(e *Exporter) {
		if n > 0 {
			e.maxSeqLen = n
		}
	}
}

// NewExporter creates an Exporter
func NewExporter(opts ...ExporterOption) *Exporter {
	e := &Exporter{maxSeqLen: defaultMaxSeqLen}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export reads config.json and model.safetensors from checkpointDir, builds
// the decoder graph, and writes the serialized model to outPath.
func (e *Exporter) Export(checkpointDir, outPath string) error {
	config, err := tensor.LoadModelConfig(filepath.Join(checkpointDir, "config.json"))
	if err != nil {
		return err
	}
	weights, err := tensor.ReadSafetensors(filepath.Join(checkpointDir, "model.safetensors"))
	if err != nil {
		return fmt.Errorf("failed to load weights: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"architecture": config.Architecture,
		"layers":       config.NumLayers,
		"hidden":       config.Hidden,
	}).Info("exporting checkpoint to onnx")

	model, err := BuildModel(config, weights, e.maxSeqLen)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.WriteFile(outPath, model, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}

	logrus.WithFields(logrus.Fields{"path": outPath, "bytes": len(model)}).Info("onnx export complete")
	return nil
}

// BuildModel assembles the serialized ModelProto for a llama-family decoder
func BuildModel(config *tensor.ModelConfig, weights map[string]*tensor.Tensor, maxSeqLen int) ([]byte, error) {
	if maxSeqLen <= 0 || maxSeqLen > config.MaxSeqLen {
		maxSeqLen = config.MaxSeqLen
	}

	g := newGraphBuilder()
	if err := g.buildDecoder(config, weights, maxSeqLen); err != nil {
		return nil, err
	}

	inputs := [][]byte{
		valueInfoProto("input_ids", elemInt64, []dimension{{param: "batch"}, {param: "sequence"}}),
	}
	outputs := [][]byte{
		valueInfoProto("logits", elemFloat, []dimension{{param: "batch"}, {param: "sequence"}, {value: int64(config.VocabSize)}}),
	}

	graph := graphProto("decoder", g.nodes, g.initializers, inputs, outputs)
	return modelProto(irVersion, opsetVersion, producerName, producerVersion, graph), nil
}

// graphBuilder accumulates encoded nodes and initializers
type graphBuilder struct {
	nodes        [][]byte
	initializers [][]byte
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{}
}

// node appends an operator whose single output is named after the node
func (g *graphBuilder) node(opType, name string, inputs []string, attrs ...attribute) string {
	g.nodes = append(g.nodes, nodeProto(opType, name, inputs, []string{name}, attrs))
	return name
}

// initFloats registers a float32 initializer and returns its name
func (g *graphBuilder) initFloats(name string, dims []int64, data []float32) string {
	g.initializers = append(g.initializers, floatTensor(name, dims, data))
	return name
}

// initInts registers an int64 initializer and returns its name
func (g *graphBuilder) initInts(name string, dims []int64, data []int64) string {
	g.initializers = append(g.initializers, int64Tensor(name, dims, data))
	return name
}

// scalarFloat registers a zero-rank float initializer
func (g *graphBuilder) scalarFloat(name string, v float32) string {
	return g.initFloats(name, nil, []float32{v})
}

// scalarInt registers a zero-rank int64 initializer
func (g *graphBuilder) scalarInt(name string, v int64) string {
	return g.initInts(name, nil, []int64{v})
}

// buildDecoder emits the full forward pass: embedding lookup, rotary position
// tables sliced to the runtime sequence length, a dynamically constructed
// causal mask, the stack of pre-norm attention/FFN blocks, and the LM head.
func (g *graphBuilder) buildDecoder(config *tensor.ModelConfig, weights map[string]*tensor.Tensor, maxSeqLen int) error {
	headDim := config.HeadDim
	numHeads := config.NumHeads
	hidden := config.Hidden

	embedding, ok := weights["model.embed_tokens.weight"]
	if !ok {
		return fmt.Errorf("tensor not found: model.embed_tokens.weight")
	}

	// Shared constants.
	epsName := g.scalarFloat("norm_eps", config.NormEps)
	scaleName := g.scalarFloat("attn_scale", float32(1.0/math.Sqrt(float64(headDim))))
	zeroF := g.scalarFloat("zero_f", 0)
	negInf := g.scalarFloat("mask_fill", -1e10)
	zeroI := g.scalarInt("zero_i", 0)
	oneI := g.scalarInt("one_i", 1)
	axes0 := g.initInts("axes_0", []int64{1}, []int64{0})
	axes1 := g.initInts("axes_1", []int64{1}, []int64{1})
	axes3 := g.initInts("axes_3", []int64{1}, []int64{3})
	starts0 := g.initInts("starts_0", []int64{1}, []int64{0})
	half := int64(headDim / 2)
	startsHalf := g.initInts("starts_half", []int64{1}, []int64{half})
	endsHalf := g.initInts("ends_half", []int64{1}, []int64{half})
	endsHead := g.initInts("ends_head", []int64{1}, []int64{int64(headDim)})
	splitShape := g.initInts("shape_split_heads", []int64{4}, []int64{0, 0, int64(numHeads), int64(headDim)})
	mergeShape := g.initInts("shape_merge_heads", []int64{3}, []int64{0, 0, int64(hidden)})
	seqAxisIdx := g.scalarInt("seq_axis", 1)

	// Runtime sequence length, as a scalar and as a 1-D slice bound.
	shape := g.node("Shape", "ids_shape", []string{"input_ids"})
	seqLen := g.node("Gather", "seq_len", []string{shape, seqAxisIdx}, intAttr("axis", 0))
	seqLen1d := g.node("Unsqueeze", "seq_len_1d", []string{seqLen, axes0})

	// Causal mask [sequence, sequence]: -1e10 above the diagonal.
	positions := g.node("Range", "positions", []string{zeroI, seqLen, oneI})
	rows := g.node("Unsqueeze", "mask_rows", []string{positions, axes1})
	cols := g.node("Unsqueeze", "mask_cols", []string{positions, axes0})
	future := g.node("Greater", "mask_future", []string{cols, rows})
	mask := g.node("Where", "causal_mask", []string{future, negInf, zeroF})

	// Rotary tables sliced to the runtime sequence length.
	rope := tensor.NewRoPECache(headDim, maxSeqLen, config.RoPEBase)
	cosFull := g.initFloats("rope_cos_table", []int64{int64(maxSeqLen), int64(headDim)}, rope.CosCache.Data)
	sinFull := g.initFloats("rope_sin_table", []int64{int64(maxSeqLen), int64(headDim)}, rope.SinCache.Data)
	cos := g.node("Slice", "rope_cos", []string{cosFull, starts0, seqLen1d, axes0})
	sin := g.node("Slice", "rope_sin", []string{sinFull, starts0, seqLen1d, axes0})

	embedName := g.initFloats("model.embed_tokens.weight",
		[]int64{int64(config.VocabSize), int64(hidden)}, embedding.Data)
	x := g.node("Gather", "hidden_0", []string{embedName, "input_ids"}, intAttr("axis", 0))

	applyRope := func(prefix, in string) string {
		scaledCos := g.node("Mul", prefix+"_cos", []string{in, cos})
		x1 := g.node("Slice", prefix+"_x1", []string{in, starts0, endsHalf, axes3})
		x2 := g.node("Slice", prefix+"_x2", []string{in, startsHalf, endsHead, axes3})
		negX2 := g.node("Neg", prefix+"_neg_x2", []string{x2})
		rotated := g.node("Concat", prefix+"_rotated", []string{negX2, x1}, intAttr("axis", 3))
		scaledSin := g.node("Mul", prefix+"_sin", []string{rotated, sin})
		return g.node("Add", prefix+"_rope", []string{scaledCos, scaledSin})
	}

	rmsNorm := func(prefix, in, weight string) string {
		sq := g.node("Mul", prefix+"_sq", []string{in, in})
		mean := g.node("ReduceMean", prefix+"_var", []string{sq}, intsAttr("axes", -1), intAttr("keepdims", 1))
		stable := g.node("Add", prefix+"_var_eps", []string{mean, epsName})
		std := g.node("Sqrt", prefix+"_std", []string{stable})
		normed := g.node("Div", prefix+"_normed", []string{in, std})
		return g.node("Mul", prefix+"_scaled", []string{normed, weight})
	}

	// [batch, sequence, heads*dim] -> [batch, heads, sequence, dim]
	toHeads := func(prefix, in string) string {
		split := g.node("Reshape", prefix+"_split", []string{in, splitShape})
		return g.node("Transpose", prefix+"_heads", []string{split}, intsAttr("perm", 0, 2, 1, 3))
	}

	for i := 0; i < config.NumLayers; i++ {
		layer := fmt.Sprintf("model.layers.%d", i)
		p := fmt.Sprintf("l%d", i)

		qw, err := projInitializer(g, weights, layer+".self_attn.q_proj.weight", config, false)
		if err != nil {
			return err
		}
		kw, err := projInitializer(g, weights, layer+".self_attn.k_proj.weight", config, true)
		if err != nil {
			return err
		}
		vw, err := projInitializer(g, weights, layer+".self_attn.v_proj.weight", config, true)
		if err != nil {
			return err
		}
		ow, err := projInitializer(g, weights, layer+".self_attn.o_proj.weight", config, false)
		if err != nil {
			return err
		}
		gw, err := projInitializer(g, weights, layer+".mlp.gate_proj.weight", config, false)
		if err != nil {
			return err
		}
		uw, err := projInitializer(g, weights, layer+".mlp.up_proj.weight", config, false)
		if err != nil {
			return err
		}
		dw, err := projInitializer(g, weights, layer+".mlp.down_proj.weight", config, false)
		if err != nil {
			return err
		}
		attnNorm, err := vectorInitializer(g, weights, layer+".input_layernorm.weight")
		if err != nil {
			return err
		}
		ffnNorm, err := vectorInitializer(g, weights, layer+".post_attention_layernorm.weight")
		if err != nil {
			return err
		}

		ln1 := rmsNorm(p+"_attn_norm", x, attnNorm)
		q := toHeads(p+"_q", g.node("MatMul", p+"_q_proj", []string{ln1, qw}))
		k := toHeads(p+"_k", g.node("MatMul", p+"_k_proj", []string{ln1, kw}))
		v := toHeads(p+"_v", g.node("MatMul", p+"_v_proj", []string{ln1, vw}))

		qRot := applyRope(p+"_q", q)
		kRot := applyRope(p+"_k", k)

		kT := g.node("Transpose", p+"_k_t", []string{kRot}, intsAttr("perm", 0, 1, 3, 2))
		scores := g.node("MatMul", p+"_scores", []string{qRot, kT})
		scaled := g.node("Mul", p+"_scores_scaled", []string{scores, scaleName})
		masked := g.node("Add", p+"_scores_masked", []string{scaled, mask})
		probs := g.node("Softmax", p+"_probs", []string{masked}, intAttr("axis", -1))
		context := g.node("MatMul", p+"_context", []string{probs, v})
		gathered := g.node("Transpose", p+"_context_t", []string{context}, intsAttr("perm", 0, 2, 1, 3))
		merged := g.node("Reshape", p+"_context_merged", []string{gathered, mergeShape})
		attnOut := g.node("MatMul", p+"_attn_out", []string{merged, ow})
		x = g.node("Add", p+"_residual_attn", []string{x, attnOut})

		ln2 := rmsNorm(p+"_ffn_norm", x, ffnNorm)
		gate := g.node("MatMul", p+"_gate", []string{ln2, gw})
		up := g.node("MatMul", p+"_up", []string{ln2, uw})
		sig := g.node("Sigmoid", p+"_gate_sig", []string{gate})
		act := g.node("Mul", p+"_gate_silu", []string{gate, sig})
		prod := g.node("Mul", p+"_ffn_prod", []string{act, up})
		down := g.node("MatMul", p+"_down", []string{prod, dw})
		x = g.node("Add", p+"_residual_ffn", []string{x, down})
	}

	finalNorm, err := vectorInitializer(g, weights, "model.norm.weight")
	if err != nil {
		return err
	}
	normed := rmsNorm("final_norm", x, finalNorm)

	lmHead, err := lmHeadInitializer(g, config, weights, embedding)
	if err != nil {
		return err
	}
	g.nodes = append(g.nodes, nodeProto("MatMul", "lm_head", []string{normed, lmHead}, []string{"logits"}, nil))
	return nil
}

// projInitializer registers a linear projection weight, transposed from the
// checkpoint's [out, in] layout to [in, out]. When expandKV is set the KV
// projection of a grouped-query checkpoint is replicated per query head so
// the graph runs plain multi-head attention.
func projInitializer(g *graphBuilder, weights map[string]*tensor.Tensor, name string, config *tensor.ModelConfig, expandKV bool) (string, error) {
	w, ok := weights[name]
	if !ok {
		return "", fmt.Errorf("tensor not found: %s", name)
	}
	if len(w.Shape) != 2 {
		return "", fmt.Errorf("expected 2D weight for %s, got %v", name, w.Shape)
	}

	if expandKV && config.NumKVHeads < config.NumHeads {
		data, rows, cols := expandKVWeight(w, config)
		return g.initFloats(name, []int64{int64(rows), int64(cols)}, data), nil
	}

	t := tensor.Transpose(w)
	return g.initFloats(name, []int64{int64(t.Shape[0]), int64(t.Shape[1])}, t.Data), nil
}

// expandKVWeight transposes a grouped KV projection [kvHeads*headDim, hidden]
// to [hidden, numHeads*headDim], duplicating each KV head across its query
// head group.
func expandKVWeight(w *tensor.Tensor, config *tensor.ModelConfig) ([]float32, int, int) {
	headDim := config.HeadDim
	hidden := w.Shape[1]
	group := config.NumHeads / config.NumKVHeads

	cols := config.NumHeads * headDim
	out := make([]float32, hidden*cols)
	for qh := 0; qh < config.NumHeads; qh++ {
		kvh := qh / group
		for d := 0; d < headDim; d++ {
			srcRow := kvh*headDim + d
			dstCol := qh*headDim + d
			for in := 0; in < hidden; in++ {
				out[in*cols+dstCol] = w.Data[srcRow*hidden+in]
			}
		}
	}
	return out, hidden, cols
}

// vectorInitializer registers a 1-D norm weight
func vectorInitializer(g *graphBuilder, weights map[string]*tensor.Tensor, name string) (string, error) {
	w, ok := weights[name]
	if !ok {
		return "", fmt.Errorf("tensor not found: %s", name)
	}
	return g.initFloats(name, []int64{int64(len(w.Data))}, w.Data), nil
}

// lmHeadInitializer registers the output projection [hidden, vocab], reusing
// the embedding for tied checkpoints
func lmHeadInitializer(g *graphBuilder, config *tensor.ModelConfig, weights map[string]*tensor.Tensor, embedding *tensor.Tensor) (string, error) {
	source := embedding
	if !config.TiedEmbedding {
		w, ok := weights["lm_head.weight"]
		if !ok {
			return "", fmt.Errorf("tensor not found: lm_head.weight")
		}
		source = w
	}
	t := tensor.Transpose(source)
	return g.initFloats("lm_head.weight", []int64{int64(t.Shape[0]), int64(t.Shape[1])}, t.Data), nil
}
