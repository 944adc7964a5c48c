package tensor

import "math"

// RMSNormLayer wraps an RMS normalization weight
type RMSNormLayer struct {
	Weight *Tensor
	Eps    float32
}

// Forward applies RMS normalization
func (ln *RMSNormLayer) Forward(x *Tensor) *Tensor {
	return RMSNorm(x, ln.Weight, ln.Eps)
}

// GroupedQueryAttention implements GQA with RoPE and causal masking.
// All projection weights are stored as [in, out].
type GroupedQueryAttention struct {
	NumHeads   int
	NumKVHeads int
	HeadDim    int
	Hidden     int

	QWeight   *Tensor // [hidden, hidden]
	KWeight   *Tensor // [hidden, kv_heads*head_dim]
	VWeight   *Tensor // [hidden, kv_heads*head_dim]
	OutWeight *Tensor // [hidden, hidden]
}

// SwiGLUFFN implements the llama feed-forward network
type SwiGLUFFN struct {
	GateWeight *Tensor // [hidden, ffn_dim]
	UpWeight   *Tensor // [hidden, ffn_dim]
	DownWeight *Tensor // [ffn_dim, hidden]
	Hidden     int
	FFNDim     int
}

// Block is a single decoder layer
type Block struct {
	Attention *GroupedQueryAttention
	FFN       *SwiGLUFFN
	AttnNorm  *RMSNormLayer
	FFNNorm   *RMSNormLayer
}

// Model is a llama-family decoder
type Model struct {
	Config         *ModelConfig
	TokenEmbedding *Tensor // [vocab, hidden]
	Blocks         []*Block
	FinalNorm      *RMSNormLayer
	LMHead         *Tensor // [hidden, vocab]

	rope *RoPECache
}

// NewModel allocates the decoder structure for a config; weights are filled
// in by AssembleModel.
func NewModel(config *ModelConfig) *Model {
	m := &Model{
		Config:    config,
		Blocks:    make([]*Block, config.NumLayers),
		FinalNorm: &RMSNormLayer{Eps: config.NormEps},
		rope:      NewRoPECache(config.HeadDim, config.MaxSeqLen, config.RoPEBase),
	}
	for i := range m.Blocks {
		m.Blocks[i] = &Block{
			Attention: &GroupedQueryAttention{
				NumHeads:   config.NumHeads,
				NumKVHeads: config.NumKVHeads,
				HeadDim:    config.HeadDim,
				Hidden:     config.Hidden,
			},
			FFN: &SwiGLUFFN{
				Hidden: config.Hidden,
				FFNDim: config.FFNDim,
			},
			AttnNorm: &RMSNormLayer{Eps: config.NormEps},
			FFNNorm:  &RMSNormLayer{Eps: config.NormEps},
		}
	}
	return m
}

// Forward runs the full sequence without caching and returns logits
// [1, seq, vocab]
func (m *Model) Forward(tokenIDs []int) *Tensor {
	logits, _ := m.ForwardWithCache(tokenIDs, nil, 0)
	return logits
}

// ForwardWithCache runs a forward pass over tokenIDs with KV caching.
// posOffset is the absolute position of the first token; during incremental
// decoding it equals the number of positions already in the cache.
func (m *Model) ForwardWithCache(tokenIDs []int, kvCache *KVCache, posOffset int) (*Tensor, *KVCache) {
	seqLen := len(tokenIDs)

	if kvCache == nil {
		kvCache = NewKVCache(m.Config.NumLayers)
	}

	x := m.embed(tokenIDs)

	for i, block := range m.Blocks {
		kCache, vCache := kvCache.Layer(i)

		residual := x
		x = block.AttnNorm.Forward(x)
		var newK, newV *Tensor
		x, newK, newV = block.Attention.ForwardWithCache(x, kCache, vCache, m.rope, posOffset)
		x = Add(x, residual)
		kvCache.SetLayer(i, newK, newV)

		residual = x
		x = block.FFNNorm.Forward(x)
		x = block.FFN.Forward(x)
		x = Add(x, residual)
	}

	x = m.FinalNorm.Forward(x)

	xFlat := x.Reshape(seqLen, m.Config.Hidden)
	logits := MatMul(xFlat, m.LMHead)
	return logits.Reshape(1, seqLen, m.Config.VocabSize), kvCache
}

// LastTokenLogits extracts the logits row for the final position
func (m *Model) LastTokenLogits(logits *Tensor) []float32 {
	seqLen := logits.Shape[1]
	vocab := logits.Shape[2]
	start := (seqLen - 1) * vocab
	return logits.Data[start : start+vocab]
}

func (m *Model) embed(tokenIDs []int) *Tensor {
	hidden := m.Config.Hidden
	x := NewTensor(1, len(tokenIDs), hidden)
	for s, id := range tokenIDs {
		copy(x.Data[s*hidden:(s+1)*hidden], m.TokenEmbedding.Data[id*hidden:(id+1)*hidden])
	}
	return x
}

// ForwardWithCache performs grouped-query attention over x plus any cached
// positions. Returns the block output and the extended K/V tensors (at
// KV-head granularity) for the cache.
func (gqa *GroupedQueryAttention) ForwardWithCache(x *Tensor, kCache, vCache *Tensor, rope *RoPECache, posOffset int) (*Tensor, *Tensor, *Tensor) {
	batch := x.Shape[0]
	seqLen := x.Shape[1]
	kvHidden := gqa.NumKVHeads * gqa.HeadDim

	xFlat := x.Reshape(batch*seqLen, gqa.Hidden)
	Q := MatMul(xFlat, gqa.QWeight).Reshape(batch, seqLen, gqa.Hidden)
	K := MatMul(xFlat, gqa.KWeight).Reshape(batch, seqLen, kvHidden)
	V := MatMul(xFlat, gqa.VWeight).Reshape(batch, seqLen, kvHidden)

	Q = splitHeads(Q, batch, seqLen, gqa.NumHeads, gqa.HeadDim)
	K = splitHeads(K, batch, seqLen, gqa.NumKVHeads, gqa.HeadDim)
	V = splitHeads(V, batch, seqLen, gqa.NumKVHeads, gqa.HeadDim)

	rope.Apply(Q, K, posOffset)

	if kCache != nil && vCache != nil {
		K = Concatenate(kCache, K, 2)
		V = Concatenate(vCache, V, 2)
	}

	out := gqa.causalAttention(Q, K, V, posOffset)
	out = mergeHeads(out, batch, seqLen, gqa.NumHeads, gqa.HeadDim)

	outFlat := out.Reshape(batch*seqLen, gqa.Hidden)
	result := MatMul(outFlat, gqa.OutWeight).Reshape(batch, seqLen, gqa.Hidden)

	return result, K, V
}

// causalAttention computes scaled dot-product attention. Q is
// [batch, heads, q_len, head_dim]; K and V are at KV-head granularity and
// cover all positions seen so far. A query at absolute position posOffset+i
// may attend to keys at positions <= posOffset+i.
func (gqa *GroupedQueryAttention) causalAttention(Q, K, V *Tensor, posOffset int) *Tensor {
	batch := Q.Shape[0]
	qLen := Q.Shape[2]
	kLen := K.Shape[2]
	headDim := gqa.HeadDim
	headsPerKV := gqa.NumHeads / gqa.NumKVHeads

	scale := float32(1.0 / math.Sqrt(float64(headDim)))
	result := NewTensor(batch, gqa.NumHeads, qLen, headDim)

	for b := 0; b < batch; b++ {
		for h := 0; h < gqa.NumHeads; h++ {
			kvHead := h / headsPerKV
			qOff := ((b*gqa.NumHeads + h) * qLen) * headDim
			kOff := ((b*gqa.NumKVHeads + kvHead) * kLen) * headDim

			scores := NewTensor(qLen, kLen)
			for i := 0; i < qLen; i++ {
				limit := posOffset + i
				for j := 0; j < kLen; j++ {
					if j > limit {
						scores.Data[i*kLen+j] = -1e10
						continue
					}
					sum := float32(0)
					for d := 0; d < headDim; d++ {
						sum += Q.Data[qOff+i*headDim+d] * K.Data[kOff+j*headDim+d]
					}
					scores.Data[i*kLen+j] = sum * scale
				}
			}

			probs := Softmax(scores)

			for i := 0; i < qLen; i++ {
				for d := 0; d < headDim; d++ {
					sum := float32(0)
					for j := 0; j < kLen; j++ {
						sum += probs.Data[i*kLen+j] * V.Data[kOff+j*headDim+d]
					}
					result.Data[qOff+i*headDim+d] = sum
				}
			}
		}
	}
	return result
}

// Forward applies the SwiGLU feed-forward network
func (ffn *SwiGLUFFN) Forward(x *Tensor) *Tensor {
	batch := x.Shape[0]
	seqLen := x.Shape[1]

	xFlat := x.Reshape(batch*seqLen, ffn.Hidden)
	gate := SiLU(MatMul(xFlat, ffn.GateWeight))
	up := MatMul(xFlat, ffn.UpWeight)

	h := NewTensor(gate.Shape...)
	for i := range gate.Data {
		h.Data[i] = gate.Data[i] * up.Data[i]
	}

	out := MatMul(h, ffn.DownWeight)
	return out.Reshape(batch, seqLen, ffn.Hidden)
}

// splitHeads reshapes [batch, seq, heads*head_dim] to
// [batch, heads, seq, head_dim]
func splitHeads(x *Tensor, batch, seqLen, numHeads, headDim int) *Tensor {
	result := NewTensor(batch, numHeads, seqLen, headDim)
	width := numHeads * headDim
	for b := 0; b < batch; b++ {
		for s := 0; s < seqLen; s++ {
			for h := 0; h < numHeads; h++ {
				src := (b*seqLen+s)*width + h*headDim
				dst := ((b*numHeads+h)*seqLen + s) * headDim
				copy(result.Data[dst:dst+headDim], x.Data[src:src+headDim])
			}
		}
	}
	return result
}

// mergeHeads reshapes [batch, heads, seq, head_dim] back to
// [batch, seq, heads*head_dim]
func mergeHeads(x *Tensor, batch, seqLen, numHeads, headDim int) *Tensor {
	width := numHeads * headDim
	result := NewTensor(batch, seqLen, width)
	for b := 0; b < batch; b++ {
		for h := 0; h < numHeads; h++ {
			for s := 0; s < seqLen; s++ {
				src := ((b*numHeads+h)*seqLen + s) * headDim
				dst := (b*seqLen+s)*width + h*headDim
				copy(result.Data[dst:dst+headDim], x.Data[src:src+headDim])
			}
		}
	}
	return result
}
