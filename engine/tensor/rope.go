package tensor

import "math"

// RoPECache stores precomputed rotary embedding sin/cos values
type RoPECache struct {
	CosCache  *Tensor // [max_seq_len, head_dim]
	SinCache  *Tensor // [max_seq_len, head_dim]
	HeadDim   int
	MaxSeqLen int
	Base      float64
}

// NewRoPECache precomputes rotary embeddings for all positions. Values are
// laid out in the HuggingFace "neox" convention: the angle for frequency pair
// i is stored at offsets i and i+headDim/2.
func NewRoPECache(headDim, maxSeqLen int, base float64) *RoPECache {
	cache := &RoPECache{
		HeadDim:   headDim,
		MaxSeqLen: maxSeqLen,
		Base:      base,
		CosCache:  NewTensor(maxSeqLen, headDim),
		SinCache:  NewTensor(maxSeqLen, headDim),
	}

	half := headDim / 2
	for pos := 0; pos < maxSeqLen; pos++ {
		for i := 0; i < half; i++ {
			freq := 1.0 / math.Pow(base, float64(2*i)/float64(headDim))
			angle := float64(pos) * freq

			cos := float32(math.Cos(angle))
			sin := float32(math.Sin(angle))
			cache.CosCache.Data[pos*headDim+i] = cos
			cache.CosCache.Data[pos*headDim+i+half] = cos
			cache.SinCache.Data[pos*headDim+i] = sin
			cache.SinCache.Data[pos*headDim+i+half] = sin
		}
	}
	return cache
}

// Apply rotates q and k in place. Tensors are [batch, heads, seq, head_dim];
// startPos is the absolute position of the first token (nonzero when the KV
// cache already holds earlier positions).
func (rc *RoPECache) Apply(q, k *Tensor, startPos int) {
	rc.rotate(q, startPos)
	rc.rotate(k, startPos)
}

func (rc *RoPECache) rotate(t *Tensor, startPos int) {
	if len(t.Shape) != 4 {
		panic("RoPE expects 4D tensor [batch, heads, seq, head_dim]")
	}

	batch := t.Shape[0]
	heads := t.Shape[1]
	seqLen := t.Shape[2]
	headDim := t.Shape[3]
	half := headDim / 2

	if headDim != rc.HeadDim {
		panic("head dimension mismatch")
	}

	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for s := 0; s < seqLen; s++ {
				pos := startPos + s
				if pos >= rc.MaxSeqLen {
					panic("position exceeds max sequence length")
				}

				base := ((b*heads+h)*seqLen + s) * headDim
				cacheBase := pos * headDim

				// rotate_half: out = x*cos + [-x2, x1]*sin
				for i := 0; i < half; i++ {
					x1 := t.Data[base+i]
					x2 := t.Data[base+i+half]

					cos := rc.CosCache.Data[cacheBase+i]
					sin := rc.SinCache.Data[cacheBase+i]

					t.Data[base+i] = x1*cos - x2*sin
					t.Data[base+i+half] = x2*cos + x1*sin
				}
			}
		}
	}
}
