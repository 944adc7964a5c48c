package tensor

// KVCache stores per-layer key and value tensors between generation steps
type KVCache struct {
	Keys   []*Tensor // [batch, kv_heads, seq_len, head_dim]
	Values []*Tensor
}

// NewKVCache creates an empty cache for the given number of layers
func NewKVCache(numLayers int) *KVCache {
	return &KVCache{
		Keys:   make([]*Tensor, numLayers),
		Values: make([]*Tensor, numLayers),
	}
}

// Layer returns the cached K and V for a layer, nil before the first step
func (kv *KVCache) Layer(i int) (*Tensor, *Tensor) {
	if i < 0 || i >= len(kv.Keys) {
		return nil, nil
	}
	return kv.Keys[i], kv.Values[i]
}

// SetLayer replaces the cached K and V for a layer
func (kv *KVCache) SetLayer(i int, k, v *Tensor) {
	if i >= 0 && i < len(kv.Keys) {
		kv.Keys[i] = k
		kv.Values[i] = v
	}
}

// SeqLen returns the number of cached positions
func (kv *KVCache) SeqLen() int {
	if len(kv.Keys) == 0 || kv.Keys[0] == nil {
		return 0
	}
	return kv.Keys[0].Shape[2]
}
