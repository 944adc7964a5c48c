package tensor

import (
	"math"
	"math/rand"
	"sort"
)

// SamplingParams holds parameters for token sampling
type SamplingParams struct {
	Greedy      bool
	Temperature float32
	TopP        float32
}

// Sample picks the next token from logits. Greedy decoding takes the argmax;
// otherwise logits are temperature-scaled, softmaxed, nucleus-filtered and
// sampled from. The logits slice is not modified.
func Sample(logits []float32, params *SamplingParams) int {
	if params == nil || params.Greedy {
		return Argmax(logits)
	}

	scaled := make([]float32, len(logits))
	copy(scaled, logits)
	if params.Temperature > 0 && params.Temperature != 1.0 {
		for i := range scaled {
			scaled[i] /= params.Temperature
		}
	}

	probs := softmax(scaled)

	if params.TopP > 0 && params.TopP < 1.0 {
		probs = topPFiltering(probs, params.TopP)
	}

	// Renormalize after filtering
	sum := float32(0)
	for _, p := range probs {
		sum += p
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}

	return sampleMultinomial(probs)
}

// Argmax returns the index of the largest logit
func Argmax(logits []float32) int {
	maxIdx := 0
	maxVal := logits[0]
	for i, v := range logits {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx
}

// softmax converts logits to probabilities
func softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float32, len(logits))
	sum := float32(0)
	for i, l := range logits {
		probs[i] = float32(math.Exp(float64(l - maxLogit)))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// topPFiltering keeps the smallest set of tokens whose cumulative probability
// reaches p, zeroing out the rest (nucleus sampling)
func topPFiltering(probs []float32, p float32) []float32 {
	type indexedProb struct {
		idx  int
		prob float32
	}

	indexed := make([]indexedProb, len(probs))
	for i, prob := range probs {
		indexed[i] = indexedProb{i, prob}
	}
	sort.Slice(indexed, func(i, j int) bool {
		return indexed[i].prob > indexed[j].prob
	})

	cumProb := float32(0)
	cutoff := len(indexed)
	for i, item := range indexed {
		cumProb += item.prob
		if cumProb >= p {
			cutoff = i + 1
			break
		}
	}

	result := make([]float32, len(probs))
	for i := 0; i < cutoff; i++ {
		result[indexed[i].idx] = indexed[i].prob
	}
	return result
}

// sampleMultinomial samples from a probability distribution
func sampleMultinomial(probs []float32) int {
	cumProbs := make([]float32, len(probs))
	cumProbs[0] = probs[0]
	for i := 1; i < len(probs); i++ {
		cumProbs[i] = cumProbs[i-1] + probs[i]
	}

	r := rand.Float32() * cumProbs[len(cumProbs)-1]

	idx := sort.Search(len(cumProbs), func(i int) bool {
		return cumProbs[i] >= r
	})
	if idx >= len(probs) {
		idx = len(probs) - 1
	}
	return idx
}
