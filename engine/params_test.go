package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGenerationParamsDefaults(t *testing.T) {
	gp := NewGenerationParams()

	assert.Equal(t, 20, gp.MaxNewTokens)
	assert.False(t, gp.DoSample)
	assert.Equal(t, 1.0, gp.Temperature)
	assert.Equal(t, 1.0, gp.TopP)
	assert.Equal(t, -1, gp.EOSTokenID)
	assert.Equal(t, -1, gp.PadTokenID)
}

func TestNewGenerationParamsOptions(t *testing.T) {
	gp := NewGenerationParams(
		WithMaxNewTokens(50),
		WithSampling(true),
		WithTemperature(0.7),
		WithTopP(0.9),
	)

	assert.Equal(t, 50, gp.MaxNewTokens)
	assert.True(t, gp.DoSample)
	assert.Equal(t, 0.7, gp.Temperature)
	assert.Equal(t, 0.9, gp.TopP)
}

func TestNewGenerationParamsValidation(t *testing.T) {
	assert.Panics(t, func() {
		NewGenerationParams(WithMaxNewTokens(0))
	})
	assert.Panics(t, func() {
		NewGenerationParams(WithSampling(true), WithTemperature(0))
	})
	assert.Panics(t, func() {
		NewGenerationParams(WithTopP(1.5))
	})
}

func TestWithTokensCopies(t *testing.T) {
	gp := NewGenerationParams()
	bound := gp.WithTokens(7, 3)

	assert.Equal(t, 7, bound.EOSTokenID)
	assert.Equal(t, 3, bound.PadTokenID)
	// The original stays unbound.
	assert.Equal(t, -1, gp.EOSTokenID)
	assert.Equal(t, -1, gp.PadTokenID)
}

func TestGenerationParamsString(t *testing.T) {
	greedy := NewGenerationParams()
	assert.Equal(t, "{max_new_tokens: 20, do_sample: false}", greedy.String())

	sampled := NewGenerationParams(
		WithMaxNewTokens(50),
		WithSampling(true),
		WithTemperature(0.7),
		WithTopP(0.9),
	)
	assert.Equal(t, "{max_new_tokens: 50, do_sample: true, temperature: 0.70, top_p: 0.90}", sampled.String())
}
