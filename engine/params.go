package engine

import "fmt"

// GenerationParams holds the decoding parameters for a generation request
type GenerationParams struct {
	MaxNewTokens int     // upper bound on produced tokens
	DoSample     bool    // stochastic sampling vs. greedy decoding
	Temperature  float64 // sampling sharpness, only used when DoSample is set
	TopP         float64 // nucleus sampling cutoff, only used when DoSample is set

	// Per-model token ids, filled in by the caller from the tokenizer that
	// accompanies the model being run.
	EOSTokenID int
	PadTokenID int
}

// GenerationOption is a functional option for GenerationParams
type GenerationOption func(*GenerationParams)

// NewGenerationParams creates a new GenerationParams with default values
func NewGenerationParams(opts ...GenerationOption) *GenerationParams {
	gp := &GenerationParams{
		MaxNewTokens: 20,
		DoSample:     false,
		Temperature:  1.0,
		TopP:         1.0,
		EOSTokenID:   -1,
		PadTokenID:   -1,
	}

	for _, opt := range opts {
		opt(gp)
	}

	if err := gp.validate(); err != nil {
		panic(err)
	}

	return gp
}

// validate checks if the generation parameters are valid
func (gp *GenerationParams) validate() error {
	if gp.MaxNewTokens < 1 {
		return fmt.Errorf("max_new_tokens must be at least 1")
	}
	if gp.DoSample && gp.Temperature <= 1e-10 {
		return fmt.Errorf("sampling requires a positive temperature")
	}
	if gp.TopP <= 0 || gp.TopP > 1.0 {
		return fmt.Errorf("top_p must be in (0, 1]")
	}
	return nil
}

// WithTokens returns a copy of the parameters bound to a tokenizer's EOS and
// pad token ids.
func (gp *GenerationParams) WithTokens(eosID, padID int) *GenerationParams {
	out := *gp
	out.EOSTokenID = eosID
	out.PadTokenID = padID
	return &out
}

// String renders the recognized options the way the comparison report shows
// them.
func (gp *GenerationParams) String() string {
	if gp.DoSample {
		return fmt.Sprintf("{max_new_tokens: %d, do_sample: true, temperature: %.2f, top_p: %.2f}",
			gp.MaxNewTokens, gp.Temperature, gp.TopP)
	}
	return fmt.Sprintf("{max_new_tokens: %d, do_sample: false}", gp.MaxNewTokens)
}

// WithMaxNewTokens sets the maximum number of new tokens to generate
func WithMaxNewTokens(n int) GenerationOption {
	return func(gp *GenerationParams) {
		gp.MaxNewTokens = n
	}
}

// WithSampling enables stochastic sampling
func WithSampling(b bool) GenerationOption {
	return func(gp *GenerationParams) {
		gp.DoSample = b
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) GenerationOption {
	return func(gp *GenerationParams) {
		gp.Temperature = t
	}
}

// WithTopP sets the nucleus sampling cutoff
func WithTopP(p float64) GenerationOption {
	return func(gp *GenerationParams) {
		gp.TopP = p
	}
}
