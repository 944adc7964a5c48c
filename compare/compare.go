package compare

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/maximus-powers/conversational-filler-web-demo/engine"
)

// ModelPair couples a model with the tokenizer it was trained with
type ModelPair struct {
	Name      string
	Model     engine.Model
	Tokenizer engine.Tokenizer
}

// Result records one comparison between the two models for a single
// (prompt, parameters) pair. It is immutable once returned.
type Result struct {
	Prompt string
	Params *engine.GenerationParams

	// Raw responses: only the newly generated suffix, special tokens
	// suppressed, whitespace-trimmed.
	ReferenceRaw string
	ConvertedRaw string

	// Cleaned responses, both produced by CleanResponse.
	ReferenceClean string
	ConvertedClean string

	// Full decoded outputs including special tokens, for diagnostics.
	ReferenceFull string
	ConvertedFull string

	ExactMatch bool

	// Jaccard word-set similarity; JaccardOK is false when both cleaned
	// responses are empty and the ratio is undefined.
	Jaccard   float64
	JaccardOK bool

	// Character-length difference, converted minus reference.
	LengthDiff int

	ReferenceTime time.Duration
	ConvertedTime time.Duration
}

// SpeedRatio returns converted time over reference time
func (r *Result) SpeedRatio() float64 {
	if r.ReferenceTime <= 0 {
		return 0
	}
	return r.ConvertedTime.Seconds() / r.ReferenceTime.Seconds()
}

// Comparator runs the verification protocol over two loaded models
type Comparator struct {
	reference ModelPair
	converted ModelPair
	out       io.Writer
	verbose   bool
}

// ComparatorOption configures a Comparator
type ComparatorOption func(*Comparator)

// WithOutput directs the per-case diagnostic display to w
func WithOutput(w io.Writer) ComparatorOption {
	return func(c *Comparator) {
		c.out = w
	}
}

// WithVerbose toggles the per-case diagnostic display
func WithVerbose(b bool) ComparatorOption {
	return func(c *Comparator) {
		c.verbose = b
	}
}

// NewComparator creates a comparator over a reference and a converted model
func NewComparator(reference, converted ModelPair, opts ...ComparatorOption) *Comparator {
	c := &Comparator{
		reference: reference,
		converted: converted,
		out:       io.Discard,
		verbose:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompareOne runs a single test case: wrap the prompt, generate from both
// models, clean both outputs, and compute the comparison metrics.
func (c *Comparator) CompareOne(ctx context.Context, prompt string, params *engine.GenerationParams) (*Result, error) {
	refRaw, refFull, refTime, err := c.generate(ctx, c.reference, prompt, params)
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", c.reference.Name, err)
	}

	convRaw, convFull, convTime, err := c.generate(ctx, c.converted, prompt, params)
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", c.converted.Name, err)
	}

	result := &Result{
		Prompt:         prompt,
		Params:         params,
		ReferenceRaw:   refRaw,
		ConvertedRaw:   convRaw,
		ReferenceClean: CleanResponse(refRaw),
		ConvertedClean: CleanResponse(convRaw),
		ReferenceFull:  refFull,
		ConvertedFull:  convFull,
		ReferenceTime:  refTime,
		ConvertedTime:  convTime,
	}

	// Equality is only defined over the cleaned responses.
	result.ExactMatch = result.ReferenceClean == result.ConvertedClean
	if !result.ExactMatch {
		result.Jaccard, result.JaccardOK = jaccardSimilarity(result.ReferenceClean, result.ConvertedClean)
		result.LengthDiff = len(result.ConvertedClean) - len(result.ReferenceClean)
	}

	c.display(result)
	return result, nil
}

// generate encodes the templated prompt, runs one generation and decodes
// both the full output (special tokens kept, for diagnostics) and the newly
// generated suffix (special tokens suppressed).
func (c *Comparator) generate(ctx context.Context, pair ModelPair, prompt string, params *engine.GenerationParams) (raw, full string, elapsed time.Duration, err error) {
	wrapped := WrapPrompt(prompt)

	inputIDs, err := pair.Tokenizer.Encode(wrapped)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to encode prompt: %w", err)
	}

	bound := params.WithTokens(pair.Tokenizer.EOSTokenID(), pair.Tokenizer.PadTokenID())

	start := time.Now()
	outputIDs, err := pair.Model.Generate(ctx, inputIDs, bound)
	elapsed = time.Since(start)
	if err != nil {
		return "", "", 0, err
	}

	full, err = pair.Tokenizer.Decode(outputIDs, true)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to decode output: %w", err)
	}

	suffix := outputIDs
	if len(outputIDs) >= len(inputIDs) {
		suffix = outputIDs[len(inputIDs):]
	}
	raw, err = pair.Tokenizer.Decode(suffix, false)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to decode response: %w", err)
	}
	raw = strings.TrimSpace(raw)

	return raw, full, elapsed, nil
}

// display writes the per-case diagnostic block
func (c *Comparator) display(r *Result) {
	if !c.verbose {
		return
	}
	fmt.Fprintf(c.out, "Prompt: %q\n", r.Prompt)
	fmt.Fprintln(c.out, strings.Repeat("=", 80))
	fmt.Fprintf(c.out, "%s [%.3fs]:\n   %q\n\n", c.reference.Name, r.ReferenceTime.Seconds(), r.ReferenceRaw)
	fmt.Fprintf(c.out, "%s [%.3fs]:\n   %q\n\n", c.converted.Name, r.ConvertedTime.Seconds(), r.ConvertedRaw)
	fmt.Fprintf(c.out, "Exact match: %v\n", r.ExactMatch)
	if !r.ExactMatch {
		if r.JaccardOK {
			fmt.Fprintf(c.out, "Token similarity (Jaccard): %.3f\n", r.Jaccard)
		}
		fmt.Fprintf(c.out, "Length difference: %d chars\n", r.LengthDiff)
	}
	fmt.Fprintf(c.out, "Speed ratio (converted/reference): %.2fx\n", r.SpeedRatio())
	fmt.Fprintln(c.out, strings.Repeat("=", 80))
	fmt.Fprintln(c.out)
}

// Run executes the protocol over the cartesian product of prompts and
// parameter sets and aggregates the results into a report.
func (c *Comparator) Run(ctx context.Context, prompts []string, paramSets []*engine.GenerationParams) (*Report, error) {
	total := len(prompts) * len(paramSets)

	// The progress bar would interleave badly with the verbose per-case
	// display, so it only runs in quiet mode.
	var bar *progressbar.ProgressBar
	if !c.verbose {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Comparing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
		)
	}

	results := make([]*Result, 0, total)
	for ci, params := range paramSets {
		if c.verbose {
			fmt.Fprintf(c.out, "Test configuration %d: %s\n", ci+1, params)
			fmt.Fprintln(c.out, strings.Repeat("-", 40))
		}
		for pi, prompt := range prompts {
			logrus.WithFields(logrus.Fields{
				"config": ci + 1,
				"prompt": pi + 1,
			}).Debug("running comparison case")

			result, err := c.CompareOne(ctx, prompt, params)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
			if bar != nil {
				bar.Add(1)
			}
		}
	}
	if bar != nil {
		bar.Finish()
	}

	return NewReport(results), nil
}

// jaccardSimilarity computes |intersection| / |union| over whitespace-split
// word sets. The second return value is false when both sets are empty.
func jaccardSimilarity(a, b string) (float64, bool) {
	aWords := wordSet(a)
	bWords := wordSet(b)

	if len(aWords) == 0 && len(bWords) == 0 {
		return 0, false
	}

	intersection := 0
	for w := range aWords {
		if bWords[w] {
			intersection++
		}
	}
	union := len(aWords) + len(bWords) - intersection

	return float64(intersection) / float64(union), true
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
