package compare

import (
	"fmt"
	"io"
	"strings"
)

// Report aggregates the results of a comparison run
type Report struct {
	Results        []*Result
	Total          int
	ExactMatches   int
	MeanSpeedRatio float64
}

// NewReport computes the summary statistics over a result list
func NewReport(results []*Result) *Report {
	report := &Report{
		Results: results,
		Total:   len(results),
	}

	sumRatio := 0.0
	counted := 0
	for _, r := range results {
		if r.ExactMatch {
			report.ExactMatches++
		}
		if ratio := r.SpeedRatio(); ratio > 0 {
			sumRatio += ratio
			counted++
		}
	}
	if counted > 0 {
		report.MeanSpeedRatio = sumRatio / float64(counted)
	}
	return report
}

// MatchPercent returns the exact-match percentage
func (r *Report) MatchPercent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.ExactMatches) / float64(r.Total) * 100
}

// Write renders the human-readable summary
func (r *Report) Write(w io.Writer) {
	fmt.Fprintln(w, "SUMMARY STATISTICS")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Total tests: %d\n", r.Total)
	fmt.Fprintf(w, "Exact matches: %d/%d (%.1f%%)\n", r.ExactMatches, r.Total, r.MatchPercent())
	fmt.Fprintf(w, "Average speed ratio (converted/reference): %.2fx\n", r.MeanSpeedRatio)
	if r.MeanSpeedRatio > 0 && r.MeanSpeedRatio < 1.0 {
		fmt.Fprintln(w, "Converted model is faster on average")
	} else if r.MeanSpeedRatio > 0 {
		fmt.Fprintln(w, "Reference model is faster on average")
	}
}
