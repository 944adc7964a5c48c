package compare

import "strings"

// CleanResponse converts a raw decoded model output into its canonical
// comparable form. The procedure is a pure function of the input:
//
//  1. remove every utterance marker
//  2. remove one leading role label (case-insensitive) plus any whitespace
//     that follows it
//  3. trim surrounding whitespace
//  4. keep only the first line
//
// Both sides of a comparison must pass through this identically before their
// equality is meaningful.
func CleanResponse(raw string) string {
	s := strings.ReplaceAll(raw, UtteranceStart, "")
	s = strings.ReplaceAll(s, UtteranceEnd, "")

	for _, role := range roleLabels {
		if len(s) >= len(role) && strings.EqualFold(s[:len(role)], role) {
			s = strings.TrimLeft(s[len(role):], " \t\r\n")
			break
		}
	}

	s = strings.TrimSpace(s)

	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
