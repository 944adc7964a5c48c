// Package compare implements the side-by-side verification protocol between a
// reference model and its converted ONNX artifact: templated prompting,
// response cleaning, equality and similarity metrics, and the aggregate
// report.
package compare

import "fmt"

// Conversation control markup used by the convo-filler checkpoints. The
// utterance markers delimit turns; the silence marker fills the placeholder
// knowledge turn.
const (
	UtteranceStart = "<|im_start|>"
	UtteranceEnd   = "<|im_end|>"
	SilenceMarker  = "<|silence|>"

	RoleUser      = "User"
	RoleKnowledge = "Knowledge"
	RoleAssistant = "Assistant"
)

// roleLabels are stripped from the start of a cleaned response
var roleLabels = []string{RoleAssistant, RoleUser, RoleKnowledge}

// WrapPrompt embeds a user prompt in the fixed conversational template: the
// user's turn, a placeholder knowledge turn holding the silence marker, and
// an open assistant turn for the model to complete.
func WrapPrompt(userText string) string {
	return fmt.Sprintf("%s%s\n%s%s\n%s%s\n%s%s\n%s%s\n",
		UtteranceStart, RoleUser,
		userText, UtteranceEnd,
		UtteranceStart, RoleKnowledge,
		SilenceMarker, UtteranceEnd,
		UtteranceStart, RoleAssistant,
	)
}
