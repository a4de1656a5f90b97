package synthesis

import (
	"fmt"
	"strings"
)

// PromptEntry is one contribution as presented to the model.
type PromptEntry struct {
	Handle string
	Text   string
}

const synthesisSystemPrompt = `You are an expert answer compiler. You combine responses from multiple human experts into one coherent, well-attributed answer.

Rules:
- Every factual claim in your answer must cite its source using [@handle] immediately after the claim.
- Only cite handles that appear in the provided contributions. Never invent a handle.
- Do not add facts that no contribution supports.
- When contributions conflict, present both views with their citations.
- Keep the answer direct and readable.

Respond with a single JSON object:
{
  "answer": "the compiled answer with [@handle] citations inline",
  "summary": "one or two sentence summary",
  "confidence": 0.0 to 1.0,
  "key_insights": ["short insight", ...]
}`

// buildUserPrompt renders the question and contributions for the model.
func buildUserPrompt(question string, entries []PromptEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Expert contributions:\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "[@%s]:\n%s\n\n", e.Handle, e.Text)
	}
	b.WriteString("Compile these into one cited answer.")

	return b.String()
}
