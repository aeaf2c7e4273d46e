package triage

import (
	"fmt"

	"github.com/linnemanlabs/sift/internal/ticket"
)

// SystemPrompt is the fixed instruction every provider sends with an analyze
// call. It pins the output contract: a single raw JSON object, no markdown.
const SystemPrompt = `You are an expert AI assistant that processes technical support tickets.

Your job is to:
1. Summarize the issue.
2. Estimate its priority.
3. Provide helpful notes and resource links for human moderators.
4. List relevant technical skills required.

IMPORTANT:
- Respond with only valid raw JSON (no markdown, no code fences).
- The format must be a raw JSON object.`

// BuildUserPrompt constructs the per-ticket analyze prompt, interpolating the
// ticket title and description into the expected JSON shape.
func BuildUserPrompt(t *ticket.Ticket) string {
	return fmt.Sprintf(`Analyze the following support ticket and return a strict JSON object:

{
  "summary": "Short summary of the ticket",
  "priority": "low|medium|high",
  "helpfulNotes": "Detailed help notes",
  "relatedSkills": ["React", "Node.js"]
}

Ticket:
- Title: %s
- Description: %s`, t.Title, t.Description)
}
