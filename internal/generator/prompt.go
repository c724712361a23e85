package generator

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert senior tech journalist who writes in-depth, long-form, magazine-quality articles. You reply with a single JSON object and nothing else.`

// buildPrompt renders the user message for one candidate.
func buildPrompt(domain, sources string) string {
	var b strings.Builder

	b.WriteString(`Write a comprehensive deep-dive news article STRICTLY using the information provided in the Sources.

HARD RULES (MUST FOLLOW):
1. Use ONLY the information in the Sources. If something is not in the sources, do NOT fabricate, assume, or invent it.
2. Article length MUST be between 900 and 1600 words.
3. Use these sections, each with a Markdown header:
   - Introduction
   - Background / Context
   - Detailed Breakdown
   - Expert Analysis (source-based)
   - Industry Impact
   - What Happens Next
4. Maintain a neutral, factual journalistic tone. No opinions unless supported by the sources.
5. Do NOT copy sentences from the sources. Rewrite everything.
6. Output valid JSON with NO text outside the JSON object.
7. Inside the JSON escape all double quotes and do not use backticks. The Markdown must live inside a JSON string.
`)

	fmt.Fprintf(&b, "\nDomain: %s\n\nSources:\n%s\n", domain, strings.TrimSpace(sources))

	b.WriteString(`
OUTPUT FORMAT (MANDATORY):
{
  "title": "Engaging title relevant to the domain",
  "summary": "A concise summary of the article (maximum 200 characters)",
  "content": "The 900-1600 word article in Markdown with the sections above",
  "key_takeaways": ["Takeaway 1", "Takeaway 2", "Takeaway 3"],
  "tags": ["tag1", "tag2", "tag3"]
}

Generate ONLY the JSON object.`)

	return b.String()
}
