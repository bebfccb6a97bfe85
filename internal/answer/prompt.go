package answer

import (
	"fmt"
	"strings"

	"github.com/agatticelli/grounded-answers/internal/retrieval"
)

const systemPrompt = `You are a precise assistant that answers questions using only the provided context.

Rules:
1. Base your answer ONLY on the provided context
2. Cite sources using [Source N] notation
3. If the context doesn't contain enough information, say "I don't have enough information to answer this question"
4. Be concise and accurate
5. Do not make assumptions or use external knowledge`

const noContext = "No context available."

// SystemPrompt returns the instructions sent with every generation request.
func SystemPrompt() string { return systemPrompt }

// BuildContext renders sources as numbered evidence blocks.
func BuildContext(sources []retrieval.Source) string {
	if len(sources) == 0 {
		return noContext
	}
	blocks := make([]string, 0, len(sources))
	for i, s := range sources {
		blocks = append(blocks, fmt.Sprintf("[Source %d] %s\nReference: %s\nContent: %s\n", i+1, s.Title, s.Reference, s.Content))
	}
	return strings.Join(blocks, "\n\n")
}

// BuildPrompt splits sources into document and web context and appends the question.
func BuildPrompt(query string, sources []retrieval.Source) string {
	var docs, web []retrieval.Source
	for _, s := range sources {
		if s.Type == retrieval.SourcePDF {
			docs = append(docs, s)
		} else {
			web = append(web, s)
		}
	}

	var b strings.Builder
	b.WriteString("Context from Documents:\n")
	b.WriteString(BuildContext(docs))
	b.WriteString("\n\nContext from Web:\n")
	b.WriteString(BuildContext(web))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nProvide a comprehensive answer based on the context above. Include source citations.")
	return b.String()
}
