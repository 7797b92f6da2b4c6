package knowledge

import (
	"fmt"
	"strings"
)

const systemPreamble = `You are Bob, a helpful assistant for the team.
Answer the question using the context below. Mention which source a fact came from.
If the context does not contain the answer, say so briefly instead of guessing.`

func buildPrompt(question string, results []SourceResult) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")
	if ctx := formatContext(results); ctx != "" {
		b.WriteString("Context:\n")
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}

// formatContext 按来源分组输出 [source] 段落，空结果返回空串。
func formatContext(results []SourceResult) string {
	var b strings.Builder
	for _, r := range results {
		for i, p := range r.Passages {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "[%s #%d] %s", r.Name, i+1, strings.TrimSpace(p.Text))
		}
	}
	return b.String()
}
