package book

import (
	"fmt"
	"strings"
)

// Assemble merges elaborated chapters into one markdown document with a
// linked table of contents. A chapter heading is added only when the content
// does not already open with it.
func Assemble(topic string, chapters []ElaboratedChapter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Minibook: %s\n\n", topic)
	b.WriteString("## Table of Contents\n\n")
	for i, ch := range chapters {
		fmt.Fprintf(&b, "%d. [%s](#chapter-%d)\n", i+1, ch.Title, i+1)
	}
	b.WriteString("\n---\n\n")

	for i, ch := range chapters {
		fmt.Fprintf(&b, "<a name='chapter-%d'></a>\n\n", i+1)
		heading := fmt.Sprintf("## Chapter %d: %s", i+1, ch.Title)
		if !strings.HasPrefix(strings.TrimSpace(ch.Content), heading) {
			b.WriteString(heading + "\n\n")
		}
		b.WriteString(ch.Content)
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}
