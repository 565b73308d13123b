package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	mockChapterNumber = regexp.MustCompile(`Chapter Number:\s*(\d+)`)
	mockChapterTitle  = regexp.MustCompile(`Chapter Title:\s*(.*)`)
	mockTopic         = regexp.MustCompile(`minibook on "([^"]*)"`)
)

type mockGenerator struct{}

// NewMockGenerator returns a deterministic offline backend that understands the
// outline and chapter prompts well enough to drive the whole pipeline.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return consumer(Chunk{
		Content: mockContent(req.Prompt),
		Partial: false,
		TraceID: req.TraceID,
	})
}

func mockContent(prompt string) string {
	if n := mockChapterNumber.FindStringSubmatch(prompt); n != nil {
		title := "Untitled"
		if t := mockChapterTitle.FindStringSubmatch(prompt); t != nil {
			title = strings.TrimSpace(t[1])
		}
		return fmt.Sprintf("## Chapter %s: %s\n\nThis chapter explores %s in depth.\n", n[1], title, strings.ToLower(title))
	}
	if t := mockTopic.FindStringSubmatch(prompt); t != nil {
		topic := t[1]
		var b strings.Builder
		fmt.Fprintf(&b, "# Minibook Title: %s\n\n", topic)
		for i, title := range []string{"Foundations", "Core Techniques", "Conclusion and Key Takeaways"} {
			fmt.Fprintf(&b, "### Chapter %d: %s\n", i+1, title)
			fmt.Fprintf(&b, "* What %s means for %s\n", strings.ToLower(title), topic)
			b.WriteString("* Worked examples\n\n")
		}
		return b.String()
	}
	return "[mock completion for " + strings.TrimSpace(prompt) + "]"
}
