package book

import (
	"fmt"
	"sort"
	"strings"
)

const outlineTemplate = `
Create a detailed outline for a minibook on "{topic}".
The outline should:
- Include a title for the minibook
- Have {num_chapters} chapter titles. Number the chapters explicitly, starting from 1.
- For each chapter, provide 4-6 bullet points highlighting key concepts.
- Last chapter should be a conclusion with key takeaways.
- Use a tables where needed to summarize and compare.
- Format the output clearly with markdown. Use latex for formulas.

The outline should be comprehensive but concise, covering the most important aspects of {topic}.
`

const chapterTemplate = `
Please write a detailed chapter section for a minibook on the following topic:

Chapter Number: {chapter_number}
Chapter Title: {chapter_title}

Chapter Outline:
{chapter_outline}

IMPORTANT: Your response should begin with "## Chapter {chapter_number}: {chapter_title}" - don't use any other numbering scheme.

Please elaborate on all the points in the outline, expanding with relevant examples,
explanations, and insights. Write in a clear, educational style appropriate for
a comprehensive minibook chapter. Format your response using markdown for headings,
lists, code blocks, etc. where appropriate.
`

// InstructionTemplates are optional outline directives selectable by key.
var InstructionTemplates = map[string]string{
	"history":           "Add a chapter about the history of the topic.",
	"key_terms":         "Add a chapter about the key terms and definitions of the topic.",
	"interdisciplinary": "Add a chapter about the relation of the topic to other topics or disciplines/theories.",
	"future":            "Add a chapter about future developments and trends in this field.",
	"applications":      "Add a chapter about practical applications and real-world examples.",
	"controversies":     "Add a chapter discussing controversies or debates within this field.",
	"key_figures":       "Add a chapter about key figures and their contributions to this field.",
	"methodologies":     "Add a chapter explaining research methodologies used in this field.",
	"case_studies":      "Include relevant case studies throughout appropriate chapters.",
}

// InstructionKeys lists the template keys in a stable order.
func InstructionKeys() []string {
	keys := make([]string, 0, len(InstructionTemplates))
	for k := range InstructionTemplates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateInstructions rejects unknown template keys.
func ValidateInstructions(keys []string) error {
	for _, k := range keys {
		if _, ok := InstructionTemplates[k]; !ok {
			return fmt.Errorf("unknown instruction %q (valid: %s)", k, strings.Join(InstructionKeys(), ", "))
		}
	}
	return nil
}

// ChapterCount estimates how many chapters to ask for. Selected templates
// that add a chapter and every literal "add a chapter" in the free-form text
// each count one extra. The model may still return a different number.
func ChapterCount(base int, instructions []string, additional string) int {
	n := base
	for _, k := range instructions {
		if strings.HasPrefix(InstructionTemplates[k], "Add a chapter") {
			n++
		}
	}
	n += strings.Count(strings.ToLower(additional), "add a chapter")
	return n
}

// OutlinePrompt renders the outline request for topic.
func OutlinePrompt(topic string, chapters int, instructions []string, additional string) string {
	prompt := strings.NewReplacer(
		"{topic}", topic,
		"{num_chapters}", fmt.Sprint(chapters),
	).Replace(outlineTemplate)

	var extra []string
	for _, k := range instructions {
		if text, ok := InstructionTemplates[k]; ok {
			extra = append(extra, "- "+text)
		}
	}
	if s := strings.TrimSpace(additional); s != "" {
		extra = append(extra, "- "+s)
	}
	if len(extra) > 0 {
		prompt += "\nAdditional instructions:\n" + strings.Join(extra, "\n") + "\n"
	}
	return prompt
}

// ChapterPrompt renders the elaboration request for the 1-based chapter n.
func ChapterPrompt(n int, ch Chapter) string {
	return strings.NewReplacer(
		"{chapter_number}", fmt.Sprint(n),
		"{chapter_title}", ch.Title,
		"{chapter_outline}", ch.Outline,
	).Replace(chapterTemplate)
}
