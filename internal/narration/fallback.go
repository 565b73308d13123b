package narration

import "regexp"

// TableNotice replaces tables excluded from speech.
const TableNotice = "\n[Table excluded from speech]\n"

type substitution struct {
	re   *regexp.Regexp
	repl string
}

var (
	inlineMarkup = []substitution{
		{regexp.MustCompile(`(?m)^#+\s+`), ""},
		{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
		{regexp.MustCompile(`\*(.*?)\*`), "$1"},
		{regexp.MustCompile(`__(.*?)__`), "$1"},
		{regexp.MustCompile(`_(.*?)_`), "$1"},
		{regexp.MustCompile(`\[(.*?)\]\(.*?\)`), "$1"},
		{regexp.MustCompile("(?s)```.*?```"), ""},
		{regexp.MustCompile("`(.*?)`"), "$1"},
	}
	tables = []substitution{
		{regexp.MustCompile(`(?m)^\|.+\|$\n^\|[-:| ]+\|$(\n^\|.+\|$)*`), TableNotice},
		{regexp.MustCompile(`(?m)(^\|.+\|$\n){2,}`), TableNotice},
	}
	blockMarkup = []substitution{
		{regexp.MustCompile(`(?m)^\s*[-*+]\s+`), "• "},
		{regexp.MustCompile(`(?m)^\s*(\d+)\.\s+`), "${1}. "},
		{regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`), "\n"},
		{regexp.MustCompile(`(?m)^\s*>\s+`), ""},
		{regexp.MustCompile(`\n\s*\n`), "\n\n"},
	}
)

// FlattenMarkdown is the built-in markdown flattening used when no rule file
// is available.
func FlattenMarkdown(text string, excludeTables bool) string {
	text = substitute(text, inlineMarkup)
	if excludeTables {
		text = substitute(text, tables)
	}
	return substitute(text, blockMarkup)
}

func substitute(text string, steps []substitution) string {
	for _, s := range steps {
		text = s.re.ReplaceAllString(text, s.repl)
	}
	return text
}
