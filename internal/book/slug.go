package book

import (
	"strings"
	"time"
)

// DefaultSlugLength caps file name slugs.
const DefaultSlugLength = 50

// Slug reduces text to a file-system friendly name: ASCII letters, digits and
// spaces survive, the first five words are joined with underscores, the
// result is lowercased and cut to maxLen bytes.
func Slug(text string, maxLen int) string {
	var b strings.Builder
	for _, r := range text {
		if r == ' ' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	words := strings.Fields(b.String())
	if len(words) > 5 {
		words = words[:5]
	}
	slug := strings.ToLower(strings.Join(words, "_"))
	if maxLen > 0 && len(slug) > maxLen {
		slug = slug[:maxLen]
	}
	return slug
}

// ProjectName is the folder name for a topic created at t.
func ProjectName(topic string, t time.Time) string {
	return Slug(topic, DefaultSlugLength) + "_" + t.Format("060102_1504")
}
