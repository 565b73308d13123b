// Package book turns a topic into a finished minibook: it requests an outline,
// segments it into chapters, elaborates every chapter and assembles the result.
package book

import (
	"log/slog"
	"regexp"
	"strings"
)

// Chapter is one entry recovered from an outline.
type Chapter struct {
	Title   string
	Outline string
}

// Strategy is one step of the extraction cascade. Attempt returns no chapters
// when the outline does not have the shape the strategy looks for.
type Strategy interface {
	Name() string
	Attempt(outline string) []Chapter
}

// Extractor runs strategies in order and keeps the first non-empty result.
type Extractor struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewExtractor uses DefaultStrategies when none are given.
func NewExtractor(logger *slog.Logger, strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies, logger: logger.With(slog.String("component", "chapter-extractor"))}
}

// Extract never fails: a non-empty outline always yields at least one chapter.
func (e *Extractor) Extract(outline string) []Chapter {
	chapters, _ := e.ExtractWithStrategy(outline)
	return chapters
}

// ExtractWithStrategy also reports which strategy produced the chapters.
func (e *Extractor) ExtractWithStrategy(outline string) ([]Chapter, string) {
	for _, s := range e.strategies {
		if chapters := s.Attempt(outline); len(chapters) > 0 {
			e.logger.Debug("chapters extracted", slog.String("strategy", s.Name()), slog.Int("count", len(chapters)))
			return chapters, s.Name()
		}
	}
	return nil, ""
}

// DefaultStrategies is the cascade used for model-generated outlines.
func DefaultStrategies() []Strategy {
	return []Strategy{
		&patternFamily{
			name: "numbered-chapter",
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?is)#+\s*Chapter\s+\d+[:.]\s*(.*?)\n`),
				regexp.MustCompile(`(?is)#+\s*\d+[:.]\s*Chapter[:.]\s*(.*?)\n`),
				regexp.MustCompile(`(?is)#+\s*\d+[:.]\s*(.*?)\n`),
				regexp.MustCompile(`(?is)\*\*(\d+)\.\s*Chapter\s+\d*[:.]\s*(.*?)\*\*`),
				regexp.MustCompile(`(?is)\*\*Chapter\s+(\d+)[:.]\s*(.*?)\*\*`),
				regexp.MustCompile(`(?is)\*\*(\d+)[:.]\s*(.*?)\*\*`),
			},
		},
		&patternFamily{
			name:     "bold-numbered",
			patterns: []*regexp.Regexp{regexp.MustCompile(`\*\*(\d+)[:.]\s*(.*?)\*\*`)},
		},
		&headingStrategy{
			pattern: regexp.MustCompile(`##\s+(.*?)\n`),
			denylist: []string{
				"minibook title", "table of contents", "introduction", "conclusion",
				"overview", "summary", "about",
			},
		},
		wholeOutline{},
	}
}

// patternFamily tries its patterns in priority order and stops at the first
// one that matches anywhere. The title is the last capture group.
type patternFamily struct {
	name     string
	patterns []*regexp.Regexp
}

func (p *patternFamily) Name() string { return p.name }

func (p *patternFamily) Attempt(outline string) []Chapter {
	for _, re := range p.patterns {
		var titles []string
		for _, m := range re.FindAllStringSubmatch(outline, -1) {
			if title := strings.TrimSpace(m[len(m)-1]); title != "" {
				titles = append(titles, title)
			}
		}
		if len(titles) > 0 {
			return chaptersFromTitles(outline, titles)
		}
	}
	return nil
}

type headingStrategy struct {
	pattern  *regexp.Regexp
	denylist []string
}

func (h *headingStrategy) Name() string { return "second-level-heading" }

func (h *headingStrategy) Attempt(outline string) []Chapter {
	var titles []string
	for _, m := range h.pattern.FindAllStringSubmatch(outline, -1) {
		title := strings.TrimSpace(m[1])
		if title == "" || h.denied(title) {
			continue
		}
		titles = append(titles, title)
	}
	if len(titles) == 0 {
		return nil
	}
	return chaptersFromTitles(outline, titles)
}

func (h *headingStrategy) denied(title string) bool {
	lower := strings.ToLower(title)
	for _, d := range h.denylist {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

var bookTitlePattern = regexp.MustCompile(`(?is)#+\s*Minibook Title[:.]\s*(.*?)\n`)

// wholeOutline turns the entire outline into one chapter.
type wholeOutline struct{}

func (wholeOutline) Name() string { return "whole-outline" }

func (wholeOutline) Attempt(outline string) []Chapter {
	if outline == "" {
		return nil
	}
	return []Chapter{{Title: BookTitle(outline), Outline: outline}}
}

// BookTitle returns the "Minibook Title" heading of an outline, or "Untitled".
func BookTitle(outline string) string {
	if m := bookTitlePattern.FindStringSubmatch(outline); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			return title
		}
	}
	return "Untitled"
}

var bulletLine = regexp.MustCompile(`(?m)^\s*\*\s*(.*?)$`)

// chaptersFromTitles locates every title by case-insensitive text search and
// slices the outline between consecutive titles. The next title is searched
// only after the current one, so a title repeated earlier (for example in a
// table of contents) still resolves to its first occurrence.
func chaptersFromTitles(outline string, titles []string) []Chapter {
	chapters := make([]Chapter, 0, len(titles))
	for i, title := range titles {
		body := ""
		if loc := findFold(outline, title); loc != nil {
			start := loc[1]
			rest := outline[start:]
			if i < len(titles)-1 {
				if next := findFold(rest, titles[i+1]); next != nil {
					rest = rest[:next[0]]
				}
			}
			body = strings.TrimSpace(rest)
		}
		chapters = append(chapters, Chapter{Title: title, Outline: bulletsOnly(body)})
	}
	return chapters
}

func findFold(text, needle string) []int {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(needle)).FindStringIndex(text)
}

func bulletsOnly(body string) string {
	matches := bulletLine.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return body
	}
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = "* " + m[1]
	}
	return strings.Join(lines, "\n")
}
