// Package narration flattens markdown into text a speech engine can read
// aloud, optionally marking it up as SSML.
package narration

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule rewrites text. Rules are applied in file order.
type Rule interface {
	Apply(text string) string
	Description() string
}

// ReplaceRule substitutes every literal occurrence of Pattern.
type ReplaceRule struct {
	Pattern     string
	Replacement string
	Desc        string
}

func (r ReplaceRule) Apply(text string) string {
	return strings.ReplaceAll(text, r.Pattern, r.Replacement)
}

func (r ReplaceRule) Description() string { return r.Desc }

// RegexRule substitutes matches of Pattern. In Replacement, $n expands to
// capture group n, or to nothing when the group did not participate.
type RegexRule struct {
	Pattern     *regexp.Regexp
	Replacement string
	Desc        string
}

func (r RegexRule) Description() string { return r.Desc }

var groupRef = regexp.MustCompile(`\$(\d+)`)

func (r RegexRule) Apply(text string) string {
	matches := r.Pattern.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		b.WriteString(r.expand(text, m))
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func (r RegexRule) expand(text string, m []int) string {
	return groupRef.ReplaceAllStringFunc(r.Replacement, func(ref string) string {
		n, err := strconv.Atoi(ref[1:])
		if err != nil || n < 1 || 2*n+1 >= len(m) {
			return ref
		}
		if m[2*n] < 0 {
			return ""
		}
		return text[m[2*n]:m[2*n+1]]
	})
}

// RuleSpec is one record of a rule file. Rule files are JSON arrays (or the
// equivalent YAML).
type RuleSpec struct {
	Type        string  `yaml:"type"`
	Pattern     string  `yaml:"pattern"`
	Replacement *string `yaml:"replacement"`
	Flags       string  `yaml:"flags"`
	Enabled     *bool   `yaml:"enabled"`
	Description string  `yaml:"description"`
}

// LoadRules reads and compiles a rule file. Disabled records are dropped;
// malformed ones are dropped and reported in problems.
func LoadRules(path string) (rules []Rule, problems []error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return ParseRules(data)
}

// ParseRules compiles the records in data.
func ParseRules(data []byte) ([]Rule, []error, error) {
	var specs []RuleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, nil, fmt.Errorf("parse rules: %w", err)
	}
	var rules []Rule
	var problems []error
	for i, spec := range specs {
		if spec.Enabled != nil && !*spec.Enabled {
			continue
		}
		rule, err := spec.Compile()
		if err != nil {
			problems = append(problems, fmt.Errorf("rule %d (%s): %w", i+1, spec.Description, err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, problems, nil
}

// Compile turns a record into a Rule.
func (s RuleSpec) Compile() (Rule, error) {
	if s.Pattern == "" {
		return nil, fmt.Errorf("pattern must not be empty")
	}
	if s.Replacement == nil {
		return nil, fmt.Errorf("replacement must be set")
	}
	switch s.Type {
	case "replace":
		return ReplaceRule{Pattern: s.Pattern, Replacement: *s.Replacement, Desc: s.Description}, nil
	case "regex":
		prefix, err := flagPrefix(s.Flags)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(prefix + s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		return RegexRule{Pattern: re, Replacement: *s.Replacement, Desc: s.Description}, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", s.Type)
	}
}

// flagPrefix maps flag names such as "MULTILINE|IGNORECASE" or "re.S" to an
// inline regexp flag group.
func flagPrefix(flags string) (string, error) {
	set := map[byte]bool{}
	for _, tok := range strings.FieldsFunc(flags, func(r rune) bool {
		return r == '|' || r == ',' || r == ' ' || r == '+'
	}) {
		switch strings.TrimPrefix(strings.ToUpper(tok), "RE.") {
		case "I", "IGNORECASE":
			set['i'] = true
		case "M", "MULTILINE":
			set['m'] = true
		case "S", "DOTALL":
			set['s'] = true
		default:
			return "", fmt.Errorf("unknown regex flag %q", tok)
		}
	}
	if len(set) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("(?")
	for _, f := range []byte{'i', 'm', 's'} {
		if set[f] {
			b.WriteByte(f)
		}
	}
	b.WriteString(")")
	return b.String(), nil
}

func isTableRule(r Rule) bool {
	return strings.Contains(strings.ToLower(r.Description()), "table")
}
