package narration

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// ToSSML escapes text, applies rules and wraps the result in <speak>. The
// second return is false, with text returned unchanged, when the markup is
// not well-formed XML.
func ToSSML(text string, rules []Rule) (string, bool) {
	out := ssmlEscaper.Replace(text)
	for _, r := range rules {
		out = r.Apply(out)
	}
	out = "<speak>" + out + "</speak>"
	if err := ValidateSSML(out); err != nil {
		return text, false
	}
	return out, true
}

// ValidateSSML checks that doc is a single well-formed XML element.
func ValidateSSML(doc string) error {
	dec := xml.NewDecoder(strings.NewReader(doc))
	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && strings.TrimSpace(string(t)) != "" {
				return errors.New("text outside root element")
			}
		}
	}
	if roots != 1 {
		return errors.New("document must have exactly one root element")
	}
	return nil
}
