package narration

import (
	"errors"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/loqalabs/minibook/internal/config"
)

// Result is sanitized text ready for synthesis.
type Result struct {
	// Text is what gets sent to the speech backend.
	Text string
	// Plain is the flattened text before any SSML markup.
	Plain string
	SSML  bool
}

// Options controls sanitization.
type Options struct {
	PreprocessMarkdown bool
	ExcludeTables      bool
	UseSSML            bool
	ForcePlainText     bool
	Voice              string
	SSMLVoices         []string
}

// OptionsFromConfig copies the sanitizer switches from the TTS config.
func OptionsFromConfig(cfg config.TTSConfig) Options {
	return Options{
		PreprocessMarkdown: cfg.PreprocessMarkdown,
		ExcludeTables:      cfg.ExcludeTables,
		UseSSML:            cfg.UseSSML,
		ForcePlainText:     cfg.ForcePlainText,
		Voice:              cfg.Voice,
		SSMLVoices:         cfg.SSMLVoices,
	}
}

// Sanitizer prepares chapter text for speech. With markdown rules loaded it
// applies them; otherwise it uses FlattenMarkdown.
type Sanitizer struct {
	opts          Options
	markdownRules []Rule
	ssmlRules     []Rule
	logger        *slog.Logger
}

// NewSanitizer loads the rule files named in cfg. Missing or unreadable rule
// files are logged and the built-in behaviour is used instead.
func NewSanitizer(cfg config.TTSConfig, logger *slog.Logger) *Sanitizer {
	logger = logger.With(slog.String("component", "sanitizer"))
	s := &Sanitizer{opts: OptionsFromConfig(cfg), logger: logger}
	s.markdownRules = loadRuleFile(cfg.MarkdownRulesFile, "markdown", logger)
	s.ssmlRules = loadRuleFile(cfg.SSMLRulesFile, "ssml", logger)
	return s
}

// NewSanitizerWithRules builds a sanitizer from already compiled rules. A nil
// markdownRules selects the built-in flattening.
func NewSanitizerWithRules(opts Options, markdownRules, ssmlRules []Rule, logger *slog.Logger) *Sanitizer {
	return &Sanitizer{
		opts:          opts,
		markdownRules: markdownRules,
		ssmlRules:     ssmlRules,
		logger:        logger.With(slog.String("component", "sanitizer")),
	}
}

func loadRuleFile(path, kind string, logger *slog.Logger) []Rule {
	if path == "" {
		return nil
	}
	rules, problems, err := LoadRules(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("rules file not found, using built-in rules", slog.String("kind", kind), slog.String("path", path))
		} else {
			logger.Error("load rules failed, using built-in rules", slog.String("kind", kind), slog.String("error", err.Error()))
		}
		return nil
	}
	for _, p := range problems {
		logger.Warn("skipping malformed rule", slog.String("kind", kind), slog.String("error", p.Error()))
	}
	logger.Info("rules loaded", slog.String("kind", kind), slog.Int("count", len(rules)))
	if rules == nil {
		rules = []Rule{}
	}
	return rules
}

// SSMLEnabled reports whether output will be SSML for the configured voice.
func (s *Sanitizer) SSMLEnabled() bool {
	return s.opts.UseSSML && !s.opts.ForcePlainText && slices.Contains(s.opts.SSMLVoices, s.opts.Voice)
}

// Sanitize flattens text and, when enabled for the voice, converts it to SSML.
func (s *Sanitizer) Sanitize(text string) Result {
	plain := text
	if s.opts.PreprocessMarkdown {
		plain = s.Markdown(text)
	}
	res := Result{Text: plain, Plain: plain}

	switch {
	case s.SSMLEnabled():
		ssml, ok := ToSSML(plain, s.ssmlRules)
		if !ok {
			s.logger.Warn("generated SSML is not well-formed, falling back to plain text")
			return res
		}
		res.Text, res.SSML = ssml, true
	case s.opts.UseSSML && !slices.Contains(s.opts.SSMLVoices, s.opts.Voice):
		s.logger.Debug("voice does not support SSML, using plain text", slog.String("voice", s.opts.Voice))
	case s.opts.UseSSML:
		s.logger.Debug("plain text forced despite SSML support")
	}
	return res
}

// Markdown flattens markdown with the loaded rules or the built-in steps.
func (s *Sanitizer) Markdown(text string) string {
	if s.markdownRules == nil {
		return FlattenMarkdown(text, s.opts.ExcludeTables)
	}
	for _, r := range s.markdownRules {
		if !s.opts.ExcludeTables && isTableRule(r) {
			continue
		}
		text = r.Apply(text)
	}
	return text
}
