package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/narration"
)

// DefaultTextProject names the output project for inline text.
const DefaultTextProject = "DEFAULT_TEXT_INPUT"

// Summary reports a folder run.
type Summary struct {
	RunID     string
	Processed int
	Skipped   int
	Failed    int
	Outputs   []string
}

// Narrator turns markdown files into audio, one file at a time.
type Narrator struct {
	cfg       config.TTSConfig
	root      string
	sanitizer *narration.Sanitizer
	router    *Router
	store     *eventstore.Store
	logger    *slog.Logger
}

// NewNarrator wires the sanitizer and router. router may be nil in mock mode.
func NewNarrator(cfg config.Config, sanitizer *narration.Sanitizer, router *Router, store *eventstore.Store, logger *slog.Logger) *Narrator {
	return &Narrator{
		cfg:       cfg.TTS,
		root:      cfg.Output.ProjectFolder,
		sanitizer: sanitizer,
		router:    router,
		store:     store,
		logger:    logger.With(slog.String("component", "narrator")),
	}
}

func (n *Narrator) mock() bool {
	return n.cfg.Mode == "mock"
}

// ChaptersDir finds the chapters directory of a project folder, looking under
// the output root first and then relative to the working directory.
func (n *Narrator) ChaptersDir(folder string) (string, error) {
	candidates := []string{filepath.Join(n.root, folder, "chapters"), filepath.Join(folder, "chapters")}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("chapters folder not found for %q (tried %s)", folder, strings.Join(candidates, ", "))
}

// OutputName is the audio file name for a source file.
func (n *Narrator) OutputName(source string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return base + "." + Extension(n.cfg.AudioEncoding)
}

// NarrateFolder synthesizes every chapters/*.md file of a project into the
// sibling audio/ directory. A failing file is logged and the run continues.
func (n *Narrator) NarrateFolder(ctx context.Context, folder string) (sum Summary, err error) {
	chapters, err := n.ChaptersDir(folder)
	if err != nil {
		return Summary{}, err
	}
	entries, err := os.ReadDir(chapters)
	if err != nil {
		return Summary{}, fmt.Errorf("read chapters folder: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return Summary{}, fmt.Errorf("no markdown files found in %s", chapters)
	}
	sort.Strings(files)

	base := filepath.Dir(chapters)
	audioDir := filepath.Join(base, "audio")
	textDir := filepath.Join(base, "text")
	if err := n.prepareDirs(audioDir, textDir); err != nil {
		return Summary{}, err
	}

	runID, beginErr := n.store.BeginRun(ctx, "narrate", folder)
	if beginErr != nil {
		n.logger.Warn("ledger begin failed", slog.String("error", beginErr.Error()))
	}
	sum.RunID = runID
	defer func() {
		status, detail := eventstore.StatusCompleted, fmt.Sprintf("%d processed, %d skipped, %d failed", sum.Processed, sum.Skipped, sum.Failed)
		if err != nil {
			status, detail = eventstore.StatusFailed, err.Error()
		}
		if ferr := n.store.FinishRun(context.WithoutCancel(ctx), sum.RunID, status, detail); ferr != nil {
			n.logger.Warn("finish run failed", slog.String("error", ferr.Error()))
		}
	}()

	n.logger.Info("narrating folder", slog.String("chapters", chapters), slog.Int("files", len(files)))
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, ferr := n.narrate(ctx, filepath.Join(chapters, name), audioDir, textDir, n.OutputName(name))
		switch {
		case ferr != nil:
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Failed++
			n.logger.Error("narrate file failed", slog.String("file", name), slog.String("error", ferr.Error()))
			n.store.Record(ctx, sum.RunID, "file_failed", map[string]string{"file": name, "error": ferr.Error()})
		case out.Skipped:
			sum.Skipped++
			sum.Outputs = append(sum.Outputs, out.Path)
			n.store.Record(ctx, sum.RunID, "file_skipped", map[string]string{"file": name, "output": out.Path})
		default:
			sum.Processed++
			sum.Outputs = append(sum.Outputs, out.Path)
			n.store.Record(ctx, sum.RunID, "file_synthesized", map[string]any{
				"file":        name,
				"output":      out.Path,
				"route":       out.Route.String(),
				"placeholder": out.Placeholder,
				"truncated":   out.Truncated,
			})
		}
	}

	if sum.Skipped > 0 {
		n.logger.Info("skipped existing outputs", slog.Int("count", sum.Skipped))
	}
	if sum.Processed == 0 && sum.Skipped == 0 {
		return sum, errors.New("failed to process any files")
	}
	n.logger.Info("folder narrated",
		slog.Int("processed", sum.Processed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed))
	return sum, nil
}

// NarrateFile synthesizes one file into {root}/audio/{name}/audio. output
// overrides the derived audio file name.
func (n *Narrator) NarrateFile(ctx context.Context, path, output string) (Outcome, error) {
	project := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if output == "" {
		output = n.OutputName(path)
	}
	audioDir, textDir := n.projectDirs(project)
	if err := n.prepareDirs(audioDir, textDir); err != nil {
		return Outcome{}, err
	}
	return n.narrate(ctx, path, audioDir, textDir, output)
}

// NarrateText synthesizes inline text into {root}/audio/DEFAULT_TEXT_INPUT/audio.
func (n *Narrator) NarrateText(ctx context.Context, text, output string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, errors.New("text must not be empty")
	}
	if output == "" {
		output = "output." + Extension(n.cfg.AudioEncoding)
	}
	audioDir, textDir := n.projectDirs(DefaultTextProject)
	if err := n.prepareDirs(audioDir, textDir); err != nil {
		return Outcome{}, err
	}
	return n.synthesize(ctx, text, audioDir, textDir, output)
}

func (n *Narrator) projectDirs(project string) (string, string) {
	base := filepath.Join(n.root, "audio", project)
	return filepath.Join(base, "audio"), filepath.Join(base, "text")
}

func (n *Narrator) prepareDirs(audioDir, textDir string) error {
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	if n.cfg.SaveText {
		if err := os.MkdirAll(textDir, 0o755); err != nil {
			return fmt.Errorf("create text dir: %w", err)
		}
	}
	return nil
}

func (n *Narrator) narrate(ctx context.Context, source, audioDir, textDir, output string) (Outcome, error) {
	if out, ok := n.existing(audioDir, output); ok {
		return out, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s: %w", filepath.Base(source), err)
	}
	return n.synthesize(ctx, string(data), audioDir, textDir, output)
}

// existing also accepts the long-form WAV left behind when conversion to a
// compressed encoding was off or failed.
func (n *Narrator) existing(audioDir, output string) (Outcome, bool) {
	if !n.cfg.SkipExisting {
		return Outcome{}, false
	}
	candidates := []string{filepath.Join(audioDir, output)}
	if ext := filepath.Ext(output); !strings.EqualFold(ext, ".wav") {
		candidates = append(candidates, filepath.Join(audioDir, strings.TrimSuffix(output, ext)+".wav"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			n.logger.Info("output exists, skipping", slog.String("path", path))
			return Outcome{Path: path, Skipped: true}, true
		}
	}
	return Outcome{}, false
}

func (n *Narrator) synthesize(ctx context.Context, text, audioDir, textDir, output string) (Outcome, error) {
	if out, ok := n.existing(audioDir, output); ok {
		return out, nil
	}
	cleaned := n.sanitizer.Sanitize(text)

	if n.mock() {
		return n.writeMock(text, cleaned, audioDir, output)
	}
	if n.cfg.SaveText {
		n.writeAudit(text, cleaned, textDir, output)
	}
	if n.router == nil {
		return Outcome{}, errors.New("no synthesis backend configured")
	}

	req := RequestFromConfig(n.cfg)
	req.Text, req.SSML = cleaned.Text, cleaned.SSML
	out, err := n.router.Synthesize(ctx, req, cleaned.Plain, audioDir, output)
	if err != nil {
		return out, err
	}
	n.logger.Info("audio written",
		slog.String("path", out.Path),
		slog.String("route", out.Route.String()),
		slog.Bool("placeholder", out.Placeholder))
	return out, nil
}

func (n *Narrator) writeAudit(original string, cleaned narration.Result, textDir, output string) {
	path := filepath.Join(textDir, strings.TrimSuffix(output, filepath.Ext(output))+".txt")
	var b strings.Builder
	if n.cfg.PreprocessMarkdown {
		b.WriteString("# Original Text\n\n")
		b.WriteString(original)
		b.WriteString("\n\n# Processed Text (sent to TTS API)\n\n")
	}
	b.WriteString(cleaned.Text)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		n.logger.Error("write text audit failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (n *Narrator) writeMock(original string, cleaned narration.Result, audioDir, output string) (Outcome, error) {
	path := filepath.Join(audioDir, strings.TrimSuffix(output, filepath.Ext(output))+".txt")
	var b strings.Builder
	b.WriteString("MOCK TTS OUTPUT\n\n")
	fmt.Fprintf(&b, "Language: %s\n", n.cfg.LanguageCode)
	fmt.Fprintf(&b, "Voice: %s\n", n.cfg.Voice)
	fmt.Fprintf(&b, "Speaking Rate: %v\n", n.cfg.SpeakingRate)
	fmt.Fprintf(&b, "Pitch: %v\n", n.cfg.Pitch)
	fmt.Fprintf(&b, "Audio Encoding: %s\n", n.cfg.AudioEncoding)
	fmt.Fprintf(&b, "Markdown Preprocessing: %t\n", n.cfg.PreprocessMarkdown)
	fmt.Fprintf(&b, "Table Exclusion: %t\n\n", n.cfg.ExcludeTables)
	if n.cfg.PreprocessMarkdown {
		fmt.Fprintf(&b, "Original Text:\n%s\n\n", original)
		fmt.Fprintf(&b, "Processed Text (Markdown removed):\n%s", cleaned.Text)
	} else {
		fmt.Fprintf(&b, "Text content (no preprocessing):\n%s", original)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write mock output: %w", err)
	}
	n.logger.Info("mock mode, text written instead of audio", slog.String("path", path))
	return Outcome{Path: path, Mock: true}, nil
}
