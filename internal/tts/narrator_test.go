package tts

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/narration"
)

func narratorConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.ProjectFolder = t.TempDir()
	cfg.TTS.MarkdownRulesFile = ""
	cfg.TTS.SSMLRulesFile = ""
	return cfg
}

func newTestNarrator(cfg config.Config, backend Backend, long *LongFormSynthesizer, store *eventstore.Store) *Narrator {
	sanitizer := narration.NewSanitizer(cfg.TTS, newLogger())
	router := NewRouter(NewStandardSynthesizer(backend, newLogger()), long, cfg.TTS, newLogger())
	return NewNarrator(cfg, sanitizer, router, store, newLogger())
}

func writeChapters(t *testing.T, root, folder string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, folder, "chapters")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestNarrateFolderIsIdempotent(t *testing.T) {
	cfg := narratorConfig(t)
	writeChapters(t, cfg.Output.ProjectFolder, "quantum", map[string]string{
		"chapter_1_qubits.md": "# Chapter 1: Qubits\n\nA **qubit** holds state.",
		"chapter_2_gates.md":  "# Chapter 2: Gates\n\nGates change state.",
		"notes.txt":           "ignored",
	})
	backend := &fakeBackend{}
	n := newTestNarrator(cfg, backend, nil, nil)
	ctx := context.Background()

	first, err := n.NarrateFolder(ctx, "quantum")
	if err != nil {
		t.Fatalf("narrate folder: %v", err)
	}
	if first.Processed != 2 || first.Skipped != 0 || first.Failed != 0 {
		t.Fatalf("unexpected first summary %+v", first)
	}
	calls := backend.count()
	if calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", calls)
	}
	audioDir := filepath.Join(cfg.Output.ProjectFolder, "quantum", "audio")
	if first.Outputs[0] != filepath.Join(audioDir, "chapter_1_qubits.mp3") {
		t.Fatalf("unexpected output %s", first.Outputs[0])
	}
	data, _ := os.ReadFile(first.Outputs[0])
	if !strings.HasPrefix(string(data), "audio:Chapter 1: Qubits") || strings.Contains(string(data), "**") {
		t.Fatalf("expected sanitized text to be synthesized, got %q", data)
	}

	audit, err := os.ReadFile(filepath.Join(cfg.Output.ProjectFolder, "quantum", "text", "chapter_1_qubits.txt"))
	if err != nil {
		t.Fatalf("expected audit text: %v", err)
	}
	if !strings.HasPrefix(string(audit), "# Original Text\n\n# Chapter 1: Qubits") ||
		!strings.Contains(string(audit), "\n\n# Processed Text (sent to TTS API)\n\n") {
		t.Fatalf("unexpected audit layout %q", audit)
	}

	second, err := n.NarrateFolder(ctx, "quantum")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Processed != 0 || second.Skipped != 2 {
		t.Fatalf("unexpected second summary %+v", second)
	}
	if backend.count() != calls {
		t.Fatal("second run must not call the backend")
	}
	if strings.Join(first.Outputs, ",") != strings.Join(second.Outputs, ",") {
		t.Fatalf("outputs differ between runs: %v vs %v", first.Outputs, second.Outputs)
	}
}

func TestNarrateFolderWithoutSkipExisting(t *testing.T) {
	cfg := narratorConfig(t)
	cfg.TTS.SkipExisting = false
	writeChapters(t, cfg.Output.ProjectFolder, "book", map[string]string{"a.md": "Alpha"})
	backend := &fakeBackend{}
	n := newTestNarrator(cfg, backend, nil, nil)

	for i := 0; i < 2; i++ {
		if _, err := n.NarrateFolder(context.Background(), "book"); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if backend.count() != 2 {
		t.Fatalf("expected re-synthesis, got %d calls", backend.count())
	}
}

func TestNarrateFolderContinuesAfterFailure(t *testing.T) {
	cfg := longConfig()
	cfg.Output.ProjectFolder = t.TempDir()
	cfg.TTS.MarkdownRulesFile = ""
	writeChapters(t, cfg.Output.ProjectFolder, "book", map[string]string{
		"a.md": "Short chapter.",
		"b.md": strings.Repeat("Long chapter text. ", 400),
	})
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "runs.db"),
		RetentionMode: "persistent",
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	long := newLongForm(&fakeLongAPI{waitErr: errors.New("operation timed out")}, &fakeObjectStore{}, nil, cfg)
	n := newTestNarrator(cfg, &fakeBackend{}, long, store)

	sum, err := n.NarrateFolder(context.Background(), "book")
	if err != nil {
		t.Fatalf("a single failing file must not fail the run: %v", err)
	}
	if sum.Processed != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.ProjectFolder, "book", "audio", "error_b.mp3")); err != nil {
		t.Fatalf("expected long audio error marker: %v", err)
	}

	events, err := store.ListRunEvents(context.Background(), sum.RunID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	if strings.Join(types, ",") != "file_synthesized,file_failed" {
		t.Fatalf("unexpected ledger events %v", types)
	}
	runs, _ := store.ListRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].Kind != "narrate" || runs[0].Status != eventstore.StatusCompleted {
		t.Fatalf("unexpected run %+v", runs)
	}
}

func TestNarrateFolderErrors(t *testing.T) {
	cfg := narratorConfig(t)
	n := newTestNarrator(cfg, &fakeBackend{}, nil, nil)
	if _, err := n.NarrateFolder(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing chapters folder")
	}
	writeChapters(t, cfg.Output.ProjectFolder, "empty", nil)
	if _, err := n.NarrateFolder(context.Background(), "empty"); err == nil {
		t.Fatal("expected error for folder without markdown files")
	}
}

func TestNarrateFileLayout(t *testing.T) {
	cfg := narratorConfig(t)
	src := filepath.Join(t.TempDir(), "essay.md")
	if err := os.WriteFile(src, []byte("## Essay\n\nSome *text*."), 0o644); err != nil {
		t.Fatal(err)
	}
	n := newTestNarrator(cfg, &fakeBackend{}, nil, nil)

	out, err := n.NarrateFile(context.Background(), src, "")
	if err != nil {
		t.Fatalf("narrate file: %v", err)
	}
	want := filepath.Join(cfg.Output.ProjectFolder, "audio", "essay", "audio", "essay.mp3")
	if out.Path != want {
		t.Fatalf("expected %s, got %s", want, out.Path)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.ProjectFolder, "audio", "essay", "text", "essay.txt")); err != nil {
		t.Fatalf("expected audit file: %v", err)
	}
}

func TestNarrateTextWithoutPreprocessing(t *testing.T) {
	cfg := narratorConfig(t)
	cfg.TTS.PreprocessMarkdown = false
	backend := &fakeBackend{}
	n := newTestNarrator(cfg, backend, nil, nil)

	out, err := n.NarrateText(context.Background(), "Plain **words**", "greeting.mp3")
	if err != nil {
		t.Fatalf("narrate text: %v", err)
	}
	if filepath.Base(filepath.Dir(filepath.Dir(out.Path))) != DefaultTextProject {
		t.Fatalf("unexpected output location %s", out.Path)
	}
	if backend.last().Text != "Plain **words**" {
		t.Fatalf("text must be sent unchanged, got %q", backend.last().Text)
	}
	audit, _ := os.ReadFile(filepath.Join(cfg.Output.ProjectFolder, "audio", DefaultTextProject, "text", "greeting.txt"))
	if string(audit) != "Plain **words**" {
		t.Fatalf("audit should hold only the processed text, got %q", audit)
	}
	if _, err := n.NarrateText(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestNarrateMockMode(t *testing.T) {
	cfg := narratorConfig(t)
	cfg.TTS.Mode = "mock"
	n, closeFn, err := New(context.Background(), cfg, nil, newLogger())
	if err != nil {
		t.Fatalf("new narrator: %v", err)
	}
	defer closeFn()

	out, err := n.NarrateText(context.Background(), "# Hello\n\nWorld", "")
	if err != nil {
		t.Fatalf("narrate text: %v", err)
	}
	if !out.Mock || filepath.Ext(out.Path) != ".txt" {
		t.Fatalf("unexpected mock outcome %+v", out)
	}
	data, _ := os.ReadFile(out.Path)
	for _, want := range []string{"MOCK TTS OUTPUT", "Voice: en-US-Chirp3-HD-Aoede", "Audio Encoding: MP3", "Table Exclusion: true", "Processed Text (Markdown removed):\nHello"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("mock output missing %q:\n%s", want, data)
		}
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	cfg := narratorConfig(t)
	cfg.TTS.Mode = "polly"
	if _, _, err := New(context.Background(), cfg, nil, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNarrateFolderSkipsLongFormWav(t *testing.T) {
	cfg := narratorConfig(t)
	cfg.TTS.GCPProjectID = "proj"
	cfg.TTS.GCPBucket = "bucket"
	cfg.Audio.AutoConvert = false
	writeChapters(t, cfg.Output.ProjectFolder, "long", map[string]string{
		"chapter_1_long.md": strings.Repeat("Plenty of words here. ", 500),
	})
	api := &fakeLongAPI{}
	long := newLongForm(api, &fakeObjectStore{}, &fakeConverter{}, cfg)
	n := newTestNarrator(cfg, &fakeBackend{}, long, nil)
	ctx := context.Background()

	first, err := n.NarrateFolder(ctx, "long")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	wav := filepath.Join(cfg.Output.ProjectFolder, "long", "audio", "chapter_1_long.wav")
	if first.Processed != 1 || first.Outputs[0] != wav {
		t.Fatalf("unexpected first summary %+v", first)
	}

	second, err := n.NarrateFolder(ctx, "long")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Skipped != 1 || second.Processed != 0 || second.Outputs[0] != wav {
		t.Fatalf("expected the wav to be reused, got %+v", second)
	}
	if api.count() != 1 {
		t.Fatalf("expected one long-form call, got %d", api.count())
	}
}

func TestNarrateFolderLogsLedgerFailure(t *testing.T) {
	cfg := narratorConfig(t)
	writeChapters(t, cfg.Output.ProjectFolder, "book", map[string]string{"a.md": "Some text."})
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "runs.db"),
		RetentionMode: "persistent",
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_ = store.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	sanitizer := narration.NewSanitizer(cfg.TTS, logger)
	router := NewRouter(NewStandardSynthesizer(&fakeBackend{}, logger), nil, cfg.TTS, logger)
	n := NewNarrator(cfg, sanitizer, router, store, logger)

	sum, err := n.NarrateFolder(context.Background(), "book")
	if err != nil {
		t.Fatalf("narration should not depend on the ledger: %v", err)
	}
	if sum.Processed != 1 || sum.RunID == "" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if !strings.Contains(logs.String(), "ledger begin failed") {
		t.Fatalf("expected ledger failure to be logged:\n%s", logs.String())
	}
}
