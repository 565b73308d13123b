package book

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/llm"
	"github.com/loqalabs/minibook/internal/pacing"
)

type fakeCompleter struct {
	outline    string
	outlineErr error
	failOn     map[int]bool
	prompts    []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (llm.Completion, error) {
	f.prompts = append(f.prompts, prompt)
	call := len(f.prompts)
	if call == 1 {
		if f.outlineErr != nil {
			return llm.Completion{}, f.outlineErr
		}
		return llm.Completion{Text: f.outline}, nil
	}
	if f.failOn[call-1] {
		return llm.Completion{}, errors.New("boom")
	}
	return llm.Completion{Text: "Body of chapter request " + string(rune('0'+call-1))}, nil
}

func (f *fakeCompleter) Model() string        { return "test-model" }
func (f *fakeCompleter) Temperature() float64 { return 0.7 }
func (f *fakeCompleter) TopP() float64        { return 0.95 }

const testOutline = "# Minibook Title: QC\n\n## Chapter 1: Qubits\n* superposition\n* entanglement\n## Chapter 2: Gates\n* hadamard\n"

func newTestComposer(t *testing.T, client Completer, store *eventstore.Store) *Composer {
	t.Helper()
	cfg := config.Default()
	cfg.Output.ProjectFolder = t.TempDir()
	c := NewComposer(cfg, client, pacing.NewFixed(0), store, newLogger())
	c.clock = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	return c
}

func TestComposeWritesProject(t *testing.T) {
	client := &fakeCompleter{outline: testOutline, failOn: map[int]bool{2: true}}
	c := newTestComposer(t, client, nil)

	res, err := c.Compose(context.Background(), Request{Topic: "Quantum Computing"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if filepath.Base(res.ProjectDir) != "quantum_computing_250304_0506" {
		t.Fatalf("unexpected project dir %s", res.ProjectDir)
	}
	if len(client.prompts) != 3 {
		t.Fatalf("expected outline + 2 chapter requests, got %d", len(client.prompts))
	}
	if !strings.Contains(client.prompts[0], "Have 6 chapter titles") {
		t.Fatalf("outline prompt missing chapter count:\n%s", client.prompts[0])
	}

	outline, err := os.ReadFile(filepath.Join(res.ProjectDir, "outline.md"))
	if err != nil || string(outline) != testOutline {
		t.Fatalf("outline not persisted: %v", err)
	}

	first, err := os.ReadFile(filepath.Join(res.ProjectDir, "chapters", "chapter_1_qubits.md"))
	if err != nil {
		t.Fatalf("read chapter 1: %v", err)
	}
	if string(first) != "Body of chapter request 1" {
		t.Fatalf("unexpected chapter 1 content %q", first)
	}
	if _, err := os.Stat(filepath.Join(res.ProjectDir, "chapters", "chapter_1_qubits.prompt.txt")); err != nil {
		t.Fatalf("expected prompt record: %v", err)
	}

	second, err := os.ReadFile(filepath.Join(res.ProjectDir, "chapters", "chapter_2_gates.md"))
	if err != nil {
		t.Fatalf("read chapter 2: %v", err)
	}
	want := "# Gates\n\nError generating content: boom\n\nOutline:\n* hadamard"
	if string(second) != want {
		t.Fatalf("unexpected placeholder %q", second)
	}
	if !res.Chapters[1].Failed {
		t.Fatal("expected chapter 2 marked failed")
	}

	book, err := os.ReadFile(filepath.Join(res.ProjectDir, "minibook_quantum_computing.md"))
	if err != nil {
		t.Fatalf("read book: %v", err)
	}
	if !strings.Contains(string(book), "1. [Qubits](#chapter-1)\n2. [Gates](#chapter-2)\n") {
		t.Fatalf("book missing table of contents:\n%s", book)
	}

	raw, err := os.ReadFile(res.MetadataPath)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.Topic != "Quantum Computing" || meta.Model != "test-model" || meta.TopP != 0.95 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if len(meta.Chapters) != 2 || meta.Chapters[1].File != "chapter_2_gates.md" {
		t.Fatalf("unexpected metadata chapters %+v", meta.Chapters)
	}
}

func TestComposeOutlineFailureAborts(t *testing.T) {
	client := &fakeCompleter{outlineErr: errors.New("unauthorized")}
	c := newTestComposer(t, client, nil)
	if _, err := c.Compose(context.Background(), Request{Topic: "X"}); err == nil {
		t.Fatal("expected outline error")
	}
}

func TestComposeRejectsBadInput(t *testing.T) {
	c := newTestComposer(t, &fakeCompleter{outline: testOutline}, nil)
	if _, err := c.Compose(context.Background(), Request{Topic: "  "}); err == nil {
		t.Fatal("expected error for empty topic")
	}
	if _, err := c.Compose(context.Background(), Request{Topic: "X", Instructions: []string{"nope"}}); err == nil {
		t.Fatal("expected error for unknown instruction")
	}
}

func TestComposeStopsOnCancel(t *testing.T) {
	client := &fakeCompleter{outline: testOutline}
	c := newTestComposer(t, client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Compose(ctx, Request{Topic: "X"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("no chapter should be requested after cancel, got %d prompts", len(client.prompts))
	}
}

func TestComposeRecordsLedger(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "runs.db"),
		RetentionMode: "persistent",
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c := newTestComposer(t, &fakeCompleter{outline: testOutline, failOn: map[int]bool{1: true}}, store)
	res, err := c.Compose(context.Background(), Request{Topic: "Ledger Topic"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	runs, err := store.ListRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run, got %v (%v)", runs, err)
	}
	if runs[0].ID != res.RunID || runs[0].Status != eventstore.StatusCompleted || runs[0].Kind != "compose" {
		t.Fatalf("unexpected run %+v", runs[0])
	}
	events, err := store.ListRunEvents(context.Background(), res.RunID, 20)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []string{"outline_parsed", "chapter_failed", "chapter_elaborated", "book_assembled"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestAskSavesAnswer(t *testing.T) {
	client := &fakeCompleter{outline: "Because it is."}
	c := newTestComposer(t, client, nil)
	dir := t.TempDir()
	path, err := c.Ask(context.Background(), "Why is the sky blue?", dir)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if filepath.Base(path) != "why_is_the_sky_blue_20250304_050607.md" {
		t.Fatalf("unexpected file name %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "Because it is." {
		t.Fatalf("unexpected answer %q (%v)", data, err)
	}
}
