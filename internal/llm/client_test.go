package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/minibook/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedGenerator struct {
	errs  []error
	text  string
	calls int
	last  Request
}

func (s *scriptedGenerator) Generate(_ context.Context, req Request, consumer func(Chunk) error) error {
	s.calls++
	s.last = req
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	if err := consumer(Chunk{Content: s.text[:len(s.text)/2], Partial: true}); err != nil {
		return err
	}
	return consumer(Chunk{Content: s.text[len(s.text)/2:], PromptTokens: 3, CompletionTokens: 7})
}

func newTestClient(gen Generator) (*Client, *[]time.Duration) {
	cfg := config.Default().LLM
	client := NewClient(gen, cfg, newLogger())
	var waits []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return client, &waits
}

func TestCompleteAccumulatesChunks(t *testing.T) {
	gen := &scriptedGenerator{text: "hello world"}
	client, _ := newTestClient(gen)

	out, err := client.Complete(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "hello world" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.PromptTokens != 3 || out.CompletionTokens != 7 {
		t.Fatalf("unexpected usage %+v", out)
	}
	if gen.last.Prompt != "say hi" || gen.last.TopP != 0.95 || gen.last.Temperature != 0.7 {
		t.Fatalf("request defaults not applied: %+v", gen.last)
	}
	if gen.last.MimeType != "text/plain" {
		t.Fatalf("expected text/plain mime type, got %q", gen.last.MimeType)
	}
}

func TestCompleteRetriesQuotaErrors(t *testing.T) {
	quota := &StatusError{Backend: "gemini", StatusCode: 429, Status: "429 Too Many Requests"}
	gen := &scriptedGenerator{errs: []error{quota, errors.New("ResourceExhausted: slow down")}, text: "done"}
	client, waits := newTestClient(gen)

	out, err := client.Complete(context.Background(), "p")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "done" || out.Attempts != 3 {
		t.Fatalf("unexpected completion %+v", out)
	}
	want := []time.Duration{6 * time.Second, 12 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), *waits)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("wait %d = %v, want %v", i, (*waits)[i], want[i])
		}
	}
}

func TestCompleteReturnsPlaceholderWhenExhausted(t *testing.T) {
	quota := errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")
	gen := &scriptedGenerator{errs: []error{quota, quota, quota, quota, quota}, text: "never"}
	client, waits := newTestClient(gen)

	out, err := client.Complete(context.Background(), "p")
	if err != nil {
		t.Fatalf("expected placeholder without error, got %v", err)
	}
	if !out.Exhausted || out.Text != QuotaPlaceholder {
		t.Fatalf("expected placeholder, got %+v", out)
	}
	if gen.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", gen.calls)
	}
	if len(*waits) != 3 {
		t.Fatalf("expected 3 backoff waits, got %v", *waits)
	}
}

func TestCompletePropagatesOtherErrors(t *testing.T) {
	boom := errors.New("invalid argument")
	gen := &scriptedGenerator{errs: []error{boom}, text: "never"}
	client, waits := newTestClient(gen)

	if _, err := client.Complete(context.Background(), "p"); !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if gen.calls != 1 || len(*waits) != 0 {
		t.Fatalf("expected a single attempt without backoff, calls=%d waits=%v", gen.calls, *waits)
	}
}

func TestIsQuotaError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{errors.New("status 429"), true},
		{&StatusError{StatusCode: 400, Body: `{"status":"RESOURCE_EXHAUSTED"}`}, true},
		{&StatusError{StatusCode: 500}, false},
	}
	for _, tc := range cases {
		if got := IsQuotaError(tc.err); got != tc.want {
			t.Fatalf("IsQuotaError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestMockGeneratorDrivesPipelinePrompts(t *testing.T) {
	gen := NewMockGenerator()
	var outline string
	err := gen.Generate(context.Background(), Request{Prompt: `Create a detailed outline for a minibook on "Graphs".`}, func(c Chunk) error {
		outline += c.Content
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if outline == "" || outline[:len("# Minibook Title: Graphs")] != "# Minibook Title: Graphs" {
		t.Fatalf("unexpected mock outline %q", outline)
	}

	var chapter string
	err = gen.Generate(context.Background(), Request{Prompt: "Chapter Number: 2\nChapter Title: Paths\n"}, func(c Chunk) error {
		chapter += c.Content
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if chapter[:len("## Chapter 2: Paths")] != "## Chapter 2: Paths" {
		t.Fatalf("unexpected mock chapter %q", chapter)
	}
}
