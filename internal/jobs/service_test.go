package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/minibook/internal/book"
	"github.com/loqalabs/minibook/internal/bus"
	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/natsserver"
	"github.com/loqalabs/minibook/internal/protocol"
	"github.com/loqalabs/minibook/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeComposer struct {
	mu    sync.Mutex
	reqs  []book.Request
	err   error
	block chan struct{}
}

func (f *fakeComposer) Compose(ctx context.Context, req book.Request) (book.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return book.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return book.Result{RunID: "run-1"}, f.err
	}
	return book.Result{
		RunID:      "run-1",
		ProjectDir: "/books/topic",
		BookPath:   "/books/topic/minibook_topic.md",
		Strategy:   "numbered-chapter",
		Chapters:   make([]book.ElaboratedChapter, 3),
	}, nil
}

type fakeNarrator struct {
	mu      sync.Mutex
	folders []string
}

func (f *fakeNarrator) NarrateFolder(_ context.Context, folder string) (tts.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, folder)
	return tts.Summary{RunID: "run-2", Processed: 3}, nil
}

func (f *fakeNarrator) NarrateFile(_ context.Context, path, _ string) (tts.Outcome, error) {
	return tts.Outcome{Path: path + ".mp3"}, nil
}

func (f *fakeNarrator) NarrateText(_ context.Context, text, _ string) (tts.Outcome, error) {
	if text == "fail" {
		return tts.Outcome{}, errors.New("synthesis failed")
	}
	return tts.Outcome{Path: "/audio/output.mp3"}, nil
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func startService(t *testing.T, client *bus.Client, cfg config.JobsConfig, composer Composer, narrator Narrator) *Service {
	t.Helper()
	svc := NewService(context.Background(), cfg, client, composer, narrator, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func watchStatus(t *testing.T, client *bus.Client) <-chan protocol.JobStatus {
	t.Helper()
	ch := make(chan protocol.JobStatus, 32)
	sub, err := client.Conn().Subscribe(protocol.SubjectJobStatus, func(msg *nats.Msg) {
		var status protocol.JobStatus
		if err := json.Unmarshal(msg.Data, &status); err == nil {
			ch <- status
		}
	})
	if err != nil {
		t.Fatalf("subscribe status: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return ch
}

func request(t *testing.T, client *bus.Client, subject string, v any) protocol.JobAck {
	t.Helper()
	data, _ := json.Marshal(v)
	msg, err := client.Conn().Request(subject, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	var ack protocol.JobAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func waitState(t *testing.T, ch <-chan protocol.JobStatus, jobID string, states ...string) []protocol.JobStatus {
	t.Helper()
	var seen []protocol.JobStatus
	timeout := time.After(3 * time.Second)
	for len(seen) < len(states) {
		select {
		case status := <-ch:
			if status.JobID != jobID {
				continue
			}
			if status.State != states[len(seen)] {
				t.Fatalf("expected state %s, got %s (%+v)", states[len(seen)], status.State, status)
			}
			seen = append(seen, status)
		case <-timeout:
			t.Fatalf("timed out waiting for states %v, saw %d", states, len(seen))
		}
	}
	return seen
}

func TestComposeJobLifecycle(t *testing.T) {
	client := startBus(t)
	statuses := watchStatus(t, client)
	composer := &fakeComposer{}
	narrator := &fakeNarrator{}
	startService(t, client, config.JobsConfig{Enabled: true, QueueSize: 4, TimeoutS: 10}, composer, narrator)

	ack := request(t, client, protocol.SubjectComposeRequest, protocol.ComposeRequest{Topic: "Topic", Chapters: 3, Narrate: true})
	if !ack.Accepted || ack.JobID == "" {
		t.Fatalf("expected accepted job, got %+v", ack)
	}

	seen := waitState(t, statuses, ack.JobID, protocol.JobAccepted, protocol.JobRunning, protocol.JobCompleted)
	final := seen[2]
	if final.Kind != "compose" || final.RunID != "run-1" || final.Output != "/books/topic/minibook_topic.md" {
		t.Fatalf("unexpected final status %+v", final)
	}
	if final.Detail != "3 chapters via numbered-chapter; narrated 3, skipped 0, failed 0" {
		t.Fatalf("unexpected detail %q", final.Detail)
	}
	composer.mu.Lock()
	if len(composer.reqs) != 1 || composer.reqs[0].Chapters != 3 {
		t.Fatalf("unexpected compose requests %+v", composer.reqs)
	}
	composer.mu.Unlock()
	narrator.mu.Lock()
	defer narrator.mu.Unlock()
	if len(narrator.folders) != 1 || narrator.folders[0] != "/books/topic" {
		t.Fatalf("expected narration of the project dir, got %v", narrator.folders)
	}
}

func TestComposeRequestValidation(t *testing.T) {
	client := startBus(t)
	startService(t, client, config.JobsConfig{Enabled: true, QueueSize: 4}, &fakeComposer{}, &fakeNarrator{})

	if ack := request(t, client, protocol.SubjectComposeRequest, protocol.ComposeRequest{}); ack.Accepted || ack.Error == "" {
		t.Fatalf("expected rejection for empty topic, got %+v", ack)
	}
	if ack := request(t, client, protocol.SubjectComposeRequest, protocol.ComposeRequest{Topic: "x", Instructions: []string{"gossip"}}); ack.Accepted {
		t.Fatalf("expected rejection for unknown instruction, got %+v", ack)
	}
	if ack := request(t, client, protocol.SubjectNarrateRequest, protocol.NarrateRequest{Folder: "a", Text: "b"}); ack.Accepted {
		t.Fatalf("expected rejection for ambiguous narrate request, got %+v", ack)
	}
}

func TestNarrateJobFailureIsReported(t *testing.T) {
	client := startBus(t)
	statuses := watchStatus(t, client)
	startService(t, client, config.JobsConfig{Enabled: true, QueueSize: 4}, &fakeComposer{}, &fakeNarrator{})

	ack := request(t, client, protocol.SubjectNarrateRequest, protocol.NarrateRequest{Text: "fail"})
	seen := waitState(t, statuses, ack.JobID, protocol.JobAccepted, protocol.JobRunning, protocol.JobFailed)
	if seen[2].Error != "synthesis failed" {
		t.Fatalf("unexpected error %q", seen[2].Error)
	}

	ack = request(t, client, protocol.SubjectNarrateRequest, protocol.NarrateRequest{File: "/tmp/essay.md"})
	seen = waitState(t, statuses, ack.JobID, protocol.JobAccepted, protocol.JobRunning, protocol.JobCompleted)
	if seen[2].Output != "/tmp/essay.md.mp3" {
		t.Fatalf("unexpected output %q", seen[2].Output)
	}
}

func TestQueueFullRejects(t *testing.T) {
	client := startBus(t)
	statuses := watchStatus(t, client)
	composer := &fakeComposer{block: make(chan struct{})}
	svc := startService(t, client, config.JobsConfig{Enabled: true, QueueSize: 1}, composer, &fakeNarrator{})

	first := request(t, client, protocol.SubjectComposeRequest, protocol.ComposeRequest{Topic: "one"})
	waitState(t, statuses, first.JobID, protocol.JobAccepted, protocol.JobRunning)

	second := request(t, client, protocol.SubjectComposeRequest, protocol.ComposeRequest{Topic: "two"})
	if !second.Accepted {
		t.Fatalf("expected second job to be queued, got %+v", second)
	}
	third := request(t, client, protocol.SubjectComposeRequest, protocol.ComposeRequest{Topic: "three"})
	if third.Accepted || third.Error != ErrQueueFull.Error() {
		t.Fatalf("expected queue full rejection, got %+v", third)
	}
	if svc.Pending() != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", svc.Pending())
	}
	close(composer.block)
	waitState(t, statuses, second.JobID, protocol.JobAccepted, protocol.JobRunning, protocol.JobCompleted)
}

func TestDisabledServiceDoesNotSubscribe(t *testing.T) {
	client := startBus(t)
	svc := startService(t, client, config.JobsConfig{Enabled: false}, &fakeComposer{}, &fakeNarrator{})
	if !svc.Healthy() {
		t.Fatal("disabled service should report healthy")
	}
	data, _ := json.Marshal(protocol.ComposeRequest{Topic: "x"})
	if _, err := client.Conn().Request(protocol.SubjectComposeRequest, data, 200*time.Millisecond); !errors.Is(err, nats.ErrNoResponders) && !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("expected no responders, got %v", err)
	}
}
