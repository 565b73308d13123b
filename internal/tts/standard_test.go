package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/minibook/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackend returns "audio:<text>" and fails for texts listed in fail.
type fakeBackend struct {
	mu    sync.Mutex
	calls []Request
	fail  map[string]error
	all   error
}

func (f *fakeBackend) Synthesize(_ context.Context, req Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.all != nil {
		return nil, f.all
	}
	if err, ok := f.fail[req.Text]; ok {
		return nil, err
	}
	return []byte("audio:" + req.Text), nil
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) last() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestRESTClientSynthesize(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text:synthesize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "secret" {
			t.Errorf("expected api key in query, got %q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(synthesizeResponse{AudioContent: []byte("ID3-audio")})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "secret", srv.Client())
	req := RequestFromConfig(config.Default().TTS)
	req.Text, req.SSML = "<speak>Hello</speak>", true
	data, err := client.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(data) != "ID3-audio" {
		t.Fatalf("unexpected audio %q", data)
	}
	if got.Input.SSML != "<speak>Hello</speak>" || got.Input.Text != "" {
		t.Fatalf("expected ssml input, got %+v", got.Input)
	}
	if got.Voice.Name != "en-US-Chirp3-HD-Aoede" || got.Voice.LanguageCode != "en-US" {
		t.Fatalf("unexpected voice %+v", got.Voice)
	}
	if got.AudioConfig.AudioEncoding != "MP3" || got.AudioConfig.SpeakingRate != 1.0 {
		t.Fatalf("unexpected audio config %+v", got.AudioConfig)
	}
}

func TestRESTClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"status":"PERMISSION_DENIED"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewRESTClient(srv.URL, "bad", srv.Client()).Synthesize(context.Background(), Request{Text: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden api error, got %v", err)
	}
	if !strings.Contains(Diagnose(err), "forbidden") {
		t.Fatalf("unexpected diagnosis %q", Diagnose(err))
	}
	if !strings.Contains(Diagnose(&APIError{StatusCode: 429}), "quota") {
		t.Fatal("expected quota diagnosis for 429")
	}
}

func TestStandardWritesAudio(t *testing.T) {
	backend := &fakeBackend{}
	path := filepath.Join(t.TempDir(), "ch.mp3")
	placeholder, err := NewStandardSynthesizer(backend, newLogger()).Write(context.Background(), Request{Text: "hello"}, path)
	if err != nil || placeholder {
		t.Fatalf("unexpected result: %v %v", placeholder, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "audio:hello" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestStandardWritesErrorNoticeOnFailure(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{"hello": &APIError{StatusCode: 400, Status: "400 Bad Request"}}}
	path := filepath.Join(t.TempDir(), "ch.mp3")
	placeholder, err := NewStandardSynthesizer(backend, newLogger()).Write(context.Background(), Request{Text: "hello", SSML: true}, path)
	if err != nil {
		t.Fatalf("backend failure must not be returned: %v", err)
	}
	if !placeholder {
		t.Fatal("expected placeholder flag")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "audio:"+ErrorNotice {
		t.Fatalf("expected error notice audio, got %q", data)
	}
	if backend.last().SSML {
		t.Fatal("notice must be sent as plain text")
	}
}

func TestStandardWritesEmptyFileWhenNoticeFails(t *testing.T) {
	backend := &fakeBackend{all: errors.New("connection refused")}
	path := filepath.Join(t.TempDir(), "ch.mp3")
	placeholder, err := NewStandardSynthesizer(backend, newLogger()).Write(context.Background(), Request{Text: "hello"}, path)
	if err != nil || !placeholder {
		t.Fatalf("unexpected result: %v %v", placeholder, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected placeholder file: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected zero-byte file, got %d bytes", info.Size())
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{"MP3": "mp3", "LINEAR16": "wav", "MULAW": "wav", "OGG_OPUS": "ogg", "mp3": "mp3"}
	for in, want := range cases {
		if got := Extension(in); got != want {
			t.Fatalf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}
