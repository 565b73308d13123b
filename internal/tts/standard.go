package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const defaultEndpoint = "https://texttospeech.googleapis.com"

// RESTClient calls the text:synthesize method with an API key.
type RESTClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewRESTClient(endpoint, apiKey string, client *http.Client) *RESTClient {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTClient{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, client: client}
}

type synthesisInput struct {
	Text string `json:"text,omitempty"`
	SSML string `json:"ssml,omitempty"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate"`
	Pitch         float64 `json:"pitch"`
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent []byte `json:"audioContent"`
}

// APIError is a non-success answer from the REST API.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("text-to-speech returned status %s", e.Status)
	}
	return fmt.Sprintf("text-to-speech returned status %s: %s", e.Status, e.Body)
}

func (c *RESTClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	payload := synthesizeRequest{
		Voice: voiceSelection{LanguageCode: req.LanguageCode, Name: req.Voice},
		AudioConfig: audioConfig{
			AudioEncoding: req.AudioEncoding,
			SpeakingRate:  req.SpeakingRate,
			Pitch:         req.Pitch,
		},
	}
	if req.SSML {
		payload.Input.SSML = req.Text
	} else {
		payload.Input.Text = req.Text
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/text:synthesize?key=%s", c.endpoint, url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(detail))}
	}

	var decoded synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode synthesize response: %w", err)
	}
	if len(decoded.AudioContent) == 0 {
		return nil, errors.New("no audioContent returned from text-to-speech")
	}
	return decoded.AudioContent, nil
}

// Diagnose explains the likely cause of a synthesis failure.
func Diagnose(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "request failed before reaching the API"
	}
	switch apiErr.StatusCode {
	case http.StatusForbidden:
		return "access forbidden: the API key may be invalid or lack Text-to-Speech access, or the API is not enabled for the project"
	case http.StatusBadRequest:
		return "bad request: the text may contain invalid characters or be too long, or the voice name or language code is invalid"
	case http.StatusTooManyRequests:
		return "quota exceeded: wait before retrying or raise the project quota"
	default:
		return "unexpected API response"
	}
}

// StandardSynthesizer writes standard API output to disk. It never fails
// because of the API: a spoken error notice or an empty file takes the place
// of audio that could not be produced.
type StandardSynthesizer struct {
	backend Backend
	logger  *slog.Logger
}

func NewStandardSynthesizer(backend Backend, logger *slog.Logger) *StandardSynthesizer {
	return &StandardSynthesizer{backend: backend, logger: logger.With(slog.String("component", "tts-standard"))}
}

// Write synthesizes req into path. The bool reports whether a placeholder was
// written instead of the requested audio.
func (s *StandardSynthesizer) Write(ctx context.Context, req Request, path string) (bool, error) {
	audio, err := s.backend.Synthesize(ctx, req)
	if err == nil {
		return false, writeAudio(path, audio)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	s.logger.Error("standard synthesis failed",
		slog.String("error", err.Error()),
		slog.String("diagnosis", Diagnose(err)),
		slog.String("path", path))
	return true, s.WriteNotice(ctx, req, ErrorNotice, path)
}

// WriteNotice synthesizes a short spoken notice into path, falling back to a
// zero-byte file when even that fails.
func (s *StandardSynthesizer) WriteNotice(ctx context.Context, req Request, notice, path string) error {
	req.Text = notice
	req.SSML = false
	audio, err := s.backend.Synthesize(ctx, req)
	if err != nil {
		s.logger.Warn("notice synthesis failed, writing empty file",
			slog.String("error", err.Error()),
			slog.String("path", path))
		audio = nil
	}
	return writeAudio(path, audio)
}

func writeAudio(path string, audio []byte) error {
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}
