package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

type geminiGenerator struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewGeminiGenerator calls the generateContent REST method of the Gemini API.
func NewGeminiGenerator(endpoint, apiKey, model string, client *http.Client) Generator {
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &geminiGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   client,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := req.Model
	if model == "" {
		model = g.model
	}
	temperature := req.Temperature
	topP := req.TopP
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      &temperature,
			TopP:             &topP,
			MaxOutputTokens:  req.MaxTokens,
			ResponseMimeType: req.MimeType,
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.endpoint, url.PathEscape(model), url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Backend: "gemini", StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(detail))}
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	if len(decoded.Candidates) == 0 {
		if reason := decoded.PromptFeedback.BlockReason; reason != "" {
			return fmt.Errorf("gemini blocked prompt: %s", reason)
		}
		return errors.New("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return consumer(Chunk{
		Content:          text.String(),
		Partial:          false,
		PromptTokens:     decoded.UsageMetadata.PromptTokenCount,
		CompletionTokens: decoded.UsageMetadata.CandidatesTokenCount,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}
