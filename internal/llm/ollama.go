package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llama3.2:latest"
)

// ollamaGenerator streams completions from a local Ollama server.
type ollamaGenerator struct {
	endpoint string
	model    string
	http     *http.Client
}

func NewOllamaGenerator(endpoint, model string, client *http.Client) Generator {
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaGenerator{endpoint: strings.TrimRight(endpoint, "/"), model: model, http: client}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaLine struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

func (g *ollamaGenerator) payload(req Request) ollamaGenerateRequest {
	out := ollamaGenerateRequest{
		Model:  g.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: true,
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if req.MimeType == "application/json" {
		out.Format = "json"
	}
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		opts["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		out.Options = opts
	}
	return out
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	body, err := json.Marshal(g.payload(req))
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Backend: "ollama", StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(detail))}
	}

	start := time.Now()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var promptTokens, completionTokens int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line ollamaLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("decode ollama stream: %w", err)
		}
		if line.Error != "" {
			return errors.New("ollama: " + line.Error)
		}
		promptTokens = max(promptTokens, line.PromptEvalCount)
		completionTokens = max(completionTokens, line.EvalCount)
		chunk := Chunk{
			Content:          line.Response,
			Partial:          !line.Done,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Latency:          time.Since(start),
			TraceID:          req.TraceID,
		}
		if err := consumer(chunk); err != nil {
			return err
		}
		if line.Done {
			break
		}
	}
	return scanner.Err()
}
