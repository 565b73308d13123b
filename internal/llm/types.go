package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/minibook/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	MimeType    string
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MimeType:    cfg.MimeType,
	}
}

// StatusError is returned when an HTTP backend answers with a non-success status.
type StatusError struct {
	Backend    string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %s", e.Backend, e.Status)
	}
	return fmt.Sprintf("%s returned status %s: %s", e.Backend, e.Status, e.Body)
}

// Quota reports whether the status signals an exhausted quota or rate limit.
func (e *StatusError) Quota() bool {
	return e.StatusCode == 429 || strings.Contains(e.Body, "RESOURCE_EXHAUSTED")
}

// IsQuotaError reports whether err is a rate-limit or quota failure worth retrying.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Quota()
	}
	msg := err.Error()
	return strings.Contains(msg, "ResourceExhausted") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "429")
}
