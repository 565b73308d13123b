package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/minibook/internal/config"
)

// QuotaPlaceholder replaces model output once quota retries are exhausted.
const QuotaPlaceholder = "API rate limit exceeded. This content could not be generated."

// Completion is the accumulated result of one prompt.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Attempts         int
	Exhausted        bool
}

// Client turns a streaming Generator into single-shot completions and applies
// the quota retry policy.
type Client struct {
	generator  Generator
	defaults   Request
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

func NewClient(generator Generator, cfg config.LLMConfig, logger *slog.Logger) *Client {
	return &Client{
		generator:  generator,
		defaults:   OptionsFromConfig(cfg),
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
		sleep:      sleepContext,
		logger:     logger.With(slog.String("component", "llm-client")),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.defaults.Model }

// Temperature returns the configured sampling temperature.
func (c *Client) Temperature() float64 { return c.defaults.Temperature }

// TopP returns the configured nucleus sampling value.
func (c *Client) TopP() float64 { return c.defaults.TopP }

// Complete sends prompt to the backend. Quota errors are retried with
// exponential backoff; once retries run out the placeholder text is returned
// without an error. Any other failure is returned immediately.
func (c *Client) Complete(ctx context.Context, prompt string) (Completion, error) {
	req := c.defaults
	req.Prompt = prompt

	retries := 0
	for {
		completion, err := c.once(ctx, req)
		completion.Attempts = retries + 1
		if err == nil {
			return completion, nil
		}
		if !IsQuotaError(err) {
			return Completion{Attempts: retries + 1}, err
		}
		retries++
		if retries > c.maxRetries {
			c.logger.Warn("maximum retries reached, substituting placeholder", slog.Int("retries", c.maxRetries))
			return Completion{Text: QuotaPlaceholder, Attempts: retries, Exhausted: true}, nil
		}
		wait := c.retryDelay * time.Duration(1<<retries)
		c.logger.Warn("rate limit reached, backing off",
			slog.Duration("wait", wait),
			slog.Int("retry", retries),
			slog.String("error", err.Error()))
		if err := c.sleep(ctx, wait); err != nil {
			return Completion{Attempts: retries}, err
		}
	}
}

func (c *Client) once(ctx context.Context, req Request) (Completion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var text strings.Builder
	var out Completion
	err := c.generator.Generate(ctx, req, func(chunk Chunk) error {
		text.WriteString(chunk.Content)
		if chunk.PromptTokens > 0 {
			out.PromptTokens = chunk.PromptTokens
		}
		if chunk.CompletionTokens > 0 {
			out.CompletionTokens = chunk.CompletionTokens
		}
		return nil
	})
	if err != nil {
		return Completion{}, err
	}
	out.Text = text.String()
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
