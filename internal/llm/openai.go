package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/loqalabs/minibook/internal/config"
)

// chatModel is the slice of the eino chat model contract used here.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type openAIGenerator struct {
	model chatModel
}

// NewOpenAIGenerator talks to any OpenAI-compatible chat completion endpoint
// through the eino openai adapter.
func NewOpenAIGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	temperature := float32(cfg.Temperature)
	topP := float32(cfg.TopP)
	modelCfg := &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.Endpoint,
		Model:       cfg.Model,
		Temperature: &temperature,
		TopP:        &topP,
		Timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelCfg.MaxTokens = &maxTokens
	}
	chat, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}
	return &openAIGenerator{model: chat}, nil
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	var messages []*schema.Message
	if req.System != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	opts := []model.Option{
		model.WithTemperature(float32(req.Temperature)),
		model.WithTopP(float32(req.TopP)),
	}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	out, err := g.model.Generate(ctx, messages, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return errors.New("empty llm response")
	}
	chunk := Chunk{
		Content: out.Content,
		Partial: false,
		Latency: time.Since(start),
		TraceID: req.TraceID,
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		chunk.PromptTokens = out.ResponseMeta.Usage.PromptTokens
		chunk.CompletionTokens = out.ResponseMeta.Usage.CompletionTokens
	}
	return consumer(chunk)
}
