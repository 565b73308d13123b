package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loqalabs/minibook/internal/book"
	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/llm"
	"github.com/loqalabs/minibook/internal/pacing"
	"github.com/loqalabs/minibook/internal/tts"
)

// Pipelines bundles the book and narration pipelines built from one config.
type Pipelines struct {
	Composer *book.Composer
	Narrator *tts.Narrator
	closers  []func() error
}

// NewPipelines wires the model client, pacer, composer and narrator.
func NewPipelines(ctx context.Context, cfg config.Config, store *eventstore.Store, logger *slog.Logger) (*Pipelines, error) {
	generator, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm backend: %w", err)
	}
	pacer, err := pacing.New(cfg.Pacer, logger)
	if err != nil {
		return nil, fmt.Errorf("pacer: %w", err)
	}
	p := &Pipelines{}
	if c, ok := pacer.(io.Closer); ok {
		p.closers = append(p.closers, c.Close)
	}

	client := llm.NewClient(generator, cfg.LLM, logger)
	p.Composer = book.NewComposer(cfg, client, pacer, store, logger)

	narrator, closeNarrator, err := tts.New(ctx, cfg, store, logger)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("narrator: %w", err)
	}
	p.Narrator = narrator
	p.closers = append(p.closers, closeNarrator)

	logger.Info("pipelines ready",
		slog.String("llm_mode", cfg.LLM.Mode),
		slog.String("tts_mode", cfg.TTS.Mode),
		slog.String("pacer_mode", cfg.Pacer.Mode),
		slog.Bool("long_audio", cfg.TTS.LongFormReady()))
	return p, nil
}

// Close releases pacer and synthesis clients.
func (p *Pipelines) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
