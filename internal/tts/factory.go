package tts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/minibook/internal/audio"
	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/narration"
)

// New builds a narrator for cfg.TTS.Mode. The returned close function
// releases the long-audio clients when they were created.
func New(ctx context.Context, cfg config.Config, store *eventstore.Store, logger *slog.Logger) (*Narrator, func() error, error) {
	sanitizer := narration.NewSanitizer(cfg.TTS, logger)
	noop := func() error { return nil }

	switch cfg.TTS.Mode {
	case "mock":
		return NewNarrator(cfg, sanitizer, nil, store, logger), noop, nil
	case "google", "":
	default:
		return nil, nil, fmt.Errorf("unsupported tts mode %q", cfg.TTS.Mode)
	}

	client := NewRESTClient(cfg.TTS.Endpoint, cfg.TTS.APIKey, &http.Client{Timeout: 2 * time.Minute})
	standard := NewStandardSynthesizer(client, logger)

	var long *LongFormSynthesizer
	closer := noop
	if cfg.TTS.LongFormReady() {
		var converter Converter
		if post, err := audio.NewPostProcessor(cfg.Audio, logger); err != nil {
			logger.Warn("audio conversion disabled", slog.String("error", err.Error()))
		} else {
			converter = post
		}
		l, err := NewGCPLongForm(ctx, converter, cfg, logger)
		if err != nil {
			logger.Warn("long audio unavailable, long texts will be truncated", slog.String("error", err.Error()))
		} else {
			long = l
			closer = l.Close
		}
	}
	router := NewRouter(standard, long, cfg.TTS, logger)
	return NewNarrator(cfg, sanitizer, router, store, logger), closer, nil
}
