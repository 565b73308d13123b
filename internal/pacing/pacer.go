// Package pacing spaces out requests to rate-limited model backends.
package pacing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/minibook/internal/config"
)

// Pacer blocks until the next request may be sent.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Fixed waits a constant delay before every request.
type Fixed struct {
	Delay time.Duration
	sleep func(context.Context, time.Duration) error
}

func NewFixed(delay time.Duration) *Fixed {
	return &Fixed{Delay: delay, sleep: sleepContext}
}

func (f *Fixed) Wait(ctx context.Context) error {
	return f.sleep(ctx, f.Delay)
}

// New builds the pacer selected by cfg.Mode.
func New(cfg config.PacerConfig, logger *slog.Logger) (Pacer, error) {
	switch cfg.Mode {
	case "fixed", "":
		return NewFixed(time.Duration(cfg.DelayMS) * time.Millisecond), nil
	case "redis":
		return NewRedisWindow(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported pacer mode %q", cfg.Mode)
	}
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
