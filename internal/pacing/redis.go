package pacing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loqalabs/minibook/internal/config"
)

var tracer = otel.Tracer("github.com/loqalabs/minibook/internal/pacing")

// RedisWindow shares one sliding-window request budget between every process
// pointing at the same Redis key.
type RedisWindow struct {
	rdb    *redis.Client
	key    string
	limit  int
	window time.Duration
	poll   time.Duration
	clock  func() time.Time
	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger
}

func NewRedisWindow(cfg config.PacerConfig, logger *slog.Logger) (*RedisWindow, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	window := time.Duration(cfg.WindowMS) * time.Millisecond
	return &RedisWindow{
		rdb:    rdb,
		key:    cfg.Key,
		limit:  cfg.Limit,
		window: window,
		poll:   window / time.Duration(max(cfg.Limit, 1)),
		clock:  time.Now,
		sleep:  sleepContext,
		logger: logger.With(slog.String("component", "redis-pacer")),
	}, nil
}

// Wait polls the window until a slot frees up, then claims it.
func (p *RedisWindow) Wait(ctx context.Context) error {
	for {
		ok, err := p.allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		p.logger.Debug("request budget exhausted, waiting", slog.Duration("poll", p.poll))
		if err := p.sleep(ctx, p.poll); err != nil {
			return err
		}
	}
}

func (p *RedisWindow) allow(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "pacing.Allow")
	span.SetAttributes(
		attribute.String("pacing.key", p.key),
		attribute.Int("pacing.limit", p.limit),
		attribute.Int64("pacing.window_ms", p.window.Milliseconds()),
	)
	defer span.End()

	now := p.clock().UnixMilli()
	windowStart := now - p.window.Milliseconds()

	pipe := p.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, p.key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, p.key)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("read request window: %w", err)
	}

	count := countCmd.Val()
	span.SetAttributes(attribute.Int64("pacing.current_count", count))
	if count >= int64(p.limit) {
		span.SetAttributes(attribute.Bool("pacing.allowed", false))
		return false, nil
	}

	pipe = p.rdb.Pipeline()
	pipe.ZAdd(ctx, p.key, redis.Z{Score: float64(now), Member: fmt.Sprintf("%d-%d", now, count)})
	pipe.Expire(ctx, p.key, p.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("claim request slot: %w", err)
	}
	span.SetAttributes(attribute.Bool("pacing.allowed", true))
	return true, nil
}

// Close releases the Redis connection pool.
func (p *RedisWindow) Close() error {
	return p.rdb.Close()
}
