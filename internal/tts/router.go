package tts

import (
	"context"
	"log/slog"
	"path/filepath"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/minibook/internal/config"
)

// Limits bound what each backend accepts.
type Limits struct {
	StandardChars int
	StandardBytes int
	LongChars     int
}

func LimitsFromConfig(cfg config.TTSConfig) Limits {
	return Limits{
		StandardChars: cfg.StandardCharLimit,
		StandardBytes: cfg.StandardByteLimit,
		LongChars:     cfg.LongCharLimit,
	}
}

// SelectRoute picks the backend for a text of the given character length.
func SelectRoute(chars int, limits Limits, longReady bool) Route {
	switch {
	case chars <= limits.StandardChars:
		return RouteStandard
	case chars > limits.LongChars:
		return RouteTooLong
	case longReady:
		return RouteLongForm
	default:
		return RouteTruncated
	}
}

// TruncateToByteLimit returns the longest prefix of text, cut on a character
// boundary, whose UTF-8 encoding fits in limit bytes. The cut is a byte offset
// of text, so invalid bytes are carried over unchanged.
func TruncateToByteLimit(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}
	// A character starts at most utf8.UTFMax-1 bytes before any offset; a
	// longer run of continuation bytes is invalid input and is cut as is.
	for cut := limit; cut >= 0 && cut > limit-utf8.UTFMax; cut-- {
		if utf8.RuneStart(text[cut]) {
			return text[:cut]
		}
	}
	return text[:limit]
}

// Router dispatches sanitized text to the standard or long-form backend.
type Router struct {
	standard  *StandardSynthesizer
	long      *LongFormSynthesizer
	limits    Limits
	longReady bool
	logger    *slog.Logger
	routes    metric.Int64Counter
}

// NewRouter builds a router. long may be nil, in which case oversized texts
// are truncated for the standard backend.
func NewRouter(standard *StandardSynthesizer, long *LongFormSynthesizer, cfg config.TTSConfig, logger *slog.Logger) *Router {
	logger = logger.With(slog.String("component", "tts-router"))
	counter, err := otel.Meter("minibook/tts").Int64Counter("minibook_synthesis_total",
		metric.WithDescription("Synthesis requests, labelled by route"))
	if err != nil {
		logger.Warn("create synthesis counter failed", slog.String("error", err.Error()))
	}
	return &Router{
		standard:  standard,
		long:      long,
		limits:    LimitsFromConfig(cfg),
		longReady: long != nil && cfg.LongFormReady(),
		logger:    logger,
		routes:    counter,
	}
}

// Synthesize renders req into audioDir/filename. plain is the text before SSML
// conversion; it replaces SSML input whenever the text has to be truncated so
// markup is never cut mid-tag. Only long-form failures and local I/O errors
// are returned.
func (r *Router) Synthesize(ctx context.Context, req Request, plain, audioDir, filename string) (Outcome, error) {
	ctx, span := otel.Tracer("minibook/tts").Start(ctx, "tts.synthesize")
	defer span.End()

	chars := utf8.RuneCountInString(req.Text)
	route := SelectRoute(chars, r.limits, r.longReady)
	span.SetAttributes(
		attribute.String("tts.file", filename),
		attribute.Int("tts.chars", chars),
		attribute.String("tts.route", route.String()),
	)
	if r.routes != nil {
		r.routes.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route.String())))
	}

	out, err := r.dispatch(ctx, route, req, plain, audioDir, filename)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (r *Router) dispatch(ctx context.Context, route Route, req Request, plain, audioDir, filename string) (Outcome, error) {
	path := filepath.Join(audioDir, filename)
	out := Outcome{Path: path, Route: route}

	switch route {
	case RouteLongForm:
		r.logger.Info("text exceeds standard limit, using long audio", slog.String("file", filename))
		longPath, err := r.long.Synthesize(ctx, req, audioDir, filename)
		if err != nil {
			return out, err
		}
		out.Path = longPath
		return out, nil

	case RouteTooLong:
		r.logger.Warn("text too long even for long audio, writing placeholder",
			slog.String("file", filename),
			slog.Int("limit", r.limits.LongChars))
		out.Placeholder = true
		return out, r.standard.WriteNotice(ctx, req, TooLongNotice, path)

	case RouteTruncated:
		r.logger.Warn("long audio unavailable, truncating for standard API", slog.String("file", filename))
	}

	req, out.Truncated = r.fitBytes(req, plain)
	if out.Truncated {
		r.logger.Warn("text truncated to stay under byte limit",
			slog.String("file", filename),
			slog.Int("chars", utf8.RuneCountInString(req.Text)),
			slog.Int("bytes", len(req.Text)))
	}
	placeholder, err := r.standard.Write(ctx, req, path)
	if err != nil {
		return out, err
	}
	out.Placeholder = placeholder
	return out, nil
}

func (r *Router) fitBytes(req Request, plain string) (Request, bool) {
	if len(req.Text) <= r.limits.StandardBytes {
		return req, false
	}
	if req.SSML {
		req.Text, req.SSML = plain, false
	}
	req.Text = TruncateToByteLimit(req.Text, r.limits.StandardBytes)
	return req, true
}
