package book

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/minibook/internal/llm"
	"github.com/loqalabs/minibook/internal/pacing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Completer is the text-generation collaborator. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (llm.Completion, error)
	Model() string
	Temperature() float64
	TopP() float64
}

// ElaboratedChapter is a chapter after the model expanded it.
type ElaboratedChapter struct {
	Chapter
	Index   int
	Content string
	Prompt  string
	File    string
	Failed  bool
	Err     string
}

// Elaborator expands chapters one request at a time.
type Elaborator struct {
	client Completer
	pacer  pacing.Pacer
	logger *slog.Logger
}

func NewElaborator(client Completer, pacer pacing.Pacer, logger *slog.Logger) *Elaborator {
	return &Elaborator{
		client: client,
		pacer:  pacer,
		logger: logger.With(slog.String("component", "chapter-elaborator")),
	}
}

// Elaborate requests content for the 1-based chapter index. Model failures are
// folded into placeholder content; only cancellation is returned as an error.
func (e *Elaborator) Elaborate(ctx context.Context, index int, ch Chapter) (ElaboratedChapter, error) {
	ctx, span := otel.Tracer("minibook/book").Start(ctx, "book.elaborate")
	defer span.End()
	span.SetAttributes(attribute.Int("chapter.index", index), attribute.String("chapter.title", ch.Title))

	out := ElaboratedChapter{Chapter: ch, Index: index, Prompt: ChapterPrompt(index, ch)}

	if e.pacer != nil {
		e.logger.Debug("pacing before chapter request", slog.Int("chapter", index))
		if err := e.pacer.Wait(ctx); err != nil {
			return out, err
		}
	}

	completion, err := e.client.Complete(ctx, out.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("chapter elaboration failed",
			slog.Int("chapter", index),
			slog.String("title", ch.Title),
			slog.String("error", err.Error()))
		out.Failed = true
		out.Err = err.Error()
		out.Content = FailurePlaceholder(ch, err)
		return out, nil
	}
	out.Content = completion.Text
	return out, nil
}

// FailurePlaceholder is the chapter body written when elaboration fails.
func FailurePlaceholder(ch Chapter, err error) string {
	return fmt.Sprintf("# %s\n\nError generating content: %v\n\nOutline:\n%s", ch.Title, err, ch.Outline)
}
