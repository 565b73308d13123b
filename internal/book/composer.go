package book

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/pacing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Request describes one minibook. Zero values fall back to the book config.
type Request struct {
	Topic                  string
	Chapters               int
	Instructions           []string
	AdditionalInstructions string
}

// Result points at everything a compose run wrote.
type Result struct {
	RunID        string
	ProjectDir   string
	OutlinePath  string
	BookPath     string
	MetadataPath string
	Strategy     string
	Chapters     []ElaboratedChapter
}

// Metadata is persisted as metadata.json next to the book.
type Metadata struct {
	Topic       string            `json:"topic"`
	CreatedAt   string            `json:"created_at"`
	Chapters    []MetadataChapter `json:"chapters"`
	Model       string            `json:"model"`
	Temperature float64           `json:"temperature"`
	TopP        float64           `json:"top_p"`
}

type MetadataChapter struct {
	Title string `json:"title"`
	File  string `json:"file"`
}

// Composer runs the outline, extraction, elaboration and assembly steps and
// lays the project out on disk.
type Composer struct {
	cfg        config.BookConfig
	root       string
	client     Completer
	extractor  *Extractor
	elaborator *Elaborator
	store      *eventstore.Store
	logger     *slog.Logger
	clock      func() time.Time
	chapters   metric.Int64Counter
}

func NewComposer(cfg config.Config, client Completer, pacer pacing.Pacer, store *eventstore.Store, logger *slog.Logger) *Composer {
	logger = logger.With(slog.String("component", "composer"))
	counter, err := otel.Meter("minibook/book").Int64Counter("minibook_chapters_total",
		metric.WithDescription("Chapters elaborated, labelled by outcome"))
	if err != nil {
		logger.Warn("create chapter counter failed", slog.String("error", err.Error()))
	}
	return &Composer{
		cfg:        cfg.Book,
		root:       cfg.Output.ProjectFolder,
		client:     client,
		extractor:  NewExtractor(logger),
		elaborator: NewElaborator(client, pacer, logger),
		store:      store,
		logger:     logger,
		clock:      time.Now,
		chapters:   counter,
	}
}

// Compose builds a minibook for req.Topic. Chapter failures become placeholder
// chapters; an outline failure or cancellation aborts the run.
func (c *Composer) Compose(ctx context.Context, req Request) (res Result, err error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return Result{}, errors.New("topic must not be empty")
	}
	instructions := req.Instructions
	if instructions == nil {
		instructions = c.cfg.Instructions
	}
	if err := ValidateInstructions(instructions); err != nil {
		return Result{}, err
	}
	additional := req.AdditionalInstructions
	if additional == "" {
		additional = c.cfg.AdditionalInstructions
	}
	base := req.Chapters
	if base <= 0 {
		base = c.cfg.Chapters
	}

	ctx, span := otel.Tracer("minibook/book").Start(ctx, "book.compose")
	defer span.End()
	span.SetAttributes(attribute.String("book.topic", topic))

	runID, beginErr := c.store.BeginRun(ctx, "compose", topic)
	if beginErr != nil {
		c.logger.Warn("ledger begin failed", slog.String("error", beginErr.Error()))
	}
	res.RunID = runID
	logger := c.logger.With(slog.String("run_id", runID))
	defer func() {
		status, detail := eventstore.StatusCompleted, fmt.Sprintf("%d chapters", len(res.Chapters))
		if err != nil {
			status, detail = eventstore.StatusFailed, err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if ferr := c.store.FinishRun(context.WithoutCancel(ctx), runID, status, detail); ferr != nil {
			logger.Warn("ledger finish failed", slog.String("error", ferr.Error()))
		}
	}()

	now := c.clock()
	res.ProjectDir = filepath.Join(c.root, ProjectName(topic, now))
	if err := os.MkdirAll(filepath.Join(res.ProjectDir, "chapters"), 0o755); err != nil {
		return res, fmt.Errorf("create project folder: %w", err)
	}
	logger.Info("project folder ready", slog.String("path", res.ProjectDir))

	count := ChapterCount(base, instructions, additional)
	logger.Info("generating outline", slog.String("topic", topic), slog.Int("chapters", count))
	outline, err := c.client.Complete(ctx, OutlinePrompt(topic, count, instructions, additional))
	if err != nil {
		return res, fmt.Errorf("generate outline: %w", err)
	}
	res.OutlinePath = filepath.Join(res.ProjectDir, "outline.md")
	if err := writeFile(res.OutlinePath, outline.Text); err != nil {
		return res, err
	}

	chapters, strategy := c.extractor.ExtractWithStrategy(outline.Text)
	res.Strategy = strategy
	logger.Info("chapters extracted", slog.Int("count", len(chapters)), slog.String("strategy", strategy))
	c.store.Record(ctx, runID, "outline_parsed", map[string]any{"chapters": len(chapters), "strategy": strategy})

	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		index := i + 1
		logger.Info("elaborating chapter", slog.Int("chapter", index), slog.String("title", ch.Title))
		elaborated, err := c.elaborator.Elaborate(ctx, index, ch)
		if err != nil {
			return res, err
		}
		name := fmt.Sprintf("chapter_%d_%s", index, Slug(ch.Title, DefaultSlugLength))
		path := filepath.Join(res.ProjectDir, "chapters", name+".md")
		if err := writeFile(path, elaborated.Content); err != nil {
			return res, err
		}
		elaborated.File = path
		if c.cfg.SavePrompts {
			if err := writeFile(filepath.Join(res.ProjectDir, "chapters", name+".prompt.txt"), elaborated.Prompt); err != nil {
				return res, err
			}
		}
		res.Chapters = append(res.Chapters, elaborated)

		outcome := "elaborated"
		if elaborated.Failed {
			outcome = "failed"
		}
		if c.chapters != nil {
			c.chapters.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
		c.store.Record(ctx, runID, "chapter_"+outcome, map[string]any{
			"index": index,
			"title": ch.Title,
			"file":  filepath.Base(path),
			"error": elaborated.Err,
		})
	}

	topicSlug := Slug(topic, DefaultSlugLength)
	res.BookPath = filepath.Join(res.ProjectDir, "minibook_"+topicSlug+".md")
	if err := writeFile(res.BookPath, Assemble(topic, res.Chapters)); err != nil {
		return res, err
	}
	c.store.Record(ctx, runID, "book_assembled", map[string]any{"file": filepath.Base(res.BookPath)})

	res.MetadataPath = filepath.Join(res.ProjectDir, "metadata.json")
	if err := c.writeMetadata(res.MetadataPath, topic, now, res.Chapters); err != nil {
		return res, err
	}

	logger.Info("minibook complete", slog.String("book", res.BookPath))
	return res, nil
}

func (c *Composer) writeMetadata(path, topic string, created time.Time, chapters []ElaboratedChapter) error {
	meta := Metadata{
		Topic:       topic,
		CreatedAt:   created.Format(time.RFC3339),
		Chapters:    make([]MetadataChapter, 0, len(chapters)),
		Model:       c.client.Model(),
		Temperature: c.client.Temperature(),
		TopP:        c.client.TopP(),
	}
	for _, ch := range chapters {
		meta.Chapters = append(meta.Chapters, MetadataChapter{Title: ch.Title, File: filepath.Base(ch.File)})
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeFile(path, string(data))
}

// Ask sends one free-form question and saves the answer as markdown in dir.
func (c *Composer) Ask(ctx context.Context, question, dir string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question must not be empty")
	}
	answer, err := c.client.Complete(ctx, question)
	if err != nil {
		return "", fmt.Errorf("ask: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, Slug(question, DefaultSlugLength)+"_"+c.clock().Format("20060102_150405")+".md")
	if err := writeFile(path, answer.Text); err != nil {
		return "", err
	}
	return path, nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
