package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/loqalabs/minibook/internal/book"
	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/eventstore"
	"github.com/loqalabs/minibook/internal/logging"
	"github.com/loqalabs/minibook/internal/narration"
	"github.com/loqalabs/minibook/internal/runtime"
)

var version = "0.1.0-dev"

const usage = "expected one of: compose, narrate, ask, rules, runs, version"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "compose":
		err = runCompose(ctx, os.Args[2:])
	case "narrate":
		err = runNarrate(ctx, os.Args[2:])
	case "ask":
		err = runAsk(ctx, os.Args[2:])
	case "rules":
		err = runRules(os.Args[2:], os.Stdout)
	case "runs":
		err = runRuns(ctx, os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is the state every pipeline command shares.
type session struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *eventstore.Store
	pipelines *runtime.Pipelines
}

func openSession(ctx context.Context, configPath string) (*session, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.Telemetry.LogLevel, "text")
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		logger.Warn("run ledger unavailable", slog.String("error", err.Error()))
		store = nil
	}
	p, err := runtime.NewPipelines(ctx, cfg, store, logger)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, store: store, pipelines: p}, nil
}

func (s *session) Close() {
	if err := s.pipelines.Close(); err != nil {
		s.logger.Warn("pipeline close error", slog.String("error", err.Error()))
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// configFlag points at minibook.yaml only when it exists, so the CLI runs on
// defaults and environment variables alone.
func configFlag(fs *flag.FlagSet) *string {
	def := ""
	if _, err := os.Stat("minibook.yaml"); err == nil {
		def = "minibook.yaml"
	}
	return fs.String("config", def, "Path to configuration file")
}

func runCompose(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compose", flag.ExitOnError)
	configPath := configFlag(fs)
	chapters := fs.Int("chapters", 0, "Base chapter count (default from config)")
	instructions := fs.String("instructions", "", "Comma-separated instruction templates")
	additional := fs.String("additional", "", "Free-form additional instructions")
	narrate := fs.Bool("narrate", false, "Narrate the chapters after composing")
	_ = fs.Parse(args)

	topic := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if topic == "" {
		return errors.New("usage: minibook compose [flags] <topic>")
	}

	s, err := openSession(ctx, *configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.pipelines.Composer.Compose(ctx, book.Request{
		Topic:                  topic,
		Chapters:               *chapters,
		Instructions:           splitList(*instructions),
		AdditionalInstructions: *additional,
	})
	if err != nil {
		return err
	}
	fmt.Printf("minibook written to %s (%d chapters via %s)\n", res.BookPath, len(res.Chapters), res.Strategy)

	if *narrate {
		sum, err := s.pipelines.Narrator.NarrateFolder(ctx, res.ProjectDir)
		if err != nil {
			return err
		}
		fmt.Printf("narrated %d, skipped %d, failed %d\n", sum.Processed, sum.Skipped, sum.Failed)
	}
	return nil
}

func runNarrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("narrate", flag.ExitOnError)
	configPath := configFlag(fs)
	folder := fs.String("folder", "", "Project folder whose chapters/ should be narrated")
	file := fs.String("file", "", "Single markdown or text file to narrate")
	text := fs.String("text", "", "Literal text to narrate")
	output := fs.String("output", "", "Output filename for -file or -text")
	_ = fs.Parse(args)

	set := 0
	for _, v := range []string{*folder, *file, *text} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("narrate needs exactly one of -folder, -file or -text")
	}

	s, err := openSession(ctx, *configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	n := s.pipelines.Narrator
	switch {
	case *folder != "":
		sum, err := n.NarrateFolder(ctx, *folder)
		if err != nil {
			return err
		}
		fmt.Printf("narrated %d, skipped %d, failed %d\n", sum.Processed, sum.Skipped, sum.Failed)
		return nil
	case *file != "":
		out, err := n.NarrateFile(ctx, *file, *output)
		if err != nil {
			return err
		}
		fmt.Println(out.Path)
		return nil
	default:
		out, err := n.NarrateText(ctx, *text, *output)
		if err != nil {
			return err
		}
		fmt.Println(out.Path)
		return nil
	}
}

func runAsk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := configFlag(fs)
	dir := fs.String("dir", ".", "Directory for the saved answer")
	_ = fs.Parse(args)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("usage: minibook ask [flags] <question>")
	}
	s, err := openSession(ctx, *configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	path, err := s.pipelines.Composer.Ask(ctx, question, *dir)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runRules(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	path := fs.String("file", "configs/markdown_rules.json", "Path to a rule file")
	_ = fs.Parse(args)

	rules, problems, err := narration.LoadRules(*path)
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintf(w, "skipped: %v\n", p)
	}
	fmt.Fprintf(w, "%d rules loaded from %s\n", len(rules), *path)
	if len(problems) > 0 {
		return fmt.Errorf("%d invalid rules", len(problems))
	}
	return nil
}

func runRuns(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := configFlag(fs)
	limit := fs.Int("limit", 20, "Number of runs to list")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Telemetry.LogLevel, "text")
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-8s %-10s %s  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Kind, r.Status, r.Subject, r.Detail)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
