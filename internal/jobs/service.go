// Package jobs accepts compose and narrate requests over NATS and runs them
// one at a time.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/minibook/internal/book"
	"github.com/loqalabs/minibook/internal/bus"
	"github.com/loqalabs/minibook/internal/config"
	"github.com/loqalabs/minibook/internal/protocol"
	"github.com/loqalabs/minibook/internal/tts"
)

// ErrQueueFull is reported to callers when the job queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// Composer writes a minibook. *book.Composer satisfies it.
type Composer interface {
	Compose(ctx context.Context, req book.Request) (book.Result, error)
}

// Narrator synthesizes audio. *tts.Narrator satisfies it.
type Narrator interface {
	NarrateFolder(ctx context.Context, folder string) (tts.Summary, error)
	NarrateFile(ctx context.Context, path, output string) (tts.Outcome, error)
	NarrateText(ctx context.Context, text, output string) (tts.Outcome, error)
}

// The worker waits on accepted so a running status never precedes accepted.
type job struct {
	id       string
	kind     string
	compose  protocol.ComposeRequest
	narrate  protocol.NarrateRequest
	accepted chan struct{}
}

type Service struct {
	cfg      config.JobsConfig
	bus      *bus.Client
	composer Composer
	narrator Narrator
	queue    chan job
	subs     []*nats.Subscription
	pending  atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
	jobs     metric.Int64Counter
}

func NewService(parent context.Context, cfg config.JobsConfig, busClient *bus.Client, composer Composer, narrator Narrator, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		composer: composer,
		narrator: narrator,
		queue:    make(chan job, size),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "job-service")),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("minibook/jobs")
	counter, err := meter.Int64Counter("minibook_jobs_total", metric.WithDescription("Jobs finished, labelled by kind and state"))
	if err != nil {
		return err
	}
	s.jobs = counter
	gauge, err := meter.Int64ObservableGauge("minibook_jobs_queued", metric.WithDescription("Jobs waiting or running"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, s.pending.Load())
		return nil
	}, gauge)
	return err
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	composeSub, err := conn.Subscribe(protocol.SubjectComposeRequest, s.handleCompose)
	if err != nil {
		return fmt.Errorf("subscribe compose: %w", err)
	}
	s.subs = append(s.subs, composeSub)
	narrateSub, err := conn.Subscribe(protocol.SubjectNarrateRequest, s.handleNarrate)
	if err != nil {
		_ = composeSub.Drain()
		return fmt.Errorf("subscribe narrate: %w", err)
	}
	s.subs = append(s.subs, narrateSub)

	s.wg.Add(1)
	go s.run()
	s.logger.Info("job service started", slog.Int("queue_size", cap(s.queue)))
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) == 2 }

// Pending reports queued plus running jobs.
func (s *Service) Pending() int { return int(s.pending.Load()) }

func (s *Service) handleCompose(msg *nats.Msg) {
	var req protocol.ComposeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode compose request", slog.String("error", err.Error()))
		s.reply(msg, protocol.JobAck{Error: "invalid request: " + err.Error()})
		return
	}
	if req.Topic == "" {
		s.reply(msg, protocol.JobAck{Error: "topic must not be empty"})
		return
	}
	if err := book.ValidateInstructions(req.Instructions); err != nil {
		s.reply(msg, protocol.JobAck{Error: err.Error()})
		return
	}
	s.submit(msg, job{kind: "compose", compose: req})
}

func (s *Service) handleNarrate(msg *nats.Msg) {
	var req protocol.NarrateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode narrate request", slog.String("error", err.Error()))
		s.reply(msg, protocol.JobAck{Error: "invalid request: " + err.Error()})
		return
	}
	set := 0
	for _, v := range []string{req.Folder, req.File, req.Text} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		s.reply(msg, protocol.JobAck{Error: "exactly one of folder, file or text is required"})
		return
	}
	s.submit(msg, job{kind: "narrate", narrate: req})
}

func (s *Service) submit(msg *nats.Msg, j job) {
	j.id = uuid.NewString()
	j.accepted = make(chan struct{})
	defer close(j.accepted)
	s.pending.Add(1)
	select {
	case s.queue <- j:
	default:
		s.pending.Add(-1)
		s.logger.Warn("rejecting job", slog.String("kind", j.kind), slog.String("error", ErrQueueFull.Error()))
		s.reply(msg, protocol.JobAck{Error: ErrQueueFull.Error()})
		return
	}
	s.logger.Info("job accepted", slog.String("job_id", j.id), slog.String("kind", j.kind))
	s.publishStatus(protocol.JobStatus{JobID: j.id, Kind: j.kind, State: protocol.JobAccepted})
	s.reply(msg, protocol.JobAck{JobID: j.id, Accepted: true})
}

func (s *Service) reply(msg *nats.Msg, ack protocol.JobAck) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.logger.Warn("failed to marshal ack", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply", slog.String("error", err.Error()))
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.queue:
			<-j.accepted
			s.execute(j)
			s.pending.Add(-1)
		}
	}
}

func (s *Service) execute(j job) {
	ctx := s.ctx
	if s.cfg.TimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutS)*time.Second)
		defer cancel()
	}
	s.publishStatus(protocol.JobStatus{JobID: j.id, Kind: j.kind, State: protocol.JobRunning})

	var (
		status protocol.JobStatus
		err    error
	)
	switch j.kind {
	case "compose":
		status, err = s.runCompose(ctx, j.compose)
	case "narrate":
		status, err = s.runNarrate(ctx, j.narrate)
	default:
		err = fmt.Errorf("unknown job kind %q", j.kind)
	}
	status.JobID, status.Kind = j.id, j.kind
	status.State = protocol.JobCompleted
	if err != nil {
		status.State, status.Error = protocol.JobFailed, err.Error()
		s.logger.Error("job failed", slog.String("job_id", j.id), slog.String("kind", j.kind), slog.String("error", err.Error()))
	} else {
		s.logger.Info("job completed", slog.String("job_id", j.id), slog.String("kind", j.kind), slog.String("output", status.Output))
	}
	if s.jobs != nil {
		s.jobs.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
			attribute.String("kind", j.kind),
			attribute.String("state", status.State)))
	}
	s.publishStatus(status)
}

func (s *Service) runCompose(ctx context.Context, req protocol.ComposeRequest) (protocol.JobStatus, error) {
	res, err := s.composer.Compose(ctx, book.Request{
		Topic:                  req.Topic,
		Chapters:               req.Chapters,
		Instructions:           req.Instructions,
		AdditionalInstructions: req.AdditionalInstructions,
	})
	if err != nil {
		return protocol.JobStatus{RunID: res.RunID}, err
	}
	status := protocol.JobStatus{
		RunID:  res.RunID,
		Output: res.BookPath,
		Detail: fmt.Sprintf("%d chapters via %s", len(res.Chapters), res.Strategy),
	}
	if !req.Narrate {
		return status, nil
	}
	sum, err := s.narrator.NarrateFolder(ctx, res.ProjectDir)
	if err != nil {
		return status, fmt.Errorf("narrate %s: %w", res.ProjectDir, err)
	}
	status.Detail += fmt.Sprintf("; narrated %d, skipped %d, failed %d", sum.Processed, sum.Skipped, sum.Failed)
	return status, nil
}

func (s *Service) runNarrate(ctx context.Context, req protocol.NarrateRequest) (protocol.JobStatus, error) {
	switch {
	case req.Folder != "":
		sum, err := s.narrator.NarrateFolder(ctx, req.Folder)
		return protocol.JobStatus{
			RunID:  sum.RunID,
			Detail: fmt.Sprintf("narrated %d, skipped %d, failed %d", sum.Processed, sum.Skipped, sum.Failed),
		}, err
	case req.File != "":
		out, err := s.narrator.NarrateFile(ctx, req.File, req.Output)
		return protocol.JobStatus{Output: out.Path, Detail: out.Route.String()}, err
	default:
		out, err := s.narrator.NarrateText(ctx, req.Text, req.Output)
		return protocol.JobStatus{Output: out.Path, Detail: out.Route.String()}, err
	}
}

func (s *Service) publishStatus(status protocol.JobStatus) {
	status.Timestamp = time.Now().UTC()
	if err := s.bus.PublishJSON(protocol.SubjectJobStatus, status); err != nil {
		s.logger.Warn("failed to publish job status", slog.String("error", err.Error()))
	}
}
