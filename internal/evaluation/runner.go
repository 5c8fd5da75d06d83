package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/logger"
)

var (
	ErrQueueFull     = errors.New("feedback queue is full")
	ErrRunnerStopped = errors.New("feedback runner stopped")
)

type ResultStore interface {
	InsertFeedbackResult(ctx context.Context, result *models.FeedbackResult) error
}

// ResultSink receives every final feedback result, e.g. an event stream.
type ResultSink interface {
	PublishFeedback(ctx context.Context, result *models.FeedbackResult) error
}

type RunnerConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Runner evaluates recorded queries after the response has been returned,
// on a fixed number of worker goroutines.
type Runner struct {
	cfg       RunnerConfig
	feedbacks []Feedback
	store     ResultStore
	hub       *Hub
	sink      ResultSink

	jobs chan *models.Record
	wg   sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewRunner builds a runner. hub and sink may be nil.
func NewRunner(cfg RunnerConfig, feedbacks []Feedback, store ResultStore, hub *Hub, sink ResultSink) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Runner{
		cfg:       cfg,
		feedbacks: feedbacks,
		store:     store,
		hub:       hub,
		sink:      sink,
		jobs:      make(chan *models.Record, cfg.QueueSize),
	}
}

func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	logger.Info("Feedback runner started",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("queue_size", r.cfg.QueueSize),
		zap.Strings("feedbacks", r.Names()),
	)
}

func (r *Runner) Names() []string {
	names := make([]string, len(r.feedbacks))
	for i, fb := range r.feedbacks {
		names[i] = fb.Name
	}
	return names
}

// Submit stores a pending result per feedback and queues rec. It never
// blocks on a full queue.
func (r *Runner) Submit(ctx context.Context, rec *models.Record) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return ErrRunnerStopped
	}

	for _, fb := range r.feedbacks {
		if err := r.store.InsertFeedbackResult(ctx, Pending(fb, rec)); err != nil {
			return fmt.Errorf("failed to store pending feedback: %w", err)
		}
	}

	select {
	case r.jobs <- rec:
		metrics.FeedbackQueueDepth.Set(float64(len(r.jobs)))
		return nil
	default:
		for _, fb := range r.feedbacks {
			res := Pending(fb, rec)
			res.Status = models.FeedbackFailed
			res.Error = ErrQueueFull.Error()
			r.finish(ctx, res)
		}
		return ErrQueueFull
	}
}

// Shutdown stops accepting records and waits for queued ones to finish.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Feedback runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("feedback runner shutdown: %w", ctx.Err())
	}
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	for rec := range r.jobs {
		metrics.FeedbackQueueDepth.Set(float64(len(r.jobs)))
		r.evaluateRecord(rec)
	}
	logger.Debug("Feedback worker exiting", zap.Int("worker", id))
}

func (r *Runner) evaluateRecord(rec *models.Record) {
	for _, fb := range r.feedbacks {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		res := Evaluate(ctx, fb, rec)
		r.finish(ctx, res)
		cancel()
	}
}

func (r *Runner) finish(ctx context.Context, res *models.FeedbackResult) {
	metrics.FeedbackTotal.WithLabelValues(res.Name, string(res.Status)).Inc()
	if res.Score != nil {
		metrics.FeedbackScore.WithLabelValues(res.AppID, res.Name).Observe(*res.Score)
	}

	fields := []zap.Field{
		zap.String("record_id", res.RecordID),
		zap.String("app_id", res.AppID),
		zap.String("feedback", res.Name),
		zap.String("status", string(res.Status)),
	}
	if res.Score != nil {
		fields = append(fields, zap.Float64("score", *res.Score))
	}
	if res.Error != "" {
		fields = append(fields, zap.String("error", res.Error))
	}
	logger.Info("Feedback evaluated", fields...)

	// A fresh context so a timed-out evaluation is still persisted.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.store.InsertFeedbackResult(storeCtx, res); err != nil {
		logger.Error("Failed to store feedback result", append(fields, zap.Error(err))...)
	}
	if r.hub != nil {
		r.hub.Publish(*res)
	}
	if r.sink != nil {
		if err := r.sink.PublishFeedback(storeCtx, res); err != nil {
			logger.Warn("Failed to publish feedback event", append(fields, zap.Error(err))...)
		}
	}
}
