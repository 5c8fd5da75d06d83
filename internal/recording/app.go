// Package recording wraps a RAG app so every query produces a persisted
// record that feedback functions are later run against.
package recording

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/internal/trace"
	"github.com/ragscope/backend/pkg/logger"
)

type Queryer interface {
	Query(ctx context.Context, text string) (string, error)
}

type RecordStore interface {
	InsertRecord(ctx context.Context, record *models.Record) error
}

// Scheduler queues a record for post-hoc feedback evaluation.
type Scheduler interface {
	Submit(ctx context.Context, rec *models.Record) error
}

type EventPublisher interface {
	PublishRecord(ctx context.Context, rec *models.Record) error
}

// App is an app ID bound to the pipeline it records. Feedbacks and Events
// are optional.
type App struct {
	ID        string
	Queryer   Queryer
	Store     RecordStore
	Feedbacks Scheduler
	Events    EventPublisher
}

// Record runs one query under a fresh recording. The record is returned
// even when the query fails; it is persisted before feedback is scheduled.
func (a *App) Record(ctx context.Context, text string) (*models.Record, error) {
	start := time.Now()
	qctx, rec := trace.Start(ctx, a.ID)

	output, queryErr := a.Queryer.Query(qctx, text)
	record := rec.Finish(text, output, queryErr)

	status := "ok"
	if queryErr != nil {
		status = "error"
	}
	metrics.QueryTotal.WithLabelValues(a.ID, status).Inc()
	metrics.QueryDuration.WithLabelValues(a.ID).Observe(time.Since(start).Seconds())

	if err := a.Store.InsertRecord(ctx, record); err != nil {
		return record, fmt.Errorf("failed to store record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("record_id", record.ID),
		zap.String("app_id", a.ID),
		zap.Int("calls", len(record.Calls)),
		zap.Duration("latency", record.Latency()),
		zap.String("status", status),
	)

	if a.Events != nil {
		if err := a.Events.PublishRecord(ctx, record); err != nil {
			logger.Warn("Failed to publish record event",
				zap.String("record_id", record.ID),
				zap.Error(err),
			)
		}
	}

	if a.Feedbacks != nil {
		if err := a.Feedbacks.Submit(ctx, record); err != nil {
			logger.Warn("Failed to schedule feedback",
				zap.String("record_id", record.ID),
				zap.Error(err),
			)
		}
	}

	if queryErr != nil {
		return record, fmt.Errorf("query failed: %w", queryErr)
	}
	return record, nil
}
