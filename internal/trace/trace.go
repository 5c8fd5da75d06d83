// Package trace records the calls an app makes while answering one query.
//
// A Recording is attached to a context with Start. Instrument wraps a method
// body: when the context carries a recording, the call's arguments, return
// value, error and timing are appended to it. Without a recording the body
// runs unobserved.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/logger"
)

type recordingKey struct{}

// Recording collects the calls of a single query. It belongs to one query at
// a time and is not reentrant.
type Recording struct {
	appID string
	id    string
	start time.Time
	now   func() time.Time

	mu     sync.Mutex
	calls  []models.Call
	closed bool
}

// Start attaches a new recording for appID to ctx.
func Start(ctx context.Context, appID string) (context.Context, *Recording) {
	return startWithClock(ctx, appID, time.Now)
}

func startWithClock(ctx context.Context, appID string, now func() time.Time) (context.Context, *Recording) {
	rec := &Recording{
		appID: appID,
		id:    "record_hash_" + uuid.NewString(),
		start: now(),
		now:   now,
	}
	return context.WithValue(ctx, recordingKey{}, rec), rec
}

// FromContext returns the active recording, if any.
func FromContext(ctx context.Context) (*Recording, bool) {
	rec, ok := ctx.Value(recordingKey{}).(*Recording)
	return rec, ok
}

func (r *Recording) ID() string { return r.id }

func (r *Recording) add(call models.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		logger.Warn("Call recorded after recording closed",
			zap.String("record_id", r.id),
			zap.String("method", call.Method),
		)
		return
	}
	r.calls = append(r.calls, call)
}

// Finish closes the recording and returns the record for the query.
// Later calls to Instrument on the same context are dropped.
func (r *Recording) Finish(input, output string, queryErr error) *models.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	calls := make([]models.Call, len(r.calls))
	copy(calls, r.calls)

	rec := &models.Record{
		ID:         r.id,
		AppID:      r.appID,
		MainInput:  input,
		MainOutput: output,
		Calls:      calls,
		StartTime:  r.start,
		EndTime:    r.now(),
	}
	if queryErr != nil {
		rec.Error = queryErr.Error()
	}
	return rec
}

// Instrument runs fn as the named method and records it on the context's
// recording.
func Instrument[T any](ctx context.Context, method string, args map[string]any, fn func(context.Context) (T, error)) (T, error) {
	rec, ok := FromContext(ctx)
	if !ok {
		return fn(ctx)
	}

	start := rec.now()
	out, err := fn(ctx)
	call := models.Call{
		Method:    method,
		Args:      args,
		Rets:      out,
		StartTime: start,
		EndTime:   rec.now(),
	}
	if err != nil {
		call.Error = err.Error()
		call.Rets = nil
	}
	rec.add(call)

	logger.Debug("Instrumented call",
		zap.String("record_id", rec.id),
		zap.String("method", method),
		zap.Duration("latency", call.Latency()),
		zap.Bool("failed", err != nil),
	)

	return out, err
}
