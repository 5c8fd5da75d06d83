// Package retrieval fetches the document chunks most relevant to a query
// from an external search service.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/pkg/logger"
)

// DefaultLimit is the number of chunks returned per query.
const DefaultLimit = 4

// SearchService runs one similarity search and returns chunk texts ranked by
// the service.
type SearchService interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Backend() string
}

type Retriever struct {
	svc   SearchService
	limit int
}

func NewRetriever(svc SearchService, limit int) *Retriever {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Retriever{svc: svc, limit: limit}
}

// Retrieve returns at most limit chunks in service rank order. An empty
// result is an empty, non-nil slice.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	chunks, err := r.svc.Search(ctx, query, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", r.svc.Backend(), err)
	}

	if len(chunks) > r.limit {
		chunks = chunks[:r.limit]
	}
	out := make([]string, len(chunks))
	copy(out, chunks)

	metrics.RetrievedChunks.WithLabelValues(r.svc.Backend()).Observe(float64(len(out)))
	logger.Debug("Context retrieved",
		zap.String("backend", r.svc.Backend()),
		zap.Int("limit", r.limit),
		zap.Int("chunks", len(out)),
	)

	return out, nil
}
