// Package guardrail drops retrieved context a judge model scores as
// irrelevant to the query before it reaches the completion step.
package guardrail

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/pkg/logger"
)

// Threshold is the minimum relevance score a chunk needs to be kept.
const Threshold = 0.75

// RelevanceScorer rates how relevant a context chunk is to a question, in
// [0, 1].
type RelevanceScorer interface {
	ContextRelevance(ctx context.Context, question, chunk string) (float64, error)
}

type ContextFilter struct {
	scorer RelevanceScorer
}

func NewContextFilter(scorer RelevanceScorer) *ContextFilter {
	return &ContextFilter{scorer: scorer}
}

// Filter scores every chunk concurrently and returns those scoring at least
// Threshold, in their original order. Any scoring error fails the call.
func (f *ContextFilter) Filter(ctx context.Context, query string, chunks []string) ([]string, error) {
	scores := make([]float64, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			score, err := f.scorer.ContextRelevance(gctx, query, chunk)
			if err != nil {
				return fmt.Errorf("failed to score chunk %d: %w", i, err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if scores[i] >= Threshold {
			kept = append(kept, chunk)
		}
	}

	dropped := len(chunks) - len(kept)
	metrics.GuardrailKept.Add(float64(len(kept)))
	metrics.GuardrailDropped.Add(float64(dropped))

	logger.Debug("Context filtered",
		zap.Int("retrieved", len(chunks)),
		zap.Int("kept", len(kept)),
		zap.Int("dropped", dropped),
		zap.Float64s("scores", scores),
	)

	return kept, nil
}
