// Package evaluation scores recorded queries with feedback functions.
//
// A Feedback selects argument sets out of a record, scores each set with a
// judge model and aggregates the scores into one result per record.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/utils"
)

const (
	MethodRetrieveContext    = "retrieve_context"
	MethodGenerateCompletion = "generate_completion"
)

var ErrNoScores = errors.New("no scores to aggregate")

// Args are the named inputs of one scoring call.
type Args map[string]string

// Score is one judge rating in [0, 1] with optional explanation metadata.
type Score struct {
	Value float64
	Meta  map[string]any
}

type Selector func(rec *models.Record) []Args

type ScoreFunc func(ctx context.Context, args Args) (Score, error)

type AggregateFunc func(scores []float64) (float64, error)

type Feedback struct {
	Name      string
	Selector  Selector
	Score     ScoreFunc
	Aggregate AggregateFunc
}

// Mean is the arithmetic mean. It refuses an empty set.
func Mean(scores []float64) (float64, error) {
	if len(scores) == 0 {
		return 0, ErrNoScores
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores)), nil
}

// ResultID is stable per record and feedback so a pending result can be
// replaced by its final value.
func ResultID(recordID, name string) string {
	return "feedback_result_hash_" + utils.HashParts(recordID, name)
}

// Evaluate runs fb over rec. Scoring errors produce a failed result rather
// than an error; an empty selection produces a skipped result.
func Evaluate(ctx context.Context, fb Feedback, rec *models.Record) *models.FeedbackResult {
	result := &models.FeedbackResult{
		ID:        ResultID(rec.ID, fb.Name),
		RecordID:  rec.ID,
		AppID:     rec.AppID,
		Name:      fb.Name,
		CreatedAt: time.Now(),
	}

	selections := fb.Selector(rec)
	if len(selections) == 0 {
		result.Status = models.FeedbackSkipped
		result.Error = "nothing selected to score"
		return result
	}

	scores := make([]float64, 0, len(selections))
	calls := make([]models.FeedbackCall, 0, len(selections))
	for _, args := range selections {
		s, err := fb.Score(ctx, args)
		if errors.Is(err, ErrNoScores) {
			continue
		}
		if err != nil {
			result.Status = models.FeedbackFailed
			result.Error = err.Error()
			result.Calls = calls
			return result
		}
		scores = append(scores, s.Value)
		calls = append(calls, models.FeedbackCall{Args: args, Score: s.Value, Meta: s.Meta})
	}
	result.Calls = calls

	agg := fb.Aggregate
	if agg == nil {
		agg = Mean
	}
	value, err := agg(scores)
	if errors.Is(err, ErrNoScores) {
		result.Status = models.FeedbackSkipped
		return result
	}
	if err != nil {
		result.Status = models.FeedbackFailed
		result.Error = fmt.Sprintf("failed to aggregate: %v", err)
		return result
	}

	result.Status = models.FeedbackDone
	result.Score = &value
	return result
}

// Pending returns the placeholder result stored before fb runs.
func Pending(fb Feedback, rec *models.Record) *models.FeedbackResult {
	return &models.FeedbackResult{
		ID:        ResultID(rec.ID, fb.Name),
		RecordID:  rec.ID,
		AppID:     rec.AppID,
		Name:      fb.Name,
		Status:    models.FeedbackPending,
		CreatedAt: time.Now(),
	}
}

// contextChunks returns every chunk returned by the record's retrieval calls.
// Records read back from storage carry []any instead of []string.
func contextChunks(rec *models.Record) []string {
	var chunks []string
	for _, call := range rec.CallsTo(MethodRetrieveContext) {
		switch rets := call.Rets.(type) {
		case []string:
			chunks = append(chunks, rets...)
		case []any:
			for _, r := range rets {
				if s, ok := r.(string); ok {
					chunks = append(chunks, s)
				}
			}
		}
	}
	return chunks
}

// InputWithEachContext selects (question, context) once per retrieved chunk.
func InputWithEachContext(rec *models.Record) []Args {
	chunks := contextChunks(rec)
	out := make([]Args, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Args{"question": rec.MainInput, "context": c})
	}
	return out
}

// CollectedContextWithOutput selects the retrieved chunks joined into one
// source together with the main output.
func CollectedContextWithOutput(rec *models.Record) []Args {
	chunks := contextChunks(rec)
	if len(chunks) == 0 || rec.Error != "" {
		return nil
	}
	return []Args{{"source": strings.Join(chunks, "\n\n"), "statement": rec.MainOutput}}
}

// InputWithOutput selects the main input and output.
func InputWithOutput(rec *models.Record) []Args {
	if rec.Error != "" {
		return nil
	}
	return []Args{{"prompt": rec.MainInput, "response": rec.MainOutput}}
}

const (
	NameGroundedness     = "Groundedness"
	NameContextRelevance = "Context Relevance"
	NameAnswerRelevance  = "Answer Relevance"
)

// Defaults are the feedbacks attached to both apps, in display order.
func Defaults(p *LLMProvider) []Feedback {
	return []Feedback{
		{
			Name:     NameContextRelevance,
			Selector: InputWithEachContext,
			Score: func(ctx context.Context, a Args) (Score, error) {
				v, reason, err := p.ContextRelevanceWithReason(ctx, a["question"], a["context"])
				return Score{Value: v, Meta: reasonMeta(reason)}, err
			},
			Aggregate: Mean,
		},
		{
			Name:     NameAnswerRelevance,
			Selector: InputWithOutput,
			Score: func(ctx context.Context, a Args) (Score, error) {
				v, reason, err := p.RelevanceWithReason(ctx, a["prompt"], a["response"])
				return Score{Value: v, Meta: reasonMeta(reason)}, err
			},
			Aggregate: Mean,
		},
		{
			Name:     NameGroundedness,
			Selector: CollectedContextWithOutput,
			Score: func(ctx context.Context, a Args) (Score, error) {
				v, meta, err := p.GroundednessWithReasons(ctx, a["source"], a["statement"])
				return Score{Value: v, Meta: meta}, err
			},
			Aggregate: Mean,
		},
	}
}

func reasonMeta(reason string) map[string]any {
	if reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}
