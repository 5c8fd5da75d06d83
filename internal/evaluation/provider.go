package evaluation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ragscope/backend/internal/llm"
	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/pkg/logger"
	"github.com/ragscope/backend/pkg/utils"
)

var ErrUnparseableScore = errors.New("judge response has no 0-10 score")

// ScoreCache stores judge ratings and their reasons by request hash.
type ScoreCache interface {
	GetScore(ctx context.Context, key string) (score float64, reason string, ok bool, err error)
	SetScore(ctx context.Context, key string, score float64, reason string, ttl time.Duration) error
}

// LLMProvider asks a judge model for 0-10 ratings and normalizes them to
// [0, 1].
type LLMProvider struct {
	completer   llm.Completer
	model       string
	cache       ScoreCache
	cacheTTL    time.Duration
	concurrency int
}

type ProviderOption func(*LLMProvider)

func WithScoreCache(cache ScoreCache, ttl time.Duration) ProviderOption {
	return func(p *LLMProvider) {
		p.cache = cache
		p.cacheTTL = ttl
	}
}

func NewLLMProvider(completer llm.Completer, model string, opts ...ProviderOption) *LLMProvider {
	p := &LLMProvider{
		completer:   completer,
		model:       model,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var (
	contextRelevancePrompt = heredoc.Doc(`
		You are a RELEVANCE grader; providing the relevance of the given CONTEXT to the given QUESTION.
		Rate it on a scale from 0 to 10 where 0 is the least relevant and 10 is the most relevant.

		A few additional scoring guidelines:
		- Long CONTEXTS should score equally well as short CONTEXTS.
		- RELEVANCE score should increase as the CONTEXT provides more RELEVANT context to the QUESTION.
		- CONTEXT that is RELEVANT to some of the QUESTION should score 2, 3 or 4.
		- CONTEXT that is RELEVANT to most of the QUESTION should get a score of 5, 6, 7 or 8.
		- CONTEXT that is RELEVANT to the entire QUESTION should get a score of 9 or 10.

		QUESTION: %s

		CONTEXT: %s

		Answer in the format:
		Reasons: <one or two sentences>
		Score: <0-10>
	`)

	answerRelevancePrompt = heredoc.Doc(`
		You are a RELEVANCE grader; providing the relevance of the given RESPONSE to the given PROMPT.
		Rate it on a scale from 0 to 10 where 0 is the least relevant and 10 is the most relevant.

		A few additional scoring guidelines:
		- Long RESPONSES should score equally well as short RESPONSES.
		- Answers that intentionally do not answer the question, such as 'I don't know', should also be counted as the most relevant.
		- RESPONSE must be relevant to the entire PROMPT to get a score of 10.
		- RESPONSE that is RELEVANT to none of the PROMPT should get a score of 0.

		PROMPT: %s

		RESPONSE: %s

		Answer in the format:
		Reasons: <one or two sentences>
		Score: <0-10>
	`)

	groundednessPrompt = heredoc.Doc(`
		You are an INFORMATION OVERLAP classifier; determine whether the HYPOTHESIS is supported by the SOURCE.
		Score 10 if the SOURCE fully supports the HYPOTHESIS, 0 if it does not support it at all.
		Quote the part of the SOURCE that supports the HYPOTHESIS, or say NOTHING FOUND.

		SOURCE: %s

		HYPOTHESIS: %s

		Answer in the format:
		Supporting Evidence: <quote or NOTHING FOUND>
		Score: <0-10>
	`)
)

// ContextRelevance satisfies the guardrail scorer.
func (p *LLMProvider) ContextRelevance(ctx context.Context, question, chunk string) (float64, error) {
	score, _, err := p.ContextRelevanceWithReason(ctx, question, chunk)
	return score, err
}

func (p *LLMProvider) ContextRelevanceWithReason(ctx context.Context, question, chunk string) (float64, string, error) {
	return p.rate(ctx, "context_relevance", fmt.Sprintf(contextRelevancePrompt, question, chunk), question, chunk)
}

func (p *LLMProvider) RelevanceWithReason(ctx context.Context, prompt, response string) (float64, string, error) {
	return p.rate(ctx, "answer_relevance", fmt.Sprintf(answerRelevancePrompt, prompt, response), prompt, response)
}

// GroundednessWithReasons rates every sentence of statement against source
// and returns their mean with the per-sentence evidence.
func (p *LLMProvider) GroundednessWithReasons(ctx context.Context, source, statement string) (float64, map[string]any, error) {
	sentences, err := splitSentences(statement)
	if err != nil {
		return 0, nil, err
	}
	if len(sentences) == 0 {
		return 0, nil, ErrNoScores
	}

	scores := make([]float64, len(sentences))
	reasons := make([]map[string]any, len(sentences))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, sentence := range sentences {
		i, sentence := i, sentence
		g.Go(func() error {
			score, reason, err := p.rate(gctx, "groundedness", fmt.Sprintf(groundednessPrompt, source, sentence), source, sentence)
			if err != nil {
				return err
			}
			scores[i] = score
			reasons[i] = map[string]any{
				"statement": sentence,
				"evidence":  reason,
				"score":     score,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	mean, err := Mean(scores)
	if err != nil {
		return 0, nil, err
	}
	return mean, map[string]any{"reasons": reasons}, nil
}

func (p *LLMProvider) rate(ctx context.Context, kind, prompt string, parts ...string) (float64, string, error) {
	key := ""
	if p.cache != nil {
		key = "judge:" + kind + ":" + utils.HashParts(append([]string{p.model}, parts...)...)
		score, reason, ok, err := p.cache.GetScore(ctx, key)
		if err != nil {
			logger.Warn("Score cache read failed", zap.String("kind", kind), zap.Error(err))
		}
		if ok {
			metrics.CacheHits.WithLabelValues("judge_score").Inc()
			return score, reason, nil
		}
		metrics.CacheMisses.WithLabelValues("judge_score").Inc()
	}

	completion, err := p.completer.Complete(ctx, p.model, prompt)
	if err != nil {
		return 0, "", fmt.Errorf("failed to rate %s: %w", kind, err)
	}

	score, err := parseRating(completion)
	if err != nil {
		logger.Warn("Judge response not scored",
			zap.String("kind", kind),
			zap.String("response", utils.Truncate(completion, 200)),
		)
		return 0, "", fmt.Errorf("failed to rate %s: %w", kind, err)
	}
	reason := parseReason(completion)

	if p.cache != nil {
		if err := p.cache.SetScore(ctx, key, score, reason, p.cacheTTL); err != nil {
			logger.Warn("Score cache write failed", zap.String("kind", kind), zap.Error(err))
		}
	}

	logger.Debug("Judge rating",
		zap.String("kind", kind),
		zap.String("model", p.model),
		zap.Float64("score", score),
	)

	return score, reason, nil
}

var (
	scoreLine    = regexp.MustCompile(`(?i)score\s*[:=]\s*(\d+(?:\.\d+)?)`)
	anyNumber    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	reasonPrefix = regexp.MustCompile(`(?i)^\s*(reasons?|supporting evidence|criteria)\s*:\s*`)
)

// parseRating reads a 0-10 rating and normalizes it to [0, 1]. When a
// "Score: N" line is present it is the only candidate; otherwise the first
// number in range is used.
func parseRating(text string) (float64, error) {
	if m := scoreLine.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < 0 || v > 10 {
			return 0, ErrUnparseableScore
		}
		return v / 10, nil
	}
	for _, n := range anyNumber.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(n, 64)
		if err != nil {
			continue
		}
		if v >= 0 && v <= 10 {
			return v / 10, nil
		}
	}
	return 0, ErrUnparseableScore
}

// parseReason returns the judge's explanation without the score line.
func parseReason(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if scoreLine.MatchString(line) {
			continue
		}
		line = reasonPrefix.ReplaceAllString(line, "")
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return utils.Truncate(strings.Join(lines, " "), 500)
}

func splitSentences(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to segment statement: %w", err)
	}

	var sentences []string
	for _, s := range doc.Sentences() {
		if t := strings.TrimSpace(s.Text); t != "" {
			sentences = append(sentences, t)
		}
	}
	return sentences, nil
}
