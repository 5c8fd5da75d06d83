package evaluation

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ragscope/backend/internal/llm"
)

func TestParseRating(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    float64
		wantErr bool
	}{
		{"score line", "Reasons: covers the question.\nScore: 8", 0.8, false},
		{"score line lowercase", "score=10", 1.0, false},
		{"bare number", "7", 0.7, false},
		{"first in range", "Out of 100 I'd give 9", 0.9, false},
		{"decimal", "Score: 7.5", 0.75, false},
		{"none", "I cannot rate this.", 0, true},
		{"score line out of range", "Supporting Evidence: set port 8501 in step 1\nScore: 85", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRating(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrUnparseableScore) {
					t.Fatalf("expected ErrUnparseableScore, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRating failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestParseReason(t *testing.T) {
	got := parseReason("Reasons: The context explains the run command.\nScore: 9")
	if got != "The context explains the run command." {
		t.Errorf("unexpected reason %q", got)
	}
}

type cachedScore struct {
	score  float64
	reason string
}

type memoryCache struct {
	mu     sync.Mutex
	scores map[string]cachedScore
}

func (m *memoryCache) GetScore(_ context.Context, key string) (float64, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.scores[key]
	return v.score, v.reason, ok, nil
}

func (m *memoryCache) SetScore(_ context.Context, key string, score float64, reason string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[key] = cachedScore{score: score, reason: reason}
	return nil
}

func TestProviderUsesScoreCache(t *testing.T) {
	var calls int
	judge := llm.Func(func(_ context.Context, model, prompt string) (string, error) {
		calls++
		if model != "llama3.1-8b" {
			t.Errorf("unexpected judge model %s", model)
		}
		return "Reasons: relevant.\nScore: 9", nil
	})
	p := NewLLMProvider(judge, "llama3.1-8b", WithScoreCache(&memoryCache{scores: map[string]cachedScore{}}, time.Hour))

	for i := 0; i < 2; i++ {
		got, reason, err := p.ContextRelevanceWithReason(context.Background(), "How do I launch a streamlit app?", "streamlit run app.py")
		if err != nil {
			t.Fatalf("ContextRelevanceWithReason failed: %v", err)
		}
		if math.Abs(got-0.9) > 1e-9 {
			t.Errorf("expected 0.9, got %f", got)
		}
		if reason != "relevant." {
			t.Errorf("call %d: expected reason %q, got %q", i, "relevant.", reason)
		}
	}

	if calls != 1 {
		t.Errorf("expected one judge call with cache, got %d", calls)
	}
}

func TestProviderPropagatesJudgeError(t *testing.T) {
	boom := errors.New("warehouse suspended")
	p := NewLLMProvider(llm.Func(func(context.Context, string, string) (string, error) {
		return "", boom
	}), "llama3.1-8b")

	if _, _, err := p.RelevanceWithReason(context.Background(), "q", "a"); !errors.Is(err, boom) {
		t.Fatalf("expected judge error, got %v", err)
	}
}

func TestGroundednessAveragesSentences(t *testing.T) {
	judge := llm.Func(func(_ context.Context, _ string, prompt string) (string, error) {
		if strings.Contains(prompt, "HYPOTHESIS: Streamlit apps start from the command line.") {
			return "Supporting Evidence: use streamlit run\nScore: 10", nil
		}
		return "Supporting Evidence: NOTHING FOUND\nScore: 4", nil
	})
	p := NewLLMProvider(judge, "llama3.1-8b")

	got, meta, err := p.GroundednessWithReasons(context.Background(),
		"Launch an app with streamlit run your_script.py.",
		"Streamlit apps start from the command line. The server always listens on port 80.",
	)
	if err != nil {
		t.Fatalf("GroundednessWithReasons failed: %v", err)
	}
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("expected 0.7, got %f", got)
	}

	reasons, ok := meta["reasons"].([]map[string]any)
	if !ok || len(reasons) != 2 {
		t.Fatalf("expected 2 sentence reasons, got %#v", meta["reasons"])
	}
	if reasons[1]["evidence"] != "NOTHING FOUND" {
		t.Errorf("unexpected evidence %v", reasons[1]["evidence"])
	}
}

func TestGroundednessEmptyStatement(t *testing.T) {
	p := NewLLMProvider(llm.Func(func(context.Context, string, string) (string, error) {
		t.Error("judge should not be called")
		return "", nil
	}), "llama3.1-8b")

	if _, _, err := p.GroundednessWithReasons(context.Background(), "src", "  "); !errors.Is(err, ErrNoScores) {
		t.Fatalf("expected ErrNoScores, got %v", err)
	}
}

func TestDefaultsOrderAndNames(t *testing.T) {
	fbs := Defaults(NewLLMProvider(llm.Func(func(context.Context, string, string) (string, error) {
		return "Score: 5", nil
	}), "m"))

	want := []string{NameContextRelevance, NameAnswerRelevance, NameGroundedness}
	if len(fbs) != len(want) {
		t.Fatalf("expected %d feedbacks, got %d", len(want), len(fbs))
	}
	for i, fb := range fbs {
		if fb.Name != want[i] {
			t.Errorf("feedback %d: expected %s, got %s", i, want[i], fb.Name)
		}
	}

	res := Evaluate(context.Background(), fbs[1], testRecord([]string{"a"}))
	if res.Score == nil || math.Abs(*res.Score-0.5) > 1e-9 {
		t.Errorf("expected answer relevance 0.5, got %v", res.Score)
	}
}
