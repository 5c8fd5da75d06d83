package guardrail

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mapScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	fail   map[string]error
	seen   []string
}

func (m *mapScorer) ContextRelevance(_ context.Context, _ string, chunk string) (float64, error) {
	m.mu.Lock()
	m.seen = append(m.seen, chunk)
	m.mu.Unlock()

	if err := m.fail[chunk]; err != nil {
		return 0, err
	}
	return m.scores[chunk], nil
}

func TestFilterKeepsChunksAtOrAboveThreshold(t *testing.T) {
	scorer := &mapScorer{scores: map[string]float64{
		"a": 0.9,
		"b": 0.2,
		"c": Threshold,
		"d": 0.74,
		"e": 1.0,
	}}
	f := NewContextFilter(scorer)

	in := []string{"a", "b", "c", "d", "e"}
	got, err := f.Filter(context.Background(), "q", in)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	if diff := cmp.Diff([]string{"a", "c", "e"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if len(scorer.seen) != len(in) {
		t.Errorf("expected every chunk scored once, got %d calls", len(scorer.seen))
	}
}

func TestFilterResultIsOrderedSubset(t *testing.T) {
	scores := []float64{0.1, 0.8, 0.75, 0.3, 0.99, 0.0, 0.76}
	scorer := &mapScorer{scores: map[string]float64{}}
	in := make([]string, len(scores))
	for i, s := range scores {
		chunk := string(rune('a' + i))
		in[i] = chunk
		scorer.scores[chunk] = s
	}

	got, err := NewContextFilter(scorer).Filter(context.Background(), "q", in)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	pos := -1
	for _, chunk := range got {
		idx := indexOf(in, chunk)
		if idx < 0 {
			t.Fatalf("chunk %q not in input", chunk)
		}
		if idx <= pos {
			t.Fatalf("chunk %q out of order", chunk)
		}
		pos = idx
		if scorer.scores[chunk] < Threshold {
			t.Errorf("chunk %q kept with score %.2f", chunk, scorer.scores[chunk])
		}
	}
}

func TestFilterEmptyInput(t *testing.T) {
	got, err := NewContextFilter(&mapScorer{}).Filter(context.Background(), "q", []string{})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFilterScoringErrorAborts(t *testing.T) {
	boom := errors.New("judge unavailable")
	scorer := &mapScorer{
		scores: map[string]float64{"a": 1},
		fail:   map[string]error{"b": boom},
	}

	got, err := NewContextFilter(scorer).Filter(context.Background(), "q", []string{"a", "b"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected scoring error, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil result on error, got %v", got)
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
