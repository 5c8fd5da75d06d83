package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ragscope/backend/internal/vector/milvus"
)

type fakeSearch struct {
	chunks    []string
	err       error
	gotQuery  string
	gotLimit  int
	callCount int
}

func (f *fakeSearch) Backend() string { return "fake" }

func (f *fakeSearch) Search(_ context.Context, query string, limit int) ([]string, error) {
	f.callCount++
	f.gotQuery = query
	f.gotLimit = limit
	return f.chunks, f.err
}

func chunks(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("chunk %d", i)
	}
	return out
}

func TestRetrieveNeverExceedsLimit(t *testing.T) {
	tests := []struct {
		name      string
		available int
		want      int
	}{
		{"empty", 0, 0},
		{"fewer than limit", 2, 2},
		{"exactly limit", DefaultLimit, DefaultLimit},
		{"service over-returns", 9, DefaultLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSearch{chunks: chunks(tt.available)}
			r := NewRetriever(svc, 0)

			got, err := r.Retrieve(context.Background(), "How do I launch a streamlit app?")
			if err != nil {
				t.Fatalf("Retrieve failed: %v", err)
			}
			if got == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(got) != tt.want {
				t.Errorf("expected %d chunks, got %d", tt.want, len(got))
			}
			if svc.gotLimit != DefaultLimit {
				t.Errorf("expected limit %d passed to service, got %d", DefaultLimit, svc.gotLimit)
			}
			if diff := cmp.Diff(chunks(tt.available)[:tt.want], got); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetrieveNilResultIsEmpty(t *testing.T) {
	r := NewRetriever(&fakeSearch{}, 4)

	got, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestRetrievePropagatesError(t *testing.T) {
	boom := errors.New("service unavailable")
	svc := &fakeSearch{err: boom}
	r := NewRetriever(svc, 4)

	_, err := r.Retrieve(context.Background(), "q")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if svc.callCount != 1 {
		t.Errorf("expected a single attempt, got %d", svc.callCount)
	}
}

func TestBuildSearchRequest(t *testing.T) {
	got, err := buildSearchRequest("How do I launch a streamlit app?", "doc_text", 4)
	if err != nil {
		t.Fatalf("buildSearchRequest failed: %v", err)
	}
	want := `{"query":"How do I launch a streamlit app?","columns":["doc_text"],"limit":4}`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestParseSearchResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{
			name: "results",
			body: `{"results":[{"doc_text":"Run streamlit run app.py"},{"doc_text":"Install with pip"}],"request_id":"r1"}`,
			want: []string{"Run streamlit run app.py", "Install with pip"},
		},
		{
			name: "no results",
			body: `{"results":[]}`,
			want: []string{},
		},
		{
			name: "missing column skipped",
			body: `{"results":[{"other":"x"},{"doc_text":"kept"}]}`,
			want: []string{"kept"},
		},
		{
			name:    "malformed",
			body:    `{"results":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSearchResponse([]byte(tt.body), "doc_text")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSearchResponse failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, f.err
}

type fakeVectors struct{ results []milvus.SearchResult }

func (f fakeVectors) Search(_ context.Context, _ []float32, topK int) ([]milvus.SearchResult, error) {
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func TestMilvusSearchReturnsTexts(t *testing.T) {
	svc := NewMilvusSearch(fakeEmbedder{}, fakeVectors{results: []milvus.SearchResult{
		{ChunkID: "a", Text: "first", Score: 0.1},
		{ChunkID: "b", Text: "second", Score: 0.2},
	}})

	got, err := NewRetriever(svc, 4).Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMilvusSearchEmbeddingError(t *testing.T) {
	svc := NewMilvusSearch(fakeEmbedder{err: errors.New("quota")}, fakeVectors{})

	if _, err := svc.Search(context.Background(), "q", 4); err == nil {
		t.Fatal("expected error")
	}
}
