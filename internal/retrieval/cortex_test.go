package retrieval

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
)

// scriptedQuerier records the statement it receives and answers with a
// fixed SQLite query instead.
type scriptedQuerier struct {
	db       *sql.DB
	query    string
	args     []any
	gotQuery string
	gotArgs  []any
}

func (s *scriptedQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	s.gotQuery = query
	s.gotArgs = args
	return s.db.QueryRowContext(ctx, s.query, s.args...)
}

func newScripted(t *testing.T, query string, args ...any) *scriptedQuerier {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &scriptedQuerier{db: db, query: query, args: args}
}

func TestCortexSearch(t *testing.T) {
	resp := `{"results":[{"doc_text":"streamlit run app.py"},{"doc_text":"pip install streamlit"}]}`
	q := newScripted(t, "SELECT ?", resp)
	s := NewCortexSearch(q, "DOCS.PUBLIC.STREAMLIT_SEARCH", "doc_text")

	got, err := s.Search(context.Background(), "How do I launch a streamlit app?", 4)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"streamlit run app.py", "pip install streamlit"}, got); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}

	if q.gotQuery != cortexSearchSQL {
		t.Errorf("unexpected statement %q", q.gotQuery)
	}
	want := []any{
		"DOCS.PUBLIC.STREAMLIT_SEARCH",
		`{"query":"How do I launch a streamlit app?","columns":["doc_text"],"limit":4}`,
	}
	if diff := cmp.Diff(want, q.gotArgs); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCortexSearchNullIsEmpty(t *testing.T) {
	s := NewCortexSearch(newScripted(t, "SELECT NULL"), "DOCS.PUBLIC.SVC", "doc_text")

	got, err := s.Search(context.Background(), "q", 4)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", got)
	}
}

func TestCortexSearchErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		args  []any
	}{
		{"query error", "SELECT response FROM missing_table", nil},
		{"bad json", "SELECT ?", []any{"not json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewCortexSearch(newScripted(t, tt.query, tt.args...), "DOCS.PUBLIC.SVC", "doc_text")
			if _, err := s.Search(context.Background(), "q", 4); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
