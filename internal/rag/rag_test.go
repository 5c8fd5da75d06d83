package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ragscope/backend/internal/guardrail"
	"github.com/ragscope/backend/internal/llm"
	"github.com/ragscope/backend/internal/retrieval"
	"github.com/ragscope/backend/internal/trace"
)

const streamlitQuestion = "How do I launch a streamlit app?"

var streamlitChunks = []string{
	"To run your app, use streamlit run your_script.py.",
	"Streamlit opens a local server on port 8501.",
	"Install Streamlit with pip install streamlit.",
	"Theming is configured in .streamlit/config.toml.",
}

type fakeRetriever struct {
	chunks []string
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(context.Context, string) ([]string, error) {
	f.calls++
	return f.chunks, f.err
}

type recordingCompleter struct {
	reply   string
	err     error
	prompts []string
	models  []string
}

func (r *recordingCompleter) Complete(_ context.Context, model, prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	r.models = append(r.models, model)
	return r.reply, r.err
}

func methods(t *testing.T, rec *trace.Recording, output string) []string {
	t.Helper()
	record := rec.Finish(streamlitQuestion, output, nil)
	var out []string
	for _, c := range record.Calls {
		out = append(out, c.Method)
	}
	return out
}

func TestBasicQuerySequencesRetrieveThenComplete(t *testing.T) {
	retriever := &fakeRetriever{chunks: streamlitChunks}
	completer := &recordingCompleter{reply: "Run streamlit run app.py."}
	app := NewBasic(retriever, completer, Options{Model: "mistral-large"})

	ctx, rec := trace.Start(context.Background(), "RAG v1")
	got, err := app.Query(ctx, streamlitQuestion)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got != "Run streamlit run app.py." {
		t.Errorf("unexpected answer %q", got)
	}

	want := []string{MethodRetrieveContext, MethodGenerateCompletion}
	if diff := cmp.Diff(want, methods(t, rec, got)); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	if retriever.calls != 1 || len(completer.prompts) != 1 {
		t.Errorf("expected one retrieval and one completion, got %d and %d", retriever.calls, len(completer.prompts))
	}
}

func TestGenerateCompletionSendsRawQueryByDefault(t *testing.T) {
	completer := &recordingCompleter{reply: "ok"}
	app := NewBasic(&fakeRetriever{chunks: streamlitChunks}, completer, Options{Model: "mistral-large"})

	if _, err := app.Query(context.Background(), streamlitQuestion); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if completer.prompts[0] != streamlitQuestion {
		t.Errorf("expected raw query as prompt, got %q", completer.prompts[0])
	}
	if completer.models[0] != "mistral-large" {
		t.Errorf("unexpected model %s", completer.models[0])
	}
}

func TestGenerateCompletionIncludesContextWhenEnabled(t *testing.T) {
	completer := &recordingCompleter{reply: "ok"}
	app := NewBasic(&fakeRetriever{chunks: streamlitChunks}, completer, Options{Model: "mistral-large", IncludeContext: true})

	if _, err := app.Query(context.Background(), streamlitQuestion); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	prompt := completer.prompts[0]
	for _, chunk := range streamlitChunks {
		if !strings.Contains(prompt, chunk) {
			t.Errorf("prompt missing chunk %q", chunk)
		}
	}
	if !strings.Contains(prompt, "Question:\n"+streamlitQuestion) {
		t.Errorf("prompt missing question:\n%s", prompt)
	}
}

func TestQueryRetrievalErrorSkipsCompletion(t *testing.T) {
	boom := errors.New("search service unavailable")
	completer := &recordingCompleter{}
	app := NewBasic(&fakeRetriever{err: boom}, completer, Options{})

	ctx, rec := trace.Start(context.Background(), "RAG v1")
	_, err := app.Query(ctx, streamlitQuestion)
	if !errors.Is(err, boom) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
	if len(completer.prompts) != 0 {
		t.Error("completion must not run after a retrieval error")
	}

	record := rec.Finish(streamlitQuestion, "", err)
	if len(record.Calls) != 1 || record.Calls[0].Error == "" {
		t.Errorf("expected one failed retrieve_context call, got %+v", record.Calls)
	}
}

type thresholdScorer map[string]float64

func (s thresholdScorer) ContextRelevance(_ context.Context, _ string, chunk string) (float64, error) {
	return s[chunk], nil
}

func TestFilteredRecordsOnlyKeptChunks(t *testing.T) {
	scores := thresholdScorer{
		streamlitChunks[0]: 0.9,
		streamlitChunks[1]: 0.5,
		streamlitChunks[2]: 0.8,
		streamlitChunks[3]: 0.1,
	}
	completer := &recordingCompleter{reply: "Run streamlit run app.py."}
	app := NewFiltered(&fakeRetriever{chunks: streamlitChunks}, guardrail.NewContextFilter(scores), completer, Options{Model: "mistral-large"})

	ctx, rec := trace.Start(context.Background(), "Filtered RAG App")
	out, err := app.Query(ctx, streamlitQuestion)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	record := rec.Finish(streamlitQuestion, out, nil)
	calls := record.CallsTo(MethodRetrieveContext)
	if len(calls) != 1 {
		t.Fatalf("expected one retrieve_context call, got %d", len(calls))
	}

	want := []string{streamlitChunks[0], streamlitChunks[2]}
	if diff := cmp.Diff(want, calls[0].Rets); diff != "" {
		t.Errorf("recorded context mismatch (-want +got):\n%s", diff)
	}

	gen := record.CallsTo(MethodGenerateCompletion)
	if len(gen) != 1 {
		t.Fatalf("expected one generate_completion call, got %d", len(gen))
	}
	if diff := cmp.Diff(want, gen[0].Args["context_str"]); diff != "" {
		t.Errorf("context passed to completion mismatch (-want +got):\n%s", diff)
	}
}

func TestEndToEndStreamlitQuestion(t *testing.T) {
	const answer = "Use `streamlit run your_script.py` to launch the app."

	svc := retrieval.NewRetriever(&fakeSearch{chunks: streamlitChunks}, retrieval.DefaultLimit)
	app := NewBasic(svc, llm.Func(func(context.Context, string, string) (string, error) {
		return answer, nil
	}), Options{Model: "mistral-large"})

	ctx, rec := trace.Start(context.Background(), "RAG v1")
	got, err := app.Query(ctx, streamlitQuestion)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got != answer {
		t.Errorf("expected %q, got %q", answer, got)
	}

	record := rec.Finish(streamlitQuestion, got, nil)
	if len(record.Calls) != 2 {
		t.Fatalf("expected exactly two calls, got %d", len(record.Calls))
	}
	if diff := cmp.Diff(streamlitChunks, record.Calls[0].Rets); diff != "" {
		t.Errorf("retrieved chunks mismatch (-want +got):\n%s", diff)
	}
	if record.Calls[1].Rets != answer {
		t.Errorf("unexpected completion ret %v", record.Calls[1].Rets)
	}
}

type fakeSearch struct{ chunks []string }

func (f *fakeSearch) Backend() string { return "fake" }

func (f *fakeSearch) Search(context.Context, string, int) ([]string, error) {
	return f.chunks, nil
}
