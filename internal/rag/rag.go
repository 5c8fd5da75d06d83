// Package rag answers a question by retrieving documentation chunks and
// asking a completion model. Both steps are instrumented so a recording in
// the context captures them.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"

	"github.com/ragscope/backend/internal/llm"
	"github.com/ragscope/backend/internal/trace"
)

const (
	MethodRetrieveContext    = "retrieve_context"
	MethodGenerateCompletion = "generate_completion"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

type ContextFilter interface {
	Filter(ctx context.Context, query string, chunks []string) ([]string, error)
}

type Options struct {
	Model string
	// IncludeContext sends the retrieved chunks to the model inside the
	// answer template. When false only the raw query is sent.
	IncludeContext bool
}

type pipeline struct {
	retriever      Retriever
	completer      llm.Completer
	model          string
	includeContext bool
}

func newPipeline(retriever Retriever, completer llm.Completer, opts Options) pipeline {
	return pipeline{
		retriever:      retriever,
		completer:      completer,
		model:          opts.Model,
		includeContext: opts.IncludeContext,
	}
}

var answerTemplate = heredoc.Doc(`
	You are an expert assistance extracting information from context provided.
	Answer the question based on the context. Be concise and do not hallucinate.
	If you don't have the information just say so.
	Context: %s
	Question:
	%s
	Answer:
`)

// BuildPrompt renders the answer template for query over chunks.
func BuildPrompt(query string, chunks []string) string {
	return fmt.Sprintf(answerTemplate, strings.Join(chunks, "\n\n"), query)
}

func (p *pipeline) GenerateCompletion(ctx context.Context, query string, chunks []string) (string, error) {
	args := map[string]any{"query": query, "context_str": chunks}
	return trace.Instrument(ctx, MethodGenerateCompletion, args, func(ctx context.Context) (string, error) {
		prompt := query
		if p.includeContext {
			prompt = BuildPrompt(query, chunks)
		}
		completion, err := p.completer.Complete(ctx, p.model, prompt)
		if err != nil {
			return "", fmt.Errorf("failed to generate completion: %w", err)
		}
		return completion, nil
	})
}

// Basic retrieves and answers with no filtering.
type Basic struct {
	pipeline
}

func NewBasic(retriever Retriever, completer llm.Completer, opts Options) *Basic {
	return &Basic{pipeline: newPipeline(retriever, completer, opts)}
}

func (b *Basic) RetrieveContext(ctx context.Context, query string) ([]string, error) {
	return trace.Instrument(ctx, MethodRetrieveContext, map[string]any{"query": query}, func(ctx context.Context) ([]string, error) {
		return b.retriever.Retrieve(ctx, query)
	})
}

func (b *Basic) Query(ctx context.Context, query string) (string, error) {
	chunks, err := b.RetrieveContext(ctx, query)
	if err != nil {
		return "", err
	}
	return b.GenerateCompletion(ctx, query, chunks)
}

// Filtered drops chunks the context filter rejects before answering.
type Filtered struct {
	pipeline
	filter ContextFilter
}

func NewFiltered(retriever Retriever, filter ContextFilter, completer llm.Completer, opts Options) *Filtered {
	return &Filtered{pipeline: newPipeline(retriever, completer, opts), filter: filter}
}

// RetrieveContext records only the chunks that passed the filter.
func (f *Filtered) RetrieveContext(ctx context.Context, query string) ([]string, error) {
	return trace.Instrument(ctx, MethodRetrieveContext, map[string]any{"query": query}, func(ctx context.Context) ([]string, error) {
		chunks, err := f.retriever.Retrieve(ctx, query)
		if err != nil {
			return nil, err
		}
		kept, err := f.filter.Filter(ctx, query, chunks)
		if err != nil {
			return nil, fmt.Errorf("failed to filter context: %w", err)
		}
		return kept, nil
	})
}

func (f *Filtered) Query(ctx context.Context, query string) (string, error) {
	chunks, err := f.RetrieveContext(ctx, query)
	if err != nil {
		return "", err
	}
	return f.GenerateCompletion(ctx, query, chunks)
}
