package retrieval

import (
	"context"
	"fmt"

	"github.com/ragscope/backend/internal/llm"
	"github.com/ragscope/backend/internal/vector/milvus"
)

type VectorSearcher interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.SearchResult, error)
}

// MilvusSearch embeds the query and runs a nearest-neighbour search over a
// Milvus or Zilliz collection.
type MilvusSearch struct {
	embedder llm.Embedder
	store    VectorSearcher
}

func NewMilvusSearch(embedder llm.Embedder, store VectorSearcher) *MilvusSearch {
	return &MilvusSearch{embedder: embedder, store: store}
}

func (m *MilvusSearch) Backend() string { return "milvus" }

func (m *MilvusSearch) Search(ctx context.Context, query string, limit int) ([]string, error) {
	embedding, err := m.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := m.store.Search(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, r.Text)
	}
	return chunks, nil
}
