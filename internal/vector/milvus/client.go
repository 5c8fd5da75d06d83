package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/ragscope/backend/pkg/logger"
)

const (
	fieldChunkID   = "chunk_id"
	fieldEmbedding = "embedding"
)

type Client struct {
	client         client.Client
	collectionName string
	textField      string
	vectorDim      int
}

// Chunk is one document chunk as stored in the collection.
type Chunk struct {
	ID        string
	Embedding []float32
	Text      string
}

type SearchResult struct {
	ChunkID string
	Text    string
	Score   float32
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName, textField string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		textField:      textField,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads the document collection when missing.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
			return fmt.Errorf("failed to load collection: %w", err)
		}
		logger.Info("Collection loaded", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Documentation chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     m.textField,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		if len(ch.Embedding) != m.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", ch.ID, len(ch.Embedding), m.vectorDim)
		}
		ids[i] = ch.ID
		embeddings[i] = ch.Embedding
		texts[i] = ch.Text
	}

	_, err := m.client.Insert(ctx, m.collectionName, "",
		entity.NewColumnVarChar(fieldChunkID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, m.vectorDim, embeddings),
		entity.NewColumnVarChar(m.textField, texts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}

	logger.Info("Inserted chunks", zap.Int("count", len(chunks)))

	return nil
}

func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{fieldChunkID, m.textField},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		fieldEmbedding,
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, topK)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn(fieldChunkID)
		textCol := sr.Fields.GetColumn(m.textField)
		if idCol == nil || textCol == nil {
			return nil, fmt.Errorf("search result is missing output fields %s, %s", fieldChunkID, m.textField)
		}

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := idCol.Get(i)
			text, _ := textCol.Get(i)
			id, _ := chunkID.(string)
			body, ok := text.(string)
			if !ok {
				return nil, fmt.Errorf("field %s is not a string", m.textField)
			}

			results = append(results, SearchResult{
				ChunkID: id,
				Text:    body,
				Score:   sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}
