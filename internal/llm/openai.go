package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ragscope/backend/pkg/logger"
)

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	Guard          GuardConfig
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client         *openai.Client
	embeddingModel string
	temperature    float32
	maxTokens      int
	guard          *guard
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger.Info("OpenAI client initialized",
		zap.String("base_url", clientCfg.BaseURL),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		guard:          newGuard("openai", cfg.Guard),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	var content string

	err := c.guard.do(ctx, model, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("completion returned no choices")
		}

		logger.Debug("LLM completion generated",
			zap.String("model", model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

func (c *OpenAIClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32

	err := c.guard.do(ctx, c.embeddingModel, func(ctx context.Context) error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return fmt.Errorf("failed to generate embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return errors.New("embedding response was empty")
		}

		embedding = make([]float32, len(resp.Data[0].Embedding))
		copy(embedding, resp.Data[0].Embedding)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// GenerateBatchEmbeddings embeds texts in one request, preserving order.
func (c *OpenAIClient) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var embeddings [][]float32

	err := c.guard.do(ctx, c.embeddingModel, func(ctx context.Context) error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return fmt.Errorf("failed to generate batch embeddings: %w", err)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
		}

		embeddings = make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(texts) {
				return fmt.Errorf("embedding index %d out of range", d.Index)
			}
			embeddings[d.Index] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}
