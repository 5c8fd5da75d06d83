// Package ingestion indexes HTML documentation into the vector collection
// used by the milvus retrieval backend.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/internal/vector/milvus"
	"github.com/ragscope/backend/pkg/logger"
	"github.com/ragscope/backend/pkg/utils"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

var ErrNoContent = errors.New("no content extracted from HTML")

var whitespace = regexp.MustCompile(`\s+`)

type BatchEmbedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type ChunkWriter interface {
	Insert(ctx context.Context, chunks []milvus.Chunk) error
}

// Document is the outcome of indexing one page.
type Document struct {
	ID     string
	Source string
	Title  string
	Chunks int
}

type Processor struct {
	embedder     BatchEmbedder
	writer       ChunkWriter
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(embedder BatchEmbedder, writer ChunkWriter, chunkSize, chunkOverlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Processor{
		embedder:     embedder,
		writer:       writer,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// ProcessDocument cleans the page, chunks it, embeds every chunk and writes
// them to the collection. Chunk IDs derive from source, so re-indexing the
// same page produces the same IDs.
func (p *Processor) ProcessDocument(ctx context.Context, source, htmlContent string) (*Document, error) {
	logger.Info("Processing document", zap.String("source", source))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		metrics.DocumentsIndexed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)
	text := cleanText(doc)
	if text == "" {
		metrics.DocumentsIndexed.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("%s: %w", source, ErrNoContent)
	}

	chunks := p.chunkText(text)
	logger.Debug("Document chunked", zap.String("source", source), zap.Int("chunks", len(chunks)))

	embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		metrics.DocumentsIndexed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		metrics.DocumentsIndexed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	docID := utils.HashString(source)
	rows := make([]milvus.Chunk, len(chunks))
	for i, chunk := range chunks {
		rows[i] = milvus.Chunk{
			ID:        fmt.Sprintf("%s_chunk_%d", docID, i),
			Embedding: embeddings[i],
			Text:      chunk,
		}
	}

	if err := p.writer.Insert(ctx, rows); err != nil {
		metrics.DocumentsIndexed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to insert into vector DB: %w", err)
	}

	metrics.DocumentsIndexed.WithLabelValues("success").Inc()
	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.String("title", title),
		zap.Int("chunks", len(rows)),
	)

	return &Document{ID: docID, Source: source, Title: title, Chunks: len(rows)}, nil
}

func cleanText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside").Remove()

	body := doc.Find("body")
	var text string
	if body.Length() > 0 {
		text = body.Text()
	} else {
		text = doc.Text()
	}

	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		return "Untitled"
	}
	return title
}

// chunkText splits text on word boundaries into chunks of at most chunkSize
// bytes. Each chunk after the first repeats up to chunkOverlap bytes of
// trailing words from the previous one, fewer when the next word would not
// fit. A single word longer than chunkSize becomes its own chunk.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	size := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if size+wordLen > p.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			current = append([]string(nil), overlapWords(current, p.chunkOverlap)...)
			size = 0
			for _, w := range current {
				size += len(w) + 1
			}
			for len(current) > 0 && size+wordLen > p.chunkSize {
				size -= len(current[0]) + 1
				current = current[1:]
			}
		}

		current = append(current, word)
		size += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

func overlapWords(words []string, budget int) []string {
	start := len(words)
	size := 0
	for start > 0 {
		next := len(words[start-1]) + 1
		if size+next > budget {
			break
		}
		size += next
		start--
	}
	// Never carry the whole chunk over, or the next chunk could not advance.
	if start == 0 {
		start = 1
	}
	return words[start:]
}
