// Package retrieval finds the schema descriptions most similar to a question
// and turns them into prompt context.
package retrieval

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
)

// DefaultTopK is the number of fragments retrieved per question.
const DefaultTopK = 4

// Match is one ranked search hit. Text may be empty when the stored document
// carries no text.
type Match struct {
	ID     uuid.UUID
	Source string
	Text   string
	Score  float64
}

// Document is one embedded chunk of a schema description file.
type Document struct {
	ID         uuid.UUID
	Source     string
	ChunkIndex int
	Text       string
	Embedding  []float32
}

// Searcher ranks stored documents by similarity to a vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)
}

// Index stores embedded documents. Implementations must be safe for concurrent use.
type Index interface {
	Searcher

	// Upsert inserts or replaces documents keyed by (Source, ChunkIndex).
	Upsert(ctx context.Context, docs []Document) error

	// Prune removes chunks of source with ChunkIndex >= keep.
	Prune(ctx context.Context, source string, keep int) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
}

// Retriever builds schema context for a question.
type Retriever struct {
	embedder llm.EmbeddingClient
	index    Searcher
	topK     int
	logger   *zap.Logger
}

// NewRetriever creates a Retriever. topK below 1 uses DefaultTopK.
func NewRetriever(embedder llm.EmbeddingClient, index Searcher, topK int, logger *zap.Logger) *Retriever {
	if topK < 1 {
		topK = DefaultTopK
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		topK:     topK,
		logger:   logger.Named("retrieval"),
	}
}

// Retrieve returns the cleaned fragments of the top matches joined by newlines,
// in rank order. Any failure yields "" and is logged; it never fails the caller.
func (r *Retriever) Retrieve(ctx context.Context, query string) string {
	vector, err := r.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		r.logger.Error("Failed to embed query",
			zap.String("query", logging.SanitizeUserText(query)),
			zap.String("error", logging.SanitizeError(err)))
		return ""
	}

	matches, err := r.index.Search(ctx, vector, r.topK)
	if err != nil {
		r.logger.Error("Schema search failed",
			zap.String("query", logging.SanitizeUserText(query)),
			zap.String("error", logging.SanitizeError(err)))
		return ""
	}

	fragments := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Text == "" {
			continue
		}
		fragments = append(fragments, CleanFragment(m.Text))
	}

	combined := strings.Join(fragments, "\n")
	if strings.TrimSpace(combined) == "" {
		r.logger.Warn("No relevant schema context found",
			zap.String("query", logging.SanitizeUserText(query)),
			zap.Int("matches", len(matches)))
		return ""
	}

	r.logger.Info("Retrieved schema context",
		zap.String("query", logging.SanitizeUserText(query)),
		zap.Int("matches", len(matches)),
		zap.Int("chars", len(combined)))
	return combined
}

// CleanFragment normalises stored schema text: literal "\n" sequences become
// newlines, blank-line pairs collapse once, bullet lines ("-") are indented by
// two spaces and every other line is trimmed.
func CleanFragment(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, `\n`, "\n")
	cleaned = strings.ReplaceAll(cleaned, "\n\n", "\n")

	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "-") {
			lines[i] = "  " + line
		} else {
			lines[i] = strings.TrimSpace(line)
		}
	}
	return strings.Join(lines, "\n")
}
