package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/retry"
)

func writeSchemaFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestIngester(embedder llm.EmbeddingClient, index Index, chunkSize int) *Ingester {
	ing := NewIngester(embedder, index, chunkSize, zap.NewNop())
	ing.retryCfg = &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	ing.batchSize = 2
	return ing
}

func TestIngester_IngestDir(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "customers.txt", "Table: customers\n- customer_id\n- city")
	writeSchemaFile(t, dir, "orders.txt", strings.Repeat("Table: point_order amount order\n\n", 6))
	writeSchemaFile(t, dir, "notes.md", "ignored")

	index := NewMemoryIndex()
	ing := newTestIngester(keywordEmbedder(), index, 70)

	stats, err := ing.IngestDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1+3, stats.Chunks)

	n, err := index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stats.Chunks, n)

	matches, err := index.Search(context.Background(), keywordEmbedding("customer city"), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "customers.txt", matches[0].Source)
	assert.Equal(t, documentID("customers.txt", 0), matches[0].ID)
}

func TestIngester_ReindexPrunesStaleChunks(t *testing.T) {
	dir := t.TempDir()
	index := NewMemoryIndex()
	ing := newTestIngester(keywordEmbedder(), index, 40)

	writeSchemaFile(t, dir, "orders.txt", strings.Repeat("Table: point_order amount\n\n", 4))
	stats, err := ing.IngestDir(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Chunks)

	writeSchemaFile(t, dir, "orders.txt", "Table: point_order amount")
	_, err = ing.IngestDir(context.Background(), dir)
	require.NoError(t, err)

	n, err := index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngester_NoFiles(t *testing.T) {
	ing := newTestIngester(keywordEmbedder(), NewMemoryIndex(), 100)

	_, err := ing.IngestDir(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNoDocuments))
}

func TestIngester_RetriesTransientEmbeddingErrors(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "customers.txt", "Table: customers")

	var calls atomic.Int32
	embedder := &llm.MockEmbeddingClient{
		CreateEmbeddingsFunc: func(_ context.Context, inputs []string) ([][]float32, error) {
			if calls.Add(1) == 1 {
				return nil, llm.NewError(llm.ErrorTypeQuota, "rate limited", true, nil)
			}
			out := make([][]float32, len(inputs))
			for i, in := range inputs {
				out[i] = keywordEmbedding(in)
			}
			return out, nil
		},
	}

	stats, err := newTestIngester(embedder, NewMemoryIndex(), 100).IngestDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIngester_PermanentEmbeddingError(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "customers.txt", "Table: customers")

	var calls atomic.Int32
	embedder := &llm.MockEmbeddingClient{
		CreateEmbeddingsFunc: func(context.Context, []string) ([][]float32, error) {
			calls.Add(1)
			return nil, llm.NewError(llm.ErrorTypeAuth, "invalid api key", false, nil)
		},
	}

	_, err := newTestIngester(embedder, NewMemoryIndex(), 100).IngestDir(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customers.txt")
	assert.Equal(t, int32(1), calls.Load())
}

func TestIngester_EmbeddingCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "customers.txt", "Table: customers")

	embedder := &llm.MockEmbeddingClient{
		CreateEmbeddingsFunc: func(context.Context, []string) ([][]float32, error) {
			return [][]float32{}, nil
		},
	}

	_, err := newTestIngester(embedder, NewMemoryIndex(), 100).IngestDir(context.Background(), dir)
	assert.ErrorContains(t, err, "mismatch")
}
