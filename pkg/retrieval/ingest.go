package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/retry"
)

// documentNamespace seeds document IDs so re-indexing a chunk keeps its ID.
var documentNamespace = uuid.MustParse("6f1d1a64-3c1e-4b8e-9a51-2d0c8e7b5f10")

const (
	defaultEmbedBatchSize = 16
	defaultFileWorkers    = 4
)

// IngestStats summarises one ingestion run.
type IngestStats struct {
	Files  int
	Chunks int
}

// Ingester loads schema description files, embeds their chunks and stores them
// in an Index.
type Ingester struct {
	embedder  llm.EmbeddingClient
	index     Index
	chunkSize int
	batchSize int
	workers   int
	retryCfg  *retry.Config
	logger    *zap.Logger
}

// NewIngester creates an Ingester. chunkSize below 1 uses DefaultChunkSize.
func NewIngester(embedder llm.EmbeddingClient, index Index, chunkSize int, logger *zap.Logger) *Ingester {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Ingester{
		embedder:  embedder,
		index:     index,
		chunkSize: chunkSize,
		batchSize: defaultEmbedBatchSize,
		workers:   defaultFileWorkers,
		retryCfg:  retry.DefaultConfig(),
		logger:    logger.Named("ingest"),
	}
}

// IngestDir indexes every *.txt file directly inside dir. Files are processed
// concurrently; the first failure cancels the rest.
func (i *Ingester) IngestDir(ctx context.Context, dir string) (IngestStats, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return IngestStats{}, fmt.Errorf("failed to list schema files: %w", err)
	}
	if len(paths) == 0 {
		return IngestStats{}, fmt.Errorf("%w in %s", apperrors.ErrNoDocuments, dir)
	}
	sort.Strings(paths)

	i.logger.Info("Indexing schema files", zap.String("dir", dir), zap.Int("files", len(paths)))

	var chunks atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)

	for _, path := range paths {
		g.Go(func() error {
			n, err := i.ingestFile(gctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			chunks.Add(int64(n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return IngestStats{}, err
	}

	stats := IngestStats{Files: len(paths), Chunks: int(chunks.Load())}
	i.logger.Info("Schema indexing complete", zap.Int("files", stats.Files), zap.Int("chunks", stats.Chunks))
	return stats, nil
}

func (i *Ingester) ingestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	source := filepath.Base(path)
	texts := SplitText(string(data), i.chunkSize)

	docs := make([]Document, 0, len(texts))
	for start := 0; start < len(texts); start += i.batchSize {
		batch := texts[start:min(start+i.batchSize, len(texts))]

		var vectors [][]float32
		err := retry.DoIfRetryable(ctx, i.retryCfg, func() error {
			var err error
			vectors, err = i.embedder.CreateEmbeddings(ctx, batch)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(batch))
		}

		for j, text := range batch {
			chunkIndex := start + j
			docs = append(docs, Document{
				ID:         documentID(source, chunkIndex),
				Source:     source,
				ChunkIndex: chunkIndex,
				Text:       text,
				Embedding:  vectors[j],
			})
		}
	}

	if err := i.index.Upsert(ctx, docs); err != nil {
		return 0, err
	}
	if err := i.index.Prune(ctx, source, len(docs)); err != nil {
		return 0, err
	}

	i.logger.Debug("Indexed schema file", zap.String("source", source), zap.Int("chunks", len(docs)))
	return len(docs), nil
}

func documentID(source string, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(documentNamespace, fmt.Appendf(nil, "%s#%d", source, chunkIndex))
}
