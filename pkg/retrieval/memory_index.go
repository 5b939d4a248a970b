package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

type docKey struct {
	source string
	chunk  int
}

type memoryDoc struct {
	Document
	norm float64
}

// MemoryIndex keeps documents in process and ranks them by cosine similarity.
// It suits small schema sets that are embedded at startup.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[docKey]memoryDoc
	dims int
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[docKey]memoryDoc)}
}

var _ Index = (*MemoryIndex)(nil)

// Upsert stores docs. All vectors in the index must have the same length and a
// non-zero norm.
func (m *MemoryIndex) Upsert(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dims := m.dims
	prepared := make([]memoryDoc, 0, len(docs))
	for _, d := range docs {
		if dims == 0 {
			dims = len(d.Embedding)
		}
		if len(d.Embedding) != dims {
			return fmt.Errorf("document %s#%d has %d dimensions, index has %d", d.Source, d.ChunkIndex, len(d.Embedding), dims)
		}
		norm := vectorNorm(d.Embedding)
		if norm == 0 {
			return fmt.Errorf("document %s#%d has a zero vector", d.Source, d.ChunkIndex)
		}
		prepared = append(prepared, memoryDoc{Document: d, norm: norm})
	}

	m.dims = dims
	for _, d := range prepared {
		m.docs[docKey{d.Source, d.ChunkIndex}] = d
	}
	return nil
}

// Prune removes chunks of source with ChunkIndex >= keep.
func (m *MemoryIndex) Prune(_ context.Context, source string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.docs {
		if k.source == source && k.chunk >= keep {
			delete(m.docs, k)
		}
	}
	return nil
}

// Count returns the number of stored documents.
func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

// Search returns up to topK documents by descending cosine similarity.
// Ties are broken by source and chunk index so results are deterministic.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.docs) == 0 {
		return nil, nil
	}
	if len(vector) != m.dims {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d", len(vector), m.dims)
	}
	qnorm := vectorNorm(vector)
	if qnorm == 0 {
		return nil, fmt.Errorf("query vector is zero")
	}

	type scored struct {
		doc   memoryDoc
		score float64
	}
	all := make([]scored, 0, len(m.docs))
	for _, d := range m.docs {
		all = append(all, scored{doc: d, score: dot(vector, d.Embedding) / (qnorm * d.norm)})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].doc.Source != all[j].doc.Source {
			return all[i].doc.Source < all[j].doc.Source
		}
		return all[i].doc.ChunkIndex < all[j].doc.ChunkIndex
	})

	if topK > 0 && len(all) > topK {
		all = all[:topK]
	}

	matches := make([]Match, len(all))
	for i, s := range all {
		matches[i] = Match{ID: s.doc.ID, Source: s.doc.Source, Text: s.doc.Text, Score: s.score}
	}
	return matches, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
