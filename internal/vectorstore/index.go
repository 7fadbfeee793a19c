// Package vectorstore holds the in-memory vector index backing a
// session's corpus. Indexes are built all-at-once and swapped wholesale;
// there is no incremental insert or delete.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"arxiv-chatbot/models"
)

// ErrNoChunks is returned when an index build is attempted over an
// empty corpus. A partially built index is never returned.
var ErrNoChunks = errors.New("vectorstore: no chunks to index")

// Embedder converts free text into a vector representation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can vectorize many
// texts in one request. Build prefers it: a corpus of hundreds of
// chunks embedded one call at a time would take minutes against a
// rate-limited backend.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// embedBatchSize matches the embedding API's per-request content limit.
const embedBatchSize = 100

// Index is an immutable brute-force cosine-similarity index over the
// chunks of one corpus.
type Index struct {
	vectors [][]float32
	chunks  []models.Chunk
}

// Build embeds every chunk and assembles the index. Any embedding
// failure aborts the build; callers never observe a half-built index.
func Build(ctx context.Context, chunks []models.Chunk, embedder Embedder) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	var vectors [][]float32
	var err error
	if batcher, ok := embedder.(BatchEmbedder); ok {
		vectors, err = embedBatched(ctx, chunks, batcher)
	} else {
		vectors, err = embedEach(ctx, chunks, embedder)
	}
	if err != nil {
		return nil, err
	}

	return &Index{vectors: vectors, chunks: chunks}, nil
}

func embedEach(ctx context.Context, chunks []models.Chunk, embedder Embedder) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d (%s): %w", i, chunk.Source, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func embedBatched(ctx context.Context, chunks []models.Chunk, embedder BatchEmbedder) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}
		batch, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d..%d: %w", start, end-1, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed chunks %d..%d: sent %d texts, got %d vectors", start, end-1, len(texts), len(batch))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// Len reports the number of indexed chunks.
func (idx *Index) Len() int { return len(idx.chunks) }

// Retrieve returns up to k chunks ordered by decreasing cosine
// similarity to the query vector.
func (idx *Index) Retrieve(queryVec []float32, k int) []models.Chunk {
	if k <= 0 || len(idx.chunks) == 0 {
		return nil
	}

	type scored struct {
		i     int
		score float64
	}
	scores := make([]scored, len(idx.vectors))
	for i, v := range idx.vectors {
		scores[i] = scored{i: i, score: cosine(v, queryVec)}
	}
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].score > scores[b].score
	})

	if k > len(scores) {
		k = len(scores)
	}
	out := make([]models.Chunk, 0, k)
	for _, s := range scores[:k] {
		out = append(out, idx.chunks[s.i])
	}
	return out
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
