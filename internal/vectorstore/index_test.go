package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"arxiv-chatbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder produces deterministic vectors from the text content, so
// identical text always lands on the same point.
type hashEmbedder struct{ dim int }

func (h hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, h.dim)
	for i := range vec {
		bits := binary.BigEndian.Uint32(sum[(i*4)%28:])
		vec[i] = float32(bits%1000)/1000.0 - 0.5
	}
	return vec, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding backend down")
}

// batchingEmbedder counts batch calls so tests can assert Build uses
// the batch path instead of one request per chunk.
type batchingEmbedder struct {
	hashEmbedder
	calls int
	short bool
}

func (b *batchingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.calls++
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := b.hashEmbedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	if b.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func testChunks(texts ...string) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, models.Chunk{ID: t, Source: "paper.pdf", Order: i, Text: t})
	}
	return chunks
}

func TestBuildEmptyCorpus(t *testing.T) {
	_, err := Build(context.Background(), nil, hashEmbedder{dim: 8})
	require.ErrorIs(t, err, ErrNoChunks)
}

func TestBuildEmbeddingFailureAbortsWhole(t *testing.T) {
	_, err := Build(context.Background(), testChunks("a", "b"), failingEmbedder{})
	require.Error(t, err)
}

func TestRetrieveOrderingAndBound(t *testing.T) {
	chunks := testChunks("alpha", "beta", "gamma", "delta", "epsilon")
	idx, err := Build(context.Background(), chunks, hashEmbedder{dim: 8})
	require.NoError(t, err)
	require.Equal(t, 5, idx.Len())

	// Querying with a chunk's own vector must rank that chunk first.
	queryVec, err := hashEmbedder{dim: 8}.Embed(context.Background(), "gamma")
	require.NoError(t, err)

	got := idx.Retrieve(queryVec, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "gamma", got[0].Text)

	// Scores must be non-increasing.
	idxVecs := make(map[string][]float32)
	for _, c := range chunks {
		v, _ := hashEmbedder{dim: 8}.Embed(context.Background(), c.Text)
		idxVecs[c.Text] = v
	}
	prev := 2.0
	for _, c := range got {
		score := cosine(idxVecs[c.Text], queryVec)
		assert.LessOrEqual(t, score, prev+1e-9)
		prev = score
	}
}

func TestRetrieveKLargerThanCorpus(t *testing.T) {
	idx, err := Build(context.Background(), testChunks("one", "two"), hashEmbedder{dim: 8})
	require.NoError(t, err)

	vec, _ := hashEmbedder{dim: 8}.Embed(context.Background(), "one")
	got := idx.Retrieve(vec, 10)
	assert.Len(t, got, 2)
}

func TestRetrieveZeroK(t *testing.T) {
	idx, err := Build(context.Background(), testChunks("one"), hashEmbedder{dim: 8})
	require.NoError(t, err)

	vec, _ := hashEmbedder{dim: 8}.Embed(context.Background(), "one")
	assert.Nil(t, idx.Retrieve(vec, 0))
}

func TestBuildUsesBatchEmbedder(t *testing.T) {
	texts := make([]string, 0, embedBatchSize+5)
	for i := 0; i < embedBatchSize+5; i++ {
		texts = append(texts, string(rune('a'+i%26))+string(rune('0'+i%10)))
	}
	embedder := &batchingEmbedder{hashEmbedder: hashEmbedder{dim: 8}}

	idx, err := Build(context.Background(), testChunks(texts...), embedder)
	require.NoError(t, err)
	require.Equal(t, len(texts), idx.Len())
	// One request per full batch plus one for the remainder.
	assert.Equal(t, 2, embedder.calls)

	// Retrieval behaves identically to the per-text path.
	queryVec, err := hashEmbedder{dim: 8}.Embed(context.Background(), texts[7])
	require.NoError(t, err)
	got := idx.Retrieve(queryVec, 1)
	require.Len(t, got, 1)
	assert.Equal(t, texts[7], got[0].Text)
}

func TestBuildBatchCountMismatch(t *testing.T) {
	embedder := &batchingEmbedder{hashEmbedder: hashEmbedder{dim: 8}, short: true}
	_, err := Build(context.Background(), testChunks("a", "b", "c"), embedder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectors")
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, testChunks("a"), hashEmbedder{dim: 8})
	require.ErrorIs(t, err, context.Canceled)
}
