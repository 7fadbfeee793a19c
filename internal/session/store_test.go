package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"arxiv-chatbot/internal/vectorstore"
	"arxiv-chatbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func buildIndex(t *testing.T, texts ...string) *vectorstore.Index {
	t.Helper()
	chunks := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, models.Chunk{ID: text, Source: "p.pdf", Order: i, Text: text})
	}
	idx, err := vectorstore.Build(context.Background(), chunks, fixedEmbedder{})
	require.NoError(t, err)
	return idx
}

func TestGetOrCreate(t *testing.T) {
	store := NewStore()

	s1 := store.GetOrCreate("abc")
	require.NotNil(t, s1)
	assert.Equal(t, "abc", s1.ID)
	assert.Nil(t, s1.Index())
	assert.Empty(t, s1.History())

	// Same identifier returns the same session.
	s2 := store.GetOrCreate("abc")
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, store.Len())
}

func TestReplaceCorpusDiscardsHistory(t *testing.T) {
	store := NewStore()
	sess := store.GetOrCreate("abc")

	oldIndex := buildIndex(t, "old corpus text")
	store.ReplaceCorpus("abc", oldIndex)
	sess.Append(
		models.ChatTurn{Role: models.RoleUser, Text: "hello", Timestamp: time.Now()},
		models.ChatTurn{Role: models.RoleAssistant, Text: "hi", Timestamp: time.Now()},
	)
	require.Len(t, sess.History(), 2)

	// Swapping the corpus discards the index and history as a unit: no
	// turn produced against the old index survives as current state.
	newIndex := buildIndex(t, "new corpus text")
	store.ReplaceCorpus("abc", newIndex)

	assert.Empty(t, sess.History())
	assert.Same(t, newIndex, sess.Index())
}

func TestAppendForIndexRejectsReplacedCorpus(t *testing.T) {
	store := NewStore()
	sess := store.GetOrCreate("abc")

	oldIndex := buildIndex(t, "old corpus text")
	store.ReplaceCorpus("abc", oldIndex)

	// The corpus is swapped while a turn is in flight; turns produced
	// against the old index must not land in the new history.
	newIndex := buildIndex(t, "new corpus text")
	store.ReplaceCorpus("abc", newIndex)

	ok := sess.AppendForIndex(oldIndex,
		models.ChatTurn{Role: models.RoleUser, Text: "stale question"},
		models.ChatTurn{Role: models.RoleAssistant, Text: "stale answer"},
	)
	assert.False(t, ok)
	assert.Empty(t, sess.History())

	ok = sess.AppendForIndex(newIndex,
		models.ChatTurn{Role: models.RoleUser, Text: "fresh question"},
	)
	assert.True(t, ok)
	require.Len(t, sess.History(), 1)
}

func TestReset(t *testing.T) {
	store := NewStore()
	sess := store.GetOrCreate("abc")
	store.ReplaceCorpus("abc", buildIndex(t, "text"))
	sess.Append(models.ChatTurn{Role: models.RoleUser, Text: "q"})

	sess.Reset()
	assert.Nil(t, sess.Index())
	assert.Empty(t, sess.History())
}

func TestHistoryReturnsCopy(t *testing.T) {
	store := NewStore()
	sess := store.GetOrCreate("abc")
	sess.Append(models.ChatTurn{Role: models.RoleUser, Text: "original"})

	history := sess.History()
	history[0].Text = "mutated"

	assert.Equal(t, "original", sess.History()[0].Text)
}

func TestConcurrentSessions(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i%10)
			sess := store.GetOrCreate(id)
			sess.Append(models.ChatTurn{Role: models.RoleUser, Text: "x"})
			_ = sess.History()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, store.Len())
	total := 0
	for i := 0; i < 10; i++ {
		total += len(store.GetOrCreate(fmt.Sprintf("session-%d", i)).History())
	}
	assert.Equal(t, 50, total)
}
