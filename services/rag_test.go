package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"arxiv-chatbot/internal/session"
	"arxiv-chatbot/internal/vectorstore"
	"arxiv-chatbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticEmbedder maps text onto a tiny deterministic vector; texts that
// share words land closer together than texts that share none.
type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, 4)
	for i, word := range []string{"bert", "transformer", "attention", "retrieval"} {
		if strings.Contains(lower, word) {
			vec[i] = 1
		}
	}
	vec[3] += 0.01 // never a zero vector
	return vec, nil
}

// mockLLM records prompts and plays back scripted completions.
type mockLLM struct {
	staticEmbedder
	completions []string
	completeErr error
	prompts     []string
	embedded    []string
	onComplete  func()
}

func (m *mockLLM) Complete(_ context.Context, prompt string, deterministic bool) (string, error) {
	if !deterministic {
		return "", errors.New("rag completions must be deterministic")
	}
	m.prompts = append(m.prompts, prompt)
	if m.onComplete != nil {
		m.onComplete()
	}
	if m.completeErr != nil {
		return "", m.completeErr
	}
	if len(m.completions) == 0 {
		return "ok", nil
	}
	out := m.completions[0]
	m.completions = m.completions[1:]
	return out, nil
}

func (m *mockLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedded = append(m.embedded, text)
	return m.staticEmbedder.Embed(ctx, text)
}

func ragSession(t *testing.T) *session.Session {
	t.Helper()
	chunks := []models.Chunk{
		{ID: "bert.pdf#0000", Source: "bert.pdf", Order: 0, Text: "BERT proposes bidirectional pretraining of transformers."},
		{ID: "attn.pdf#0000", Source: "attn.pdf", Order: 0, Text: "Attention is all you need introduces the transformer."},
		{ID: "rag.pdf#0000", Source: "rag.pdf", Order: 0, Text: "Retrieval augmented generation combines retrieval with generation."},
	}
	idx, err := vectorstore.Build(context.Background(), chunks, staticEmbedder{})
	require.NoError(t, err)

	store := session.NewStore()
	return store.ReplaceCorpus("test", idx)
}

func TestSubmitQueryNoCorpus(t *testing.T) {
	store := session.NewStore()
	engine := NewRAGEngine(&mockLLM{}, 2)

	_, err := engine.SubmitQuery(context.Background(), store.GetOrCreate("empty"), "hi")
	require.ErrorIs(t, err, ErrNoCorpus)
}

func TestSubmitQueryFirstTurnPassesThrough(t *testing.T) {
	sess := ragSession(t)
	llm := &mockLLM{completions: []string{"BERT pretrains deep bidirectional representations."}}
	engine := NewRAGEngine(llm, 2)

	turn, err := engine.SubmitQuery(context.Background(), sess, "What does BERT propose?")
	require.NoError(t, err)

	// No history, so no reformulation call: one completion (synthesis),
	// and retrieval embeds the raw input.
	require.Len(t, llm.prompts, 1)
	require.Equal(t, []string{"What does BERT propose?"}, llm.embedded)
	assert.Contains(t, llm.prompts[0], "bert.pdf")
	assert.Contains(t, llm.prompts[0], "say that you")

	assert.Equal(t, models.RoleAssistant, turn.Role)
	assert.Equal(t, "BERT pretrains deep bidirectional representations.", turn.Text)
	require.NotEmpty(t, turn.Sources)
	assert.Equal(t, "bert.pdf", turn.Sources[0].File)

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "What does BERT propose?", history[0].Text)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
}

func TestSubmitQueryReformulatesAgainstHistory(t *testing.T) {
	sess := ragSession(t)
	sess.Append(
		models.ChatTurn{Role: models.RoleUser, Text: "Tell me about the BERT paper."},
		models.ChatTurn{Role: models.RoleAssistant, Text: "BERT is a pretraining method."},
	)

	llm := &mockLLM{completions: []string{
		"What does the BERT paper propose?", // reformulation
		"It proposes bidirectional pretraining.",
	}}
	engine := NewRAGEngine(llm, 2)

	_, err := engine.SubmitQuery(context.Background(), sess, "What does it propose?")
	require.NoError(t, err)

	require.Len(t, llm.prompts, 2)
	// The reformulation prompt carries the history and the fixed
	// rewrite instruction, and must not answer the question.
	assert.Contains(t, llm.prompts[0], "Tell me about the BERT paper.")
	assert.Contains(t, llm.prompts[0], "Do NOT answer the question")
	// Retrieval runs on the resolved standalone question.
	require.Equal(t, []string{"What does the BERT paper propose?"}, llm.embedded)

	require.Len(t, sess.History(), 4)
}

func TestSubmitQuerySynthesisFailureRecordsErrorTurn(t *testing.T) {
	sess := ragSession(t)
	llm := &mockLLM{completeErr: errors.New("model overloaded")}
	engine := NewRAGEngine(llm, 2)

	turn, err := engine.SubmitQuery(context.Background(), sess, "What is attention?")
	require.NoError(t, err)

	assert.Contains(t, turn.Text, "Sorry, I encountered an error")
	assert.Contains(t, turn.Text, "model overloaded")
	assert.Empty(t, turn.Sources)

	// Exactly one user and one assistant turn were recorded; the
	// session stays usable for the next turn.
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.RoleAssistant, history[1].Role)

	llm.completeErr = nil
	llm.completions = []string{"resolved question", "a grounded answer"}
	turn, err = engine.SubmitQuery(context.Background(), sess, "And now?")
	require.NoError(t, err)
	assert.Equal(t, "a grounded answer", turn.Text)
	require.Len(t, sess.History(), 4)
}

func TestSubmitQueryRespectsTopK(t *testing.T) {
	sess := ragSession(t)
	llm := &mockLLM{completions: []string{"answer"}}
	engine := NewRAGEngine(llm, 1)

	turn, err := engine.SubmitQuery(context.Background(), sess, "transformer attention retrieval bert")
	require.NoError(t, err)
	assert.Len(t, turn.Sources, 1)
}

func TestSubmitQueryCorpusSwappedMidTurn(t *testing.T) {
	chunks := []models.Chunk{
		{ID: "a.pdf#0000", Source: "a.pdf", Order: 0, Text: "attention mechanisms"},
	}
	idx, err := vectorstore.Build(context.Background(), chunks, staticEmbedder{})
	require.NoError(t, err)

	store := session.NewStore()
	sess := store.ReplaceCorpus("swap", idx)

	// The corpus is replaced while synthesis runs: the caller still
	// gets the answer, but the turn never enters the fresh history.
	newIdx, err := vectorstore.Build(context.Background(), chunks, staticEmbedder{})
	require.NoError(t, err)
	llm := &mockLLM{
		completions: []string{"an answer from the old corpus"},
		onComplete:  func() { store.ReplaceCorpus("swap", newIdx) },
	}
	engine := NewRAGEngine(llm, 2)

	turn, err := engine.SubmitQuery(context.Background(), sess, "What is attention?")
	require.NoError(t, err)
	assert.Equal(t, "an answer from the old corpus", turn.Text)
	assert.Empty(t, sess.History())
	assert.Same(t, newIdx, sess.Index())
}

func TestSubmitQueryBlankReformulationFallsBack(t *testing.T) {
	sess := ragSession(t)
	sess.Append(models.ChatTurn{Role: models.RoleUser, Text: "earlier turn"})

	llm := &mockLLM{completions: []string{"   ", "answer"}}
	engine := NewRAGEngine(llm, 2)

	_, err := engine.SubmitQuery(context.Background(), sess, "What is BERT?")
	require.NoError(t, err)
	// A blank rewrite falls back to the raw input for retrieval.
	require.Equal(t, []string{"What is BERT?"}, llm.embedded)
}
