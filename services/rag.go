package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arxiv-chatbot/internal/logger"
	"arxiv-chatbot/internal/session"
	"arxiv-chatbot/internal/vectorstore"
	"arxiv-chatbot/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoCorpus means a chat turn was attempted before any corpus was
// loaded for the session. Callers must reject such turns before they
// reach the engine; the engine still guards against it.
var ErrNoCorpus = errors.New("no corpus loaded for this session")

// LanguageModel is the opaque text-completion and embedding capability
// the engine runs on. Deterministic completions keep answers
// reproducible for a fixed corpus and history.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string, deterministic bool) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Prompts mirror the history-aware retrieval recipe: first rewrite the
// question against the history, then answer strictly from context.
const (
	contextualizePrompt = "Given a chat history and the latest user question " +
		"which might reference context in the chat history, " +
		"formulate a standalone question which can be understood " +
		"without the chat history. Do NOT answer the question, " +
		"just reformulate it if needed and otherwise return it as is."

	qaSystemPrompt = "You are an assistant for question-answering tasks relating to research papers. " +
		"Use the following pieces of retrieved context to answer " +
		"the question. If you don't know the answer, say that you " +
		"don't know."
)

// turnState makes the per-turn pipeline explicit. Every working state
// has a failure edge straight to stateRecorded: the turn is always
// recorded, degraded or not.
type turnState int

const (
	stateAwaitingInput turnState = iota
	stateReformulating
	stateRetrieving
	stateSynthesizing
	stateRecorded
)

// RAGEngine orchestrates one conversational turn: history-aware query
// rewriting, retrieval, grounded synthesis, and history persistence.
type RAGEngine struct {
	llm  LanguageModel
	topK int
}

func NewRAGEngine(llm LanguageModel, topK int) *RAGEngine {
	if topK <= 0 {
		topK = 4
	}
	return &RAGEngine{llm: llm, topK: topK}
}

// SubmitQuery runs a full turn against the session's active corpus and
// returns the recorded assistant turn. Stage failures are absorbed into
// an answer-shaped error turn; the session stays usable afterwards.
func (e *RAGEngine) SubmitQuery(ctx context.Context, sess *session.Session, input string) (models.ChatTurn, error) {
	index := sess.Index()
	if index == nil {
		return models.ChatTurn{}, ErrNoCorpus
	}

	tracer := otel.Tracer("rag-engine")
	ctx, span := tracer.Start(ctx, "rag.turn")
	defer span.End()
	span.SetAttributes(attribute.Int("rag.history_len", len(sess.History())))

	history := sess.History()

	var (
		state   = stateAwaitingInput
		query   string
		chunks  []models.Chunk
		answer  string
		turnErr error
	)

	for state != stateRecorded {
		switch state {
		case stateAwaitingInput:
			state = stateReformulating

		case stateReformulating:
			query, turnErr = e.reformulate(ctx, history, input)
			if turnErr != nil {
				state = stateRecorded
				break
			}
			state = stateRetrieving

		case stateRetrieving:
			chunks, turnErr = e.retrieve(ctx, index, query)
			if turnErr != nil {
				state = stateRecorded
				break
			}
			state = stateSynthesizing

		case stateSynthesizing:
			answer, turnErr = e.synthesize(ctx, history, chunks, input)
			state = stateRecorded
		}
	}

	assistant := models.ChatTurn{
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}
	if turnErr != nil {
		logger.Error("Chat turn degraded", "session", sess.ID, "error", turnErr)
		span.SetAttributes(attribute.Bool("rag.degraded", true))
		assistant.Text = fmt.Sprintf("Sorry, I encountered an error: %v", turnErr)
	} else {
		assistant.Text = answer
		assistant.Sources = sourceRefs(chunks)
	}

	// User turn first, assistant turn second; ordering is replayed
	// verbatim as conversational context. If the corpus was replaced
	// while this turn ran, the turn is returned but not recorded: the
	// fresh history must only hold turns produced against the active
	// index.
	if !sess.AppendForIndex(index,
		models.ChatTurn{Role: models.RoleUser, Text: input, Timestamp: time.Now()},
		assistant,
	) {
		logger.Warn("Corpus replaced mid-turn, turn not recorded", "session", sess.ID)
	}
	return assistant, nil
}

// reformulate resolves anaphora against the chat history so retrieval
// sees a standalone question. With no history the input passes through
// unchanged.
func (e *RAGEngine) reformulate(ctx context.Context, history []models.ChatTurn, input string) (string, error) {
	if len(history) == 0 {
		return input, nil
	}

	var b strings.Builder
	b.WriteString(contextualizePrompt)
	b.WriteString("\n\nChat history:\n")
	writeHistory(&b, history)
	b.WriteString("\nLatest user question: ")
	b.WriteString(input)

	query, err := e.llm.Complete(ctx, b.String(), true)
	if err != nil {
		return "", fmt.Errorf("reformulate query: %w", err)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return input, nil
	}
	return query, nil
}

func (e *RAGEngine) retrieve(ctx context.Context, index *vectorstore.Index, query string) ([]models.Chunk, error) {
	vec, err := e.llm.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return index.Retrieve(vec, e.topK), nil
}

// synthesize answers the original input from the retrieved context and
// history, declining rather than fabricating when the context is thin.
func (e *RAGEngine) synthesize(ctx context.Context, history []models.ChatTurn, chunks []models.Chunk, input string) (string, error) {
	var b strings.Builder
	b.WriteString(qaSystemPrompt)
	b.WriteString("\n\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "Context %d (%s):\n%s\n\n", i+1, chunk.Source, chunk.Text)
	}
	if len(history) > 0 {
		b.WriteString("Chat history:\n")
		writeHistory(&b, history)
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(input)

	answer, err := e.llm.Complete(ctx, b.String(), true)
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func writeHistory(b *strings.Builder, history []models.ChatTurn) {
	for _, turn := range history {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
}

func sourceRefs(chunks []models.Chunk) []models.SourceRef {
	refs := make([]models.SourceRef, 0, len(chunks))
	for _, chunk := range chunks {
		refs = append(refs, models.SourceRef{
			File:    chunk.Source,
			Snippet: chunk.Snippet(300),
		})
	}
	return refs
}
