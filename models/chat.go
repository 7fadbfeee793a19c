package models

import "time"

// Turn roles. History is replayed verbatim into prompts, so ordering
// and role labels are significant.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SourceRef is a citation attached to an assistant turn: the originating
// PDF filename plus a short excerpt of the retrieved chunk.
type SourceRef struct {
	File    string `json:"file"`
	Snippet string `json:"snippet"`
}

// ChatTurn is one message in a session's history. Append-only.
type ChatTurn struct {
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	Sources   []SourceRef `json:"sources,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ChatRequest is the payload for POST /chat/send.
type ChatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required,min=1,max=2000"`
}

// ChatResponse is the reply for POST /chat/send.
type ChatResponse struct {
	SessionID string      `json:"session_id"`
	Reply     string      `json:"reply"`
	Sources   []SourceRef `json:"sources,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SearchRequest is the payload for POST /corpus/search. Exactly one of
// Query (a single topic, optionally scoped by Field) or Queries must be
// set. Queries carry their own field prefixes and are ANDed together;
// Ignore terms are excluded from the result set.
type SearchRequest struct {
	SessionID string   `json:"session_id" binding:"required"`
	Query     string   `json:"query,omitempty" binding:"omitempty,max=300"`
	Queries   []string `json:"queries,omitempty" binding:"omitempty,max=10,dive,min=1,max=300"`
	Ignore    []string `json:"ignore,omitempty" binding:"omitempty,max=10,dive,min=1,max=300"`
	MaxPapers int      `json:"max_papers,omitempty"`
	Field     string   `json:"field,omitempty"`
}

// PaperSummary is the catalog metadata echoed back from a corpus search,
// for display alongside the chat.
type PaperSummary struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Published string   `json:"published"`
}

// SearchResponse is the reply for POST /corpus/search. Loaded is false
// when no paper survived download and extraction; that is a normal
// outcome, not an error.
type SearchResponse struct {
	SessionID  string         `json:"session_id"`
	Loaded     bool           `json:"loaded"`
	ChunkCount int            `json:"chunk_count"`
	Papers     []PaperSummary `json:"papers"`
}

// HistoryResponse is the reply for GET /chat/history/:session_id.
type HistoryResponse struct {
	SessionID string     `json:"session_id"`
	Turns     []ChatTurn `json:"turns"`
}
