// Package session holds per-session conversational state: the ordered
// chat history and the vector index it was produced against. The two
// are always swapped together; history from one corpus is never
// evaluated against an index built from another.
package session

import (
	"sync"

	"arxiv-chatbot/internal/vectorstore"
	"arxiv-chatbot/models"
)

// Session is one user's conversational context. All access to the
// history and active index goes through the session's own lock, so
// concurrent requests for the same session identifier are safe.
type Session struct {
	ID string

	mu    sync.Mutex
	turns []models.ChatTurn
	index *vectorstore.Index
}

// Index returns the currently active vector index, or nil when no
// corpus has been loaded.
func (s *Session) Index() *vectorstore.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// History returns a copy of the ordered chat history.
func (s *Session) History() []models.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Append records turns at the end of the history, in argument order.
func (s *Session) Append(turns ...models.ChatTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}

// AppendForIndex records turns only while index is still the active
// one. A corpus swap that lands mid-turn invalidates the turn: its
// answer was produced against the old corpus and must not appear in
// the new corpus's history. Reports whether the turns were recorded.
func (s *Session) AppendForIndex(index *vectorstore.Index, turns ...models.ChatTurn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != index {
		return false
	}
	s.turns = append(s.turns, turns...)
	return true
}

// replaceCorpus swaps in a new index and discards the prior history as
// a single operation.
func (s *Session) replaceCorpus(index *vectorstore.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.turns = nil
}

// Reset discards both the history and the active index.
func (s *Session) Reset() {
	s.replaceCorpus(nil)
}

// Store is a process-wide map from session identifier to session state.
// Sessions are created lazily on first reference and live until the
// process exits. No expiry or eviction; acceptable at this scope, a
// capacity risk for long-lived deployments.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating it on miss. Never fails.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s = &Session{ID: id}
	st.sessions[id] = s
	return s
}

// ReplaceCorpus atomically installs a new index for the session and
// discards its prior chat history.
func (st *Store) ReplaceCorpus(id string, index *vectorstore.Index) *Session {
	s := st.GetOrCreate(id)
	s.replaceCorpus(index)
	return s
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
