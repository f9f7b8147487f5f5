package core

import (
	"context"
	"sync"
	"time"
)

// Well-known session state keys maintained by the engine.
const (
	StateKeyTurns     = "turns"
	StateKeyLastAgent = "last_agent"
	StateKeyUserID    = "user_id"
)

// Session is the per-conversation state held across turns. Exactly one
// Session exists per conversation id inside a registry; concurrent turns of
// the same conversation share the same *Session. It is safe for concurrent
// access.
type Session struct {
	ID      string         `json:"id"`
	State   map[string]any `json:"state"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
	mu      sync.RWMutex
}

// NewSession creates a new session for the given conversation id.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, State: map[string]any{}, Created: now, Updated: now}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// SetState sets a key/value pair updating the Updated timestamp.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[key] = value
	s.Updated = time.Now()
}

// BeginTurn increments the turn counter and returns the new value.
func (s *Session) BeginTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := s.State[StateKeyTurns].(int)
	n++
	s.State[StateKeyTurns] = n
	s.Updated = time.Now()
	return n
}

// Turns returns the number of turns started in this session.
func (s *Session) Turns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, _ := s.State[StateKeyTurns].(int)
	return n
}

// LastAgent returns the name of the agent most recently dispatched to.
func (s *Session) LastAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, _ := s.State[StateKeyLastAgent].(string)
	return name
}

// UpdatedAt returns the time of the last state change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Updated
}

// SessionStore resolves the single Session of a conversation. GetOrCreate must
// be race-safe per id: concurrent calls for the same id return the same
// *Session.
type SessionStore interface {
	GetOrCreate(ctx context.Context, conversationID string) (*Session, error)
}
