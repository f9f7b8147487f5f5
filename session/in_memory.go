package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/logging"
)

// InMemoryStore is a process-local core.SessionStore. Exactly one *Session
// exists per conversation id; concurrent GetOrCreate calls for the same id
// observe the same instance.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// GetOrCreate returns the session for conversationID, creating it on first
// use.
func (s *InMemoryStore) GetOrCreate(_ context.Context, conversationID string) (*core.Session, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}

	s.mu.RLock()
	sess, ok := s.sessions[conversationID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[conversationID]; ok {
		return sess, nil
	}
	sess = core.NewSession(conversationID)
	s.sessions[conversationID] = sess

	return sess, nil
}

// Get returns the session without creating it.
func (s *InMemoryStore) Get(conversationID string) (*core.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[conversationID]
	return sess, ok
}

// Delete removes a session.
func (s *InMemoryStore) Delete(conversationID string) {
	s.mu.Lock()
	delete(s.sessions, conversationID)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions not updated since before cutoff and returns how many
// were removed.
func (s *InMemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper removes sessions idle for longer than idle every interval until
// the returned stop function is called. stop waits for a running sweep.
func (s *InMemoryStore) StartSweeper(idle, interval time.Duration, logger logging.Logger) (stop func()) {
	logger = logging.OrNoOp(logger)
	if interval <= 0 {
		interval = idle
	}

	c := cron.New()
	c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if n := s.Sweep(time.Now().Add(-idle)); n > 0 {
			logger.Debug("idle sessions removed", "count", n, "remaining", s.Len())
		}
	}))
	c.Start()

	var once sync.Once
	return func() {
		once.Do(func() { <-c.Stop().Done() })
	}
}

var _ core.SessionStore = (*InMemoryStore)(nil)
