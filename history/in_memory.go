package history

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentrouter/core"
)

// InMemoryStore keeps history in process memory. Each conversation has its
// own lock so appends to different conversations never contend.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversationLog
	now           func() time.Time
}

type conversationLog struct {
	mu      sync.RWMutex
	entries []core.HistoryEntry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*conversationLog),
		now:           time.Now,
	}
}

func (s *InMemoryStore) log(conversationID string, create bool) *conversationLog {
	s.mu.RLock()
	l, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if ok || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.conversations[conversationID]; ok {
		return l
	}
	l = &conversationLog{}
	s.conversations[conversationID] = l
	return l
}

// Append records one turn and returns the stored entry.
func (s *InMemoryStore) Append(ctx context.Context, conversationID, actor string, payload core.Payload) (core.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return core.HistoryEntry{}, err
	}

	l := s.log(conversationID, true)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := s.now().UTC()
	entry := core.HistoryEntry{
		ID:             newEntryID(ts),
		ConversationID: conversationID,
		Actor:          actor,
		Payload:        clonePayload(payload),
		Timestamp:      ts,
	}
	l.entries = append(l.entries, entry)

	return entry, nil
}

// FetchLastN returns up to n most recent entries, oldest first.
func (s *InMemoryStore) FetchLastN(ctx context.Context, conversationID string, n int) ([]core.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.log(conversationID, false)
	if l == nil {
		return []core.HistoryEntry{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start, end := window(len(l.entries), n)
	out := make([]core.HistoryEntry, 0, end-start)
	for _, e := range l.entries[start:end] {
		e.Payload = clonePayload(e.Payload)
		out = append(out, e)
	}

	return out, nil
}

// Len returns the number of entries stored for a conversation.
func (s *InMemoryStore) Len(conversationID string) int {
	l := s.log(conversationID, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// clonePayload round-trips through the persisted envelope so callers never
// share maps with stored entries.
func clonePayload(p core.Payload) core.Payload {
	if p.Data == nil {
		return p
	}
	raw, err := core.EncodePayload(p)
	if err != nil {
		return core.TextPayload(p.String())
	}
	return core.DecodePayload(raw)
}

var _ core.ConversationStore = (*InMemoryStore)(nil)
