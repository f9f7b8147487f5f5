package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentrouter/core"
)

// HistoryBuilder provides a fluent helper for constructing conversation
// history in tests.
//
//	entries := NewHistoryBuilder("conv-1").User("hi").Agent("orchestrator", "hello").Build()
type HistoryBuilder struct {
	conversationID string
	start          time.Time
	entries        []core.HistoryEntry
}

// NewHistoryBuilder creates a builder for conversationID.
func NewHistoryBuilder(conversationID string) *HistoryBuilder {
	return &HistoryBuilder{
		conversationID: conversationID,
		start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// User appends a user text entry (chainable).
func (b *HistoryBuilder) User(text string) *HistoryBuilder {
	return b.Entry(core.ActorUser, core.TextPayload(text))
}

// Agent appends a text entry written by actor (chainable).
func (b *HistoryBuilder) Agent(actor, text string) *HistoryBuilder {
	return b.Entry(actor, core.TextPayload(text))
}

// Data appends a structured entry (chainable).
func (b *HistoryBuilder) Data(actor string, data map[string]any) *HistoryBuilder {
	return b.Entry(actor, core.DataPayload(data))
}

// Entry appends an entry with deterministic id and timestamp (chainable).
func (b *HistoryBuilder) Entry(actor string, payload core.Payload) *HistoryBuilder {
	n := len(b.entries)
	b.entries = append(b.entries, core.HistoryEntry{
		ID:             fmt.Sprintf("entry-%03d", n+1),
		ConversationID: b.conversationID,
		Actor:          actor,
		Payload:        payload,
		Timestamp:      b.start.Add(time.Duration(n) * time.Second),
	})
	return b
}

// Build returns a copy of the accumulated entries, oldest first.
func (b *HistoryBuilder) Build() []core.HistoryEntry {
	return append([]core.HistoryEntry(nil), b.entries...)
}

// Seed appends the accumulated entries to store in order. Ids and
// timestamps are assigned by the store.
func (b *HistoryBuilder) Seed(ctx context.Context, store core.ConversationStore) error {
	for _, e := range b.entries {
		if _, err := store.Append(ctx, b.conversationID, e.Actor, e.Payload); err != nil {
			return err
		}
	}
	return nil
}
