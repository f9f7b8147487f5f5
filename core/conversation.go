package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known actor and role names.
const (
	ActorUser = "user"
	RoleUser  = "user"
	RoleAgent = "agent"
)

// ConversationContext identifies one ongoing exchange. ConversationID is
// assigned by the transport layer and never changes for the lifetime of the
// conversation; every history entry of the conversation shares it.
type ConversationContext struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	Role           string `json:"role,omitempty"`
}

// Payload is the content of one history turn: either free text or a
// structured JSON-like object. Exactly one of Text or Data is expected to be
// set; String renders either form as text.
type Payload struct {
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// TextPayload wraps free text.
func TextPayload(text string) Payload { return Payload{Text: text} }

// DataPayload wraps a structured object.
func DataPayload(data map[string]any) Payload { return Payload{Data: data} }

// IsStructured reports whether the payload carries structured data.
func (p Payload) IsStructured() bool { return p.Data != nil }

// String returns a best-effort text rendering. Structured payloads are
// rendered as compact JSON.
func (p Payload) String() string {
	if p.Data == nil {
		return p.Text
	}
	b, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Sprintf("%v", p.Data)
	}
	return string(b)
}

// EncodePayload serializes a payload into the envelope format persisted by
// conversation stores.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses a stored envelope. It never fails: bytes that are not
// a valid envelope degrade to a text payload so a corrupted record still
// renders as something readable.
func DecodePayload(raw []byte) Payload {
	var p Payload
	if err := json.Unmarshal(raw, &p); err == nil && (p.Text != "" || p.Data != nil) {
		return p
	}

	// Legacy records may hold a bare JSON object or string.
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		if len(obj) == 0 {
			return Payload{}
		}
		if _, hasText := obj["text"]; !hasText {
			return Payload{Data: obj}
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Payload{Text: s}
	}

	return Payload{Text: string(raw)}
}

// HistoryEntry is one turn in the conversation log. Entries are appended once
// and never mutated or deleted; Timestamp and ID are assigned by the store at
// write time.
type HistoryEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Actor          string    `json:"actor"`
	Payload        Payload   `json:"payload"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsUser reports whether the entry was produced by the user.
func (e HistoryEntry) IsUser() bool { return e.Actor == ActorUser }

// ConversationStore is the append-only per-conversation history.
//
// Implementations must:
//   - be safe for concurrent use across conversation ids
//   - never lose entries on concurrent appends to the same conversation id
//   - return at most n entries, oldest first, from FetchLastN
//   - return an empty slice (not an error) for unknown conversations
type ConversationStore interface {
	Append(ctx context.Context, conversationID, actor string, payload Payload) (HistoryEntry, error)
	FetchLastN(ctx context.Context, conversationID string, n int) ([]HistoryEntry, error)
}
