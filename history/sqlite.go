package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentrouter/core"
)

// SQLiteStore persists history in a SQLite database, one row per entry.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration. Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			actor           TEXT NOT NULL,
			payload         TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_history_conversation ON history (conversation_id, seq)")
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts one entry. A single INSERT is atomic so concurrent appends
// never lose entries.
func (s *SQLiteStore) Append(ctx context.Context, conversationID, actor string, payload core.Payload) (core.HistoryEntry, error) {
	raw, err := core.EncodePayload(payload)
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("encode payload: %w", err)
	}

	ts := s.now().UTC()
	entry := core.HistoryEntry{
		ID:             newEntryID(ts),
		ConversationID: conversationID,
		Actor:          actor,
		Payload:        payload,
		Timestamp:      ts,
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO history (id, conversation_id, actor, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.ID, conversationID, actor, string(raw), ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("insert history entry: %w", err)
	}

	return entry, nil
}

// FetchLastN returns up to n most recent entries, oldest first.
func (s *SQLiteStore) FetchLastN(ctx context.Context, conversationID string, n int) ([]core.HistoryEntry, error) {
	if n <= 0 {
		return []core.HistoryEntry{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, actor, payload, created_at FROM (
			SELECT seq, id, conversation_id, actor, payload, created_at
			FROM history WHERE conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []core.HistoryEntry{}
	for rows.Next() {
		var (
			e       core.HistoryEntry
			payload string
			created string
		)
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Actor, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Payload = core.DecodePayload([]byte(payload))
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}

	return out, rows.Err()
}

var _ core.ConversationStore = (*SQLiteStore)(nil)
