// Package history provides append-only conversation stores implementing
// core.ConversationStore: an in-memory store for tests and single-process
// deployments, a SQLite store for durable local history and a Redis store for
// history shared between router instances.
package history

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newEntryID returns a lexicographically sortable id for a history entry. Ids
// minted within the same millisecond are strictly increasing.
func newEntryID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// window returns the last n elements of a slice length as [start, end).
func window(length, n int) (int, int) {
	if n <= 0 || length == 0 {
		return 0, 0
	}
	start := length - n
	if start < 0 {
		start = 0
	}
	return start, length
}
