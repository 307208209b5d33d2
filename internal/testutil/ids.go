package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates transaction ids "<prefix>-1", "<prefix>-2", ...
//
// Scenarios run on these instead of UUIDv7 so journals and golden files
// are byte-identical between runs.
//
// Thread-safety: SequentialIDs is safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. If prefix is empty, "tx" is used.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "tx"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.TxIDGenerator interface.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
