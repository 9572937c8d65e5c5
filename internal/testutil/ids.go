package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable object ids: "<prefix>0001",
// "<prefix>0002", ... Implements ir.IDGenerator.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDs returns a generator using prefix. An empty prefix
// defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// NewObjectID returns the next id. size is ignored.
func (g *SequentialIDs) NewObjectID(size int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s%04d", g.prefix, g.next)
}
