package testutil

import (
	"fmt"
	"sync"
)

// IDSequence issues ids of the form "<prefix>-0001", "<prefix>-0002" and
// so on. It satisfies the id generator interfaces of the graph service
// and the merge engine, replacing UUIDs in tests and golden scenarios.
//
// Thread-safety: safe for concurrent use.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a sequence with the given prefix. An empty prefix
// defaults to "id".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "id"
	}
	return &IDSequence{prefix: prefix}
}

// NewID returns the next id in the sequence.
func (s *IDSequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}

// Reset rewinds the sequence. After Reset, NewID returns "<prefix>-0001"
// again.
func (s *IDSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
