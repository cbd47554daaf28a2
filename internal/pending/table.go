// Package pending tracks outbound requests awaiting a reply.
package pending

import "sync"

// slot holds the requests issued under one sender identity.
type slot struct {
	seq     *SeqGen
	entries map[uint64]*Future
}

// Table maps (sender, messageId) to the future of an in-flight request.
// A single table may track requests under several sender identities; each
// identity gets its own message ID sequence.
type Table struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{slots: make(map[string]*slot)}
}

// getSlot returns the slot for sender, creating it if needed. Caller holds mu.
func (t *Table) getSlot(sender string) *slot {
	s, ok := t.slots[sender]
	if !ok {
		s = &slot{seq: NewSeqGen(), entries: make(map[uint64]*Future)}
		t.slots[sender] = s
	}
	return s
}

// Create allocates the next message ID for sender and stores a fresh
// future under it.
func (t *Table) Create(sender string) (uint64, *Future) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getSlot(sender)
	id := s.seq.Next()
	f := NewFuture(id)
	s.entries[id] = f
	return id, f
}

// Take removes and returns the future for (sender, id). A second Take for
// the same pair finds nothing.
func (t *Table) Take(sender string, id uint64) (*Future, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[sender]
	if !ok {
		return nil, false
	}
	f, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return f, ok
}

// Has reports whether (sender, id) is still awaiting a reply.
func (t *Table) Has(sender string, id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[sender]
	if !ok {
		return false
	}
	_, ok = s.entries[id]
	return ok
}

// Len returns the number of requests still pending across all senders.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.slots {
		n += len(s.entries)
	}
	return n
}
