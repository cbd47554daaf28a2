package pending

import "sync/atomic"

// SeqGen is a per-sender atomic message ID generator.
type SeqGen struct {
	val atomic.Uint64
}

// NewSeqGen creates a new generator starting at 0.
// The first call to Next() returns 1.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next message ID (monotonically increasing from 1).
func (s *SeqGen) Next() uint64 {
	return s.val.Add(1)
}
