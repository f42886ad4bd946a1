package link

import (
	"sync/atomic"
)

// Slot is a single-value mailbox. The token and a write sequence number are
// packed into one word so a reader always sees a consistent pair.
//
// Slot is safe for one writer and any number of readers. Take keeps its own
// cursor, so only one goroutine should call it.
type Slot struct {
	v     atomic.Uint64
	taken atomic.Uint64
}

func pack(seq uint64, t Token) uint64 { return seq<<8 | uint64(t) }

func unpack(v uint64) (uint64, Token) { return v >> 8, Token(v & 0xff) }

// Store overwrites the slot.
func (s *Slot) Store(t Token) {
	for {
		old := s.v.Load()
		seq, _ := unpack(old)
		if s.v.CompareAndSwap(old, pack(seq+1, t)) {
			return
		}
	}
}

// Load returns the latest token, or None if nothing was ever stored.
func (s *Slot) Load() Token {
	_, t := unpack(s.v.Load())
	return t
}

// seq returns how many times the slot was written.
func (s *Slot) seq() uint64 {
	seq, _ := unpack(s.v.Load())
	return seq
}

// Take returns the latest token and whether it was written after the
// previous Take. Storing the same token twice makes it fresh again.
func (s *Slot) Take() (Token, bool) {
	seq, t := unpack(s.v.Load())
	if s.taken.Swap(seq) == seq {
		return t, false
	}
	return t, true
}
