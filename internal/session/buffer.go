package session

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote ICE candidates that arrive before the remote
// description is set. Buffering and draining share one lock, so a candidate
// is either appended before the drain (and applied by it) or applied directly
// after it; never both, never neither.
//
// The zero value is ready to use.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	drained bool
}

// NewCandidateBuffer returns an empty, undrained buffer.
func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Offer applies c immediately if the buffer was already drained, otherwise
// appends it. The returned bool reports whether apply was called.
func (b *CandidateBuffer) Offer(c webrtc.ICECandidateInit, apply func(webrtc.ICECandidateInit) error) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.drained {
		b.pending = append(b.pending, c)
		return false, nil
	}
	return true, apply(c)
}

// Drain applies every buffered candidate in arrival order and marks the
// buffer drained. Only the first call does any work; a failing candidate does
// not stop the rest.
func (b *CandidateBuffer) Drain(apply func(webrtc.ICECandidateInit) error) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		return 0, nil
	}
	b.drained = true

	var errs []error
	for _, c := range b.pending {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	n := len(b.pending)
	b.pending = nil
	return n, errors.Join(errs...)
}

// Len returns the number of candidates waiting for the remote description.
func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reset discards buffered candidates. A drained buffer stays drained.
func (b *CandidateBuffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
