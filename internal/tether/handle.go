package tether

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// maxHandleAllocAttempts bounds the random-generation retry loop. With a
// 32-bit random space and the small number of concurrently live actors in
// this domain (at most a handful of interface machines plus the master),
// collisions are never expected in practice; this is a safety net against
// degenerate states, not a real limit.
const maxHandleAllocAttempts = 100

// ErrHandleExhausted indicates that the allocator could not generate a
// unique nonzero handle after the maximum number of attempts.
var ErrHandleExhausted = errors.New("handle allocator exhausted")

// Handle is an opaque, process-local identifier for a state machine actor
// (the master or a per-interface machine): the cyclic master/interface
// references are modeled as message-passing endpoints identified by
// handle rather than by pointer, and Handle is that identifier. The zero
// value is never allocated, so it can double as "no handle".
type Handle uint32

// String renders the handle for logging.
func (h Handle) String() string {
	return fmt.Sprintf("handle-%08x", uint32(h))
}

// HandleAllocator generates unique, nonzero, random handles. Grounded on
// the BFD discriminator allocator's shape: crypto/rand generation with
// retry-until-unique, guarding against the reserved zero value.
type HandleAllocator struct {
	mu        sync.Mutex
	allocated map[Handle]struct{}
}

// NewHandleAllocator creates an allocator with an empty allocation set.
func NewHandleAllocator() *HandleAllocator {
	return &HandleAllocator{allocated: make(map[Handle]struct{})}
}

// Allocate generates a unique, nonzero handle.
func (a *HandleAllocator) Allocate() (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var buf [4]byte

	for range maxHandleAllocAttempts {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("generate random handle: %w", err)
		}

		h := Handle(binary.BigEndian.Uint32(buf[:]))
		if h == 0 {
			continue
		}
		if _, exists := a.allocated[h]; exists {
			continue
		}

		a.allocated[h] = struct{}{}
		return h, nil
	}

	return 0, fmt.Errorf("allocate handle after %d attempts: %w",
		maxHandleAllocAttempts, ErrHandleExhausted)
}

// Release frees a previously allocated handle. Releasing an unallocated
// handle is a no-op.
func (a *HandleAllocator) Release(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, h)
}

// IsAllocated reports whether h is currently allocated.
func (a *HandleAllocator) IsAllocated(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, exists := a.allocated[h]
	return exists
}
