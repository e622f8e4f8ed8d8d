package tether_test

import (
	"testing"

	"github.com/dantte-lp/tetherd/internal/tether"
)

func TestHandleAllocatorAllocatesUniqueNonzeroHandles(t *testing.T) {
	t.Parallel()

	alloc := tether.NewHandleAllocator()
	seen := make(map[tether.Handle]struct{})

	for range 200 {
		h, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("Allocate() error: %v", err)
		}
		if h == 0 {
			t.Fatal("Allocate() returned the reserved zero handle")
		}
		if _, dup := seen[h]; dup {
			t.Fatalf("Allocate() returned duplicate handle %v", h)
		}
		seen[h] = struct{}{}
		if !alloc.IsAllocated(h) {
			t.Fatalf("IsAllocated(%v) = false immediately after Allocate", h)
		}
	}
}

func TestHandleAllocatorReleaseAllowsReuseOfSlot(t *testing.T) {
	t.Parallel()

	alloc := tether.NewHandleAllocator()

	h, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}

	alloc.Release(h)
	if alloc.IsAllocated(h) {
		t.Fatalf("IsAllocated(%v) = true after Release", h)
	}

	// Releasing an already-released handle is a no-op, not an error.
	alloc.Release(h)
}
