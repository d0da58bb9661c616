// Package numalloc hands out small integer identifiers (PIDs, TIDs and
// resource handles) from a bounded space.
package numalloc

import (
	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// Allocator allocates numbers in [first, first+size) from a monotonically
// increasing counter, skipping numbers still in use. Numbers are keyed by
// their offset from first, so a space starting at 0 works like any other.
type Allocator struct {
	name  string
	first uint32
	size  uint32
	next  uint32
	used  map[uint32]struct{}
}

// New creates an allocator for size numbers starting at first.
func New(name string, first, size uint32) *Allocator {
	if size == 0 {
		panic("numalloc: empty number space")
	}
	return &Allocator{name: name, first: first, size: size, used: make(map[uint32]struct{})}
}

// Allocate returns the next free number. Every candidate in the space is
// probed at most once; when all of them are taken the allocator reports
// exhaustion instead of looping.
func (a *Allocator) Allocate() (uint32, error) {
	for probed := uint32(0); probed < a.size; probed++ {
		key := a.next
		a.next++
		if a.next == a.size {
			a.next = 0
		}
		if _, taken := a.used[key]; taken {
			continue
		}
		a.used[key] = struct{}{}
		return a.first + key, nil
	}
	return 0, kerrors.Exhausted(a.name, int(a.size))
}

// Free returns n to the space. It reports false if n was not allocated.
func (a *Allocator) Free(n uint32) bool {
	key, ok := a.key(n)
	if !ok {
		return false
	}
	if _, taken := a.used[key]; !taken {
		return false
	}
	delete(a.used, key)
	return true
}

// InUse reports whether n is currently allocated.
func (a *Allocator) InUse(n uint32) bool {
	key, ok := a.key(n)
	if !ok {
		return false
	}
	_, taken := a.used[key]
	return taken
}

// Len returns the number of allocated numbers.
func (a *Allocator) Len() int { return len(a.used) }

// Size returns the size of the number space.
func (a *Allocator) Size() uint32 { return a.size }

func (a *Allocator) key(n uint32) (uint32, bool) {
	key := n - a.first
	if n < a.first || key >= a.size {
		return 0, false
	}
	return key, true
}
