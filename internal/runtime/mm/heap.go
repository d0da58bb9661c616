package mm

import (
	"fmt"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// Heap layout constants. Every block carries a header of HeapHeaderSize
// bytes in front of its data.
const (
	HeapHeaderSize   = 16
	HeapMinAlignment = 8
	heapMinBlockSize = HeapHeaderSize + 16
)

// Expander maps size more bytes of backing memory at virtual address at.
type Expander interface {
	Expand(at, size uint32) error
}

// ExpanderFunc adapts a function to the Expander interface.
type ExpanderFunc func(at, size uint32) error

func (f ExpanderFunc) Expand(at, size uint32) error { return f(at, size) }

// heapBlock is one segment of the heap. Blocks cover the heap without gaps
// and are kept in address order.
type heapBlock struct {
	next  *heapBlock
	prev  *heapBlock
	start uint32
	size  uint32
	used  bool
}

// BlockInfo describes a heap block.
type BlockInfo struct {
	Start uint32
	Size  uint32
	Used  bool
}

// HeapStats summarizes heap usage.
type HeapStats struct {
	Start       uint32
	End         uint32
	UsedBytes   uint32
	FreeBytes   uint32
	Blocks      int
	Allocations int
	Expansions  int
}

// Heap is a first-fit kernel heap. Blocks are split on allocation and
// coalesced with both neighbours on free. When no block fits, the heap
// grows at its end through the Expander and the allocation is retried a
// bounded number of times.
type Heap struct {
	first      *heapBlock
	last       *heapBlock
	start      uint32
	end        uint32
	limit      uint32
	pageSize   uint32
	maxRetries int
	expansions int
	byData     map[uint32]*heapBlock
	expander   Expander
}

// NewHeap creates a heap at start that may grow up to limit, and maps
// initialSize bytes up front.
func NewHeap(start, initialSize, limit, pageSize uint32, maxRetries int, expander Expander) (*Heap, error) {
	if expander == nil {
		return nil, fmt.Errorf("heap needs an expander")
	}
	if start&(pageSize-1) != 0 || limit <= start {
		return nil, fmt.Errorf("invalid heap range %#08x-%#08x", start, limit)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	h := &Heap{
		start:      start,
		end:        start,
		limit:      limit,
		pageSize:   pageSize,
		maxRetries: maxRetries,
		byData:     make(map[uint32]*heapBlock),
		expander:   expander,
	}
	if initialSize > 0 {
		if err := h.expand(initialSize); err != nil {
			return nil, fmt.Errorf("failed to map initial heap: %w", err)
		}
	}
	return h, nil
}

func alignUp(v, align uint32) uint32 { return (v + align - 1) &^ (align - 1) }

// Allocate returns the address of size bytes aligned to alignment.
func (h *Heap) Allocate(size, alignment uint32) (uint32, error) {
	if size == 0 {
		return 0, kerrors.Errorf(kerrors.EINVAL, "zero sized heap allocation")
	}
	if alignment < HeapMinAlignment {
		alignment = HeapMinAlignment
	}
	if alignment&(alignment-1) != 0 {
		return 0, kerrors.Errorf(kerrors.EINVAL, "alignment %d is not a power of two", alignment)
	}
	size = alignUp(size, HeapMinAlignment)

	for attempt := 0; ; attempt++ {
		if addr, ok := h.fit(size, alignment); ok {
			return addr, nil
		}
		if attempt == h.maxRetries {
			break
		}
		if err := h.expand(HeapHeaderSize + size + alignment + heapMinBlockSize); err != nil {
			return 0, err
		}
	}
	return 0, kerrors.OutOfMemory(size, "kernel heap")
}

func (h *Heap) fit(size, alignment uint32) (uint32, bool) {
	for b := h.first; b != nil; b = b.next {
		if b.used {
			continue
		}
		data := alignUp(b.start+HeapHeaderSize, alignment)
		pad := data - HeapHeaderSize - b.start
		for pad != 0 && pad < heapMinBlockSize {
			data += alignment
			pad += alignment
		}
		if uint64(pad)+HeapHeaderSize+uint64(size) > uint64(b.size) {
			continue
		}

		if pad > 0 {
			// Leave the padding behind as a free block of its own.
			nb := &heapBlock{start: b.start + pad, size: b.size - pad}
			b.size = pad
			h.linkAfter(b, nb)
			b = nb
		}
		if rem := b.size - HeapHeaderSize - size; rem >= heapMinBlockSize {
			tail := &heapBlock{start: b.start + HeapHeaderSize + size, size: rem}
			b.size -= rem
			h.linkAfter(b, tail)
		}
		b.used = true
		h.byData[data] = b
		return data, true
	}
	return 0, false
}

func (h *Heap) linkAfter(b, nb *heapBlock) {
	nb.prev = b
	nb.next = b.next
	if b.next != nil {
		b.next.prev = nb
	} else {
		h.last = nb
	}
	b.next = nb
}

func (h *Heap) unlink(b *heapBlock) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		h.first = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		h.last = b.prev
	}
	b.next, b.prev = nil, nil
}

// Free releases an allocation and coalesces it with free neighbours.
func (h *Heap) Free(addr uint32) error {
	b, ok := h.byData[addr]
	if !ok {
		return kerrors.Errorf(kerrors.EINVAL, "%#08x is not a heap allocation", addr)
	}
	delete(h.byData, addr)
	b.used = false

	if n := b.next; n != nil && !n.used {
		b.size += n.size
		h.unlink(n)
	}
	if p := b.prev; p != nil && !p.used {
		p.size += b.size
		h.unlink(b)
	}
	return nil
}

// expand grows the heap by at least size bytes, rounded up to pages.
func (h *Heap) expand(size uint32) error {
	size = alignUp(size, h.pageSize)
	if uint64(h.end)+uint64(size) > uint64(h.limit) {
		return kerrors.New(kerrors.ENOMEM,
			fmt.Sprintf("heap cannot grow by %d bytes past %#08x", size, h.limit),
			map[string]interface{}{"end": h.end, "size": size})
	}
	if err := h.expander.Expand(h.end, size); err != nil {
		return fmt.Errorf("heap expansion at %#08x: %w", h.end, err)
	}

	if h.last != nil && !h.last.used {
		h.last.size += size
	} else {
		nb := &heapBlock{start: h.end, size: size}
		if h.last == nil {
			h.first, h.last = nb, nb
		} else {
			h.linkAfter(h.last, nb)
		}
	}
	h.end += size
	h.expansions++
	return nil
}

// Blocks returns the current block layout in address order.
func (h *Heap) Blocks() []BlockInfo {
	var out []BlockInfo
	for b := h.first; b != nil; b = b.next {
		out = append(out, BlockInfo{Start: b.start, Size: b.size, Used: b.used})
	}
	return out
}

// Stats returns a usage summary.
func (h *Heap) Stats() HeapStats {
	st := HeapStats{Start: h.start, End: h.end, Allocations: len(h.byData), Expansions: h.expansions}
	for b := h.first; b != nil; b = b.next {
		st.Blocks++
		if b.used {
			st.UsedBytes += b.size
		} else {
			st.FreeBytes += b.size
		}
	}
	return st
}

// Verify checks the structural invariants of the block list: blocks are
// contiguous, cover the heap and no two free blocks are adjacent.
func (h *Heap) Verify() error {
	at := h.start
	for b := h.first; b != nil; b = b.next {
		if b.start != at {
			return fmt.Errorf("heap block at %#08x, expected %#08x", b.start, at)
		}
		if b.next != nil && b.next.prev != b {
			return fmt.Errorf("heap block at %#08x has a broken back link", b.next.start)
		}
		if !b.used && b.next != nil && !b.next.used {
			return fmt.Errorf("adjacent free heap blocks at %#08x and %#08x", b.start, b.next.start)
		}
		at += b.size
	}
	if at != h.end {
		return fmt.Errorf("heap blocks end at %#08x, heap ends at %#08x", at, h.end)
	}
	return nil
}
