package mm

import (
	"fmt"
	"math/bits"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// Frame is a block of physical memory handed out by the frame allocator.
type Frame struct {
	Base uint32
	Size uint32
}

// End returns the first address after the frame.
func (f Frame) End() uint32 { return f.Base + f.Size }

// zone is one contiguous range of physical memory managed by buddy lists.
// free[k] holds one bit per block of 2^k pages; a set bit means the block
// is free. Block alignment is relative to the zone base.
type zone struct {
	base     uint32
	pages    uint32
	free     []*bitSet
	reserved *bitSet
}

func (z *zone) blocks(order int) uint32 { return z.pages >> order }

// FrameAllocator is a buddy allocator over one or more zones of physical
// memory.
type FrameAllocator struct {
	pageSize  uint32
	pageShift int
	maxOrder  int
	zones     []*zone
}

// NewFrameAllocator creates an allocator for blocks of up to
// pageSize << maxOrder bytes.
func NewFrameAllocator(pageSize uint32, maxOrder int) (*FrameAllocator, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", pageSize)
	}
	if maxOrder < 0 || maxOrder > 20 {
		return nil, fmt.Errorf("invalid maximum order: %d", maxOrder)
	}
	return &FrameAllocator{
		pageSize:  pageSize,
		pageShift: bits.TrailingZeros32(pageSize),
		maxOrder:  maxOrder,
	}, nil
}

// PageSize returns the size of an order 0 block.
func (a *FrameAllocator) PageSize() uint32 { return a.pageSize }

// MaxOrder returns the largest block order.
func (a *FrameAllocator) MaxOrder() int { return a.maxOrder }

// MaxBlockSize returns the size of the largest block that can be allocated.
func (a *FrameAllocator) MaxBlockSize() uint32 { return a.pageSize << a.maxOrder }

// AddZone puts [base, base+size) under management. All of it starts free.
func (a *FrameAllocator) AddZone(base, size uint32) error {
	if base&(a.pageSize-1) != 0 {
		return fmt.Errorf("zone base %#08x is not page aligned", base)
	}
	pages := size >> a.pageShift
	if pages == 0 {
		return fmt.Errorf("zone at %#08x is smaller than a page", base)
	}
	for _, z := range a.zones {
		zEnd := uint64(z.base) + uint64(z.pages)<<a.pageShift
		if uint64(base) < zEnd && uint64(base)+uint64(pages)<<a.pageShift > uint64(z.base) {
			return fmt.Errorf("zone at %#08x overlaps zone at %#08x", base, z.base)
		}
	}

	z := &zone{base: base, pages: pages, reserved: newBitSet(pages)}
	for k := 0; k <= a.maxOrder; k++ {
		z.free = append(z.free, newBitSet(z.blocks(k)))
	}

	// Carve the zone into the largest aligned blocks that fit.
	for p := uint32(0); p < pages; {
		k := a.maxOrder
		for k > 0 && (p&(1<<k-1) != 0 || p+1<<k > pages) {
			k--
		}
		z.free[k].set(p >> k)
		p += 1 << k
	}

	a.zones = append(a.zones, z)
	return nil
}

// Order returns the smallest block order that holds size bytes.
func (a *FrameAllocator) Order(size uint32) (int, error) {
	if size == 0 {
		size = 1
	}
	pages := (uint64(size) + uint64(a.pageSize) - 1) >> a.pageShift
	order := bits.Len64(pages - 1)
	if order > a.maxOrder {
		return 0, kerrors.New(kerrors.ENOMEM,
			fmt.Sprintf("request of %d bytes exceeds the largest block of %d bytes", size, a.MaxBlockSize()),
			map[string]interface{}{"size": size, "order": order})
	}
	return order, nil
}

// Allocate returns a free block large enough for size bytes.
func (a *FrameAllocator) Allocate(size uint32) (Frame, error) {
	order, err := a.Order(size)
	if err != nil {
		return Frame{}, err
	}
	for _, z := range a.zones {
		if idx, ok := a.allocate(z, order); ok {
			return Frame{Base: z.base + idx<<(order+a.pageShift), Size: a.pageSize << order}, nil
		}
	}
	return Frame{}, kerrors.OutOfMemory(size, "frame allocator")
}

// allocate takes a block of the given order, splitting a larger block when
// none is free at that order.
func (a *FrameAllocator) allocate(z *zone, order int) (uint32, bool) {
	if idx, ok := z.free[order].first(); ok {
		z.free[order].clear(idx)
		return idx, true
	}
	if order == a.maxOrder {
		return 0, false
	}
	parent, ok := a.allocate(z, order+1)
	if !ok {
		return 0, false
	}
	z.free[order].set(parent<<1 | 1)
	return parent << 1, true
}

// Free returns a block to the allocator and merges it with its buddy for
// as long as the buddy is free.
func (a *FrameAllocator) Free(f Frame) error {
	order, err := a.Order(f.Size)
	if err != nil {
		return err
	}
	z := a.zoneOf(f.Base)
	if z == nil {
		return kerrors.Errorf(kerrors.EINVAL, "frame %#08x is not managed", f.Base)
	}
	page := (f.Base - z.base) >> a.pageShift
	if page&(1<<order-1) != 0 || page+1<<order > z.pages {
		return kerrors.Errorf(kerrors.EINVAL, "frame %#08x is not an order %d block", f.Base, order)
	}
	for p := page; p < page+1<<order; p++ {
		if z.reserved.on(p) {
			return kerrors.Errorf(kerrors.EINVAL, "frame %#08x contains reserved memory", f.Base)
		}
	}
	if a.covered(z, page, order) {
		return kerrors.Errorf(kerrors.EINVAL, "double free of frame %#08x", f.Base)
	}

	idx := page >> order
	for order < a.maxOrder {
		buddy := idx ^ 1
		if !z.free[order].on(buddy) {
			break
		}
		z.free[order].clear(buddy)
		idx >>= 1
		order++
	}
	z.free[order].set(idx)
	return nil
}

// covered reports whether any page of the block, or any block containing
// it, is already free.
func (a *FrameAllocator) covered(z *zone, page uint32, order int) bool {
	for k := order; k <= a.maxOrder; k++ {
		if z.free[k].on(page >> k) {
			return true
		}
	}
	for k := 0; k < order; k++ {
		for idx := page >> k; idx < (page+1<<order)>>k; idx++ {
			if z.free[k].on(idx) {
				return true
			}
		}
	}
	return false
}

// Reserve marks [addr, addr+size) as permanently in use. Parts of the
// range outside every zone are ignored. The range must currently be free;
// otherwise nothing is changed. Reserved pages are never merged or freed.
func (a *FrameAllocator) Reserve(addr, size uint32) error {
	if size == 0 {
		return nil
	}
	first := addr &^ (a.pageSize - 1)
	last := uint64(addr) + uint64(size)
	type span struct {
		z    *zone
		from uint32
		to   uint32
	}
	var spans []span
	for _, z := range a.zones {
		zEnd := uint64(z.base) + uint64(z.pages)<<a.pageShift
		lo, hi := uint64(first), last
		if lo < uint64(z.base) {
			lo = uint64(z.base)
		}
		if hi > zEnd {
			hi = zEnd
		}
		if lo >= hi {
			continue
		}
		from := uint32((lo - uint64(z.base)) >> a.pageShift)
		to := uint32((hi - uint64(z.base) + uint64(a.pageSize) - 1) >> a.pageShift)
		for p := from; p < to; p++ {
			if _, ok := a.freeOrder(z, p); !ok {
				return kerrors.Errorf(kerrors.EBUSY, "page %#08x is already in use", z.base+p<<a.pageShift)
			}
		}
		spans = append(spans, span{z, from, to})
	}

	for _, s := range spans {
		for p := s.from; p < s.to; p++ {
			k, _ := a.freeOrder(s.z, p)
			// Split the enclosing free block down to the page, releasing
			// the halves that do not contain it.
			s.z.free[k].clear(p >> k)
			for j := k - 1; j >= 0; j-- {
				s.z.free[j].set((p >> j) ^ 1)
			}
			s.z.reserved.set(p)
		}
	}
	return nil
}

// freeOrder returns the order of the free block containing page.
func (a *FrameAllocator) freeOrder(z *zone, page uint32) (int, bool) {
	for k := 0; k <= a.maxOrder; k++ {
		if z.free[k].on(page >> k) {
			return k, true
		}
	}
	return 0, false
}

func (a *FrameAllocator) zoneOf(addr uint32) *zone {
	for _, z := range a.zones {
		if addr >= z.base && uint64(addr-z.base) < uint64(z.pages)<<a.pageShift {
			return z
		}
	}
	return nil
}

// IsManaged reports whether addr belongs to a zone of this allocator.
func (a *FrameAllocator) IsManaged(addr uint32) bool { return a.zoneOf(addr) != nil }

// IsFree reports whether the page containing addr is available.
func (a *FrameAllocator) IsFree(addr uint32) bool {
	z := a.zoneOf(addr)
	if z == nil {
		return false
	}
	_, ok := a.freeOrder(z, (addr-z.base)>>a.pageShift)
	return ok
}

// IsReserved reports whether the page containing addr was reserved.
func (a *FrameAllocator) IsReserved(addr uint32) bool {
	z := a.zoneOf(addr)
	return z != nil && z.reserved.on((addr-z.base)>>a.pageShift)
}

// BlockFree reports whether the block of the given order starting at addr
// is marked free at exactly that order.
func (a *FrameAllocator) BlockFree(addr uint32, order int) bool {
	z := a.zoneOf(addr)
	if z == nil || order < 0 || order > a.maxOrder {
		return false
	}
	page := (addr - z.base) >> a.pageShift
	return page&(1<<order-1) == 0 && z.free[order].on(page>>order)
}

// FreeBytes returns the amount of free memory over all zones.
func (a *FrameAllocator) FreeBytes() uint64 {
	var total uint64
	for _, z := range a.zones {
		for k, set := range z.free {
			total += uint64(set.count) << (k + a.pageShift)
		}
	}
	return total
}

// TotalBytes returns the amount of managed memory over all zones.
func (a *FrameAllocator) TotalBytes() uint64 {
	var total uint64
	for _, z := range a.zones {
		total += uint64(z.pages) << a.pageShift
	}
	return total
}

// FreeBlocks returns the number of free blocks at each order.
func (a *FrameAllocator) FreeBlocks() []int {
	out := make([]int, a.maxOrder+1)
	for _, z := range a.zones {
		for k, set := range z.free {
			out[k] += int(set.count)
		}
	}
	return out
}
