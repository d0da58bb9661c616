package kernel

import (
	"fmt"

	"github.com/orizon-lang/mordax/internal/runtime/mm"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
)

// Kernel metadata sizes. Every kernel object charges a block of this
// size to the kernel heap for as long as it exists.
const (
	processObjectSize = 64
	threadObjectSize  = 32 + 68 // thread plus saved context
	socketObjectSize  = 32
	serviceObjectSize = 24
	lockObjectSize    = 16
	objectAlignment   = 8
)

// newHeap creates the kernel heap at the configured base. The heap grows
// by mapping fresh frames into the kernel table.
func (k *Kernel) newHeap() (*mm.Heap, error) {
	c := k.cfg
	return mm.NewHeap(c.HeapBase, c.HeapInitialSize, c.HeapLimit, c.PageSize, c.HeapRetries,
		mm.ExpanderFunc(k.expandHeap))
}

// expandHeap backs [at, at+size) with frames, one page at a time. On
// failure the pages mapped so far are unmapped again.
func (k *Kernel) expandHeap(at, size uint32) error {
	kt := k.mmu.KernelTable()
	for off := uint32(0); off < size; off += k.cfg.PageSize {
		f, err := k.frames.Allocate(k.cfg.PageSize)
		if err == nil {
			if err = k.ram.Zero(f.Base, f.Size); err == nil {
				_, err = k.mmu.Map(kt, f.Base, at+off, f.Size, mmu.TypeData, mmu.PermRWNA)
			}
			if err != nil {
				_ = k.frames.Free(f)
			}
		}
		if err != nil {
			if off > 0 {
				_ = k.mmu.Unmap(kt, at, off)
			}
			return err
		}
	}
	k.log.Debug("kernel heap expanded", "at", fmt.Sprintf("%#08x", at), "size", size)
	return nil
}

// kalloc allocates kernel metadata. Running out of kernel heap is fatal.
func (k *Kernel) kalloc(size uint32, what string) uint32 {
	addr, err := k.heap.Allocate(size, objectAlignment)
	if err != nil {
		k.panicf("unable to allocate %s: %v", what, err)
	}
	return addr
}

// kfree releases kernel metadata.
func (k *Kernel) kfree(addr uint32) {
	if err := k.heap.Free(addr); err != nil {
		k.panicf("corrupt kernel heap: %v", err)
	}
}

// kstore copies b into kernel memory at addr.
func (k *Kernel) kstore(addr uint32, b []byte) {
	if err := k.mmu.CopyOut(k.mmu.KernelTable(), addr, b); err != nil {
		k.panicf("unable to write kernel memory at %#08x: %v", addr, err)
	}
}
