// Package mm provides the kernel's memory managers: simulated physical RAM,
// the buddy frame allocator and the kernel heap.
package mm

import (
	"encoding/binary"
	"fmt"
)

// RAM is the simulated physical memory of the board. Addresses are
// physical and start at Base.
type RAM struct {
	base    uint32
	data    []byte
	release func() error
}

// NewRAM allocates size bytes of physical memory starting at base.
func NewRAM(base, size uint32) (*RAM, error) {
	if size == 0 {
		return nil, fmt.Errorf("invalid RAM size: %d", size)
	}
	if uint64(base)+uint64(size) > 1<<32 {
		return nil, fmt.Errorf("RAM at %#08x with size %#x exceeds the 32-bit address space", base, size)
	}
	data, release, err := mapRAM(int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to back %d bytes of RAM: %w", size, err)
	}
	return &RAM{base: base, data: data, release: release}, nil
}

// Base returns the first physical address.
func (r *RAM) Base() uint32 { return r.base }

// Size returns the amount of RAM in bytes.
func (r *RAM) Size() uint32 { return uint32(len(r.data)) }

// Contains reports whether [addr, addr+n) lies in RAM.
func (r *RAM) Contains(addr, n uint32) bool {
	return addr >= r.base && uint64(addr-r.base)+uint64(n) <= uint64(len(r.data))
}

// Slice returns the backing bytes of [addr, addr+n).
func (r *RAM) Slice(addr, n uint32) ([]byte, error) {
	if !r.Contains(addr, n) {
		return nil, fmt.Errorf("physical range %#08x+%#x is outside RAM", addr, n)
	}
	off := addr - r.base
	return r.data[off : off+n : off+n], nil
}

// Load copies data into RAM at addr.
func (r *RAM) Load(addr uint32, data []byte) error {
	dst, err := r.Slice(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// Word reads a little-endian 32-bit word. addr must be in RAM.
func (r *RAM) Word(addr uint32) uint32 {
	b, err := r.Slice(addr, 4)
	if err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint32(b)
}

// SetWord writes a little-endian 32-bit word. addr must be in RAM.
func (r *RAM) SetWord(addr, v uint32) {
	b, err := r.Slice(addr, 4)
	if err != nil {
		panic(err)
	}
	binary.LittleEndian.PutUint32(b, v)
}

// Zero clears [addr, addr+n).
func (r *RAM) Zero(addr, n uint32) error {
	b, err := r.Slice(addr, n)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// Close releases the host memory backing the RAM.
func (r *RAM) Close() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.release = nil
	r.data = nil
	return err
}
