package mmu

import (
	"encoding/binary"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// The kernel reaches physical memory of other address spaces through two
// window pages mapped on demand into the kernel table.
const (
	windowSource = iota
	windowTarget
)

func (m *MMU) openWindow(slot int, phys uint32) (uint32, error) {
	virt := m.window + uint32(slot)*PageSize
	if err := m.unmapPage(m.kernel, virt, false); err != nil {
		return 0, err
	}
	attrs, _ := attributes(TypeData, PermRWNA)
	if err := m.mapPage(m.kernel, phys&PTE_BASE, virt, attrs); err != nil {
		return 0, err
	}
	return virt + phys&(PageSize-1), nil
}

func (m *MMU) closeWindows() {
	_ = m.unmapPage(m.kernel, m.window+windowSource*PageSize, false)
	_ = m.unmapPage(m.kernel, m.window+windowTarget*PageSize, false)
}

// kernelBytes returns the RAM backing n bytes at a kernel virtual address
// that does not cross a page.
func (m *MMU) kernelBytes(virt, n uint32) ([]byte, error) {
	phys, err := m.VirtualToPhysical(m.kernel, virt)
	if err != nil {
		return nil, err
	}
	b, err := m.ram.Slice(phys, n)
	if err != nil {
		return nil, kerrors.BadAddress(virt, n, "physical memory")
	}
	return b, nil
}

// transfer walks n bytes at virt in t one page at a time, handing fn the
// window view of each chunk and its offset into the range.
func (m *MMU) transfer(t *Table, virt, n uint32, fn func(b []byte, off uint32)) error {
	defer m.closeWindows()
	for off := uint32(0); off < n; {
		v := virt + off
		chunk := min(n-off, PageSize-v&(PageSize-1))
		phys, err := m.VirtualToPhysical(t, v)
		if err != nil {
			return err
		}
		wv, err := m.openWindow(windowTarget, phys)
		if err != nil {
			return err
		}
		b, err := m.kernelBytes(wv, chunk)
		if err != nil {
			return err
		}
		fn(b, off)
		off += chunk
	}
	return nil
}

// Copy copies n bytes from srcVirt in src to dstVirt in dst. Neither
// table needs to be installed.
func (m *MMU) Copy(dst *Table, dstVirt uint32, src *Table, srcVirt uint32, n uint32) error {
	if uint64(dstVirt)+uint64(n) > 1<<32 || uint64(srcVirt)+uint64(n) > 1<<32 {
		return kerrors.BadAddress(dstVirt, n, "copy")
	}
	defer m.closeWindows()
	for off := uint32(0); off < n; {
		sv, dv := srcVirt+off, dstVirt+off
		chunk := min(n-off, PageSize-sv&(PageSize-1), PageSize-dv&(PageSize-1))

		sp, err := m.VirtualToPhysical(src, sv)
		if err != nil {
			return err
		}
		dp, err := m.VirtualToPhysical(dst, dv)
		if err != nil {
			return err
		}
		sw, err := m.openWindow(windowSource, sp)
		if err != nil {
			return err
		}
		dw, err := m.openWindow(windowTarget, dp)
		if err != nil {
			return err
		}
		sb, err := m.kernelBytes(sw, chunk)
		if err != nil {
			return err
		}
		db, err := m.kernelBytes(dw, chunk)
		if err != nil {
			return err
		}
		copy(db, sb)
		off += chunk
	}
	return nil
}

// CopyIn reads len(buf) bytes at virt in t.
func (m *MMU) CopyIn(t *Table, virt uint32, buf []byte) error {
	if uint64(virt)+uint64(len(buf)) > 1<<32 {
		return kerrors.BadAddress(virt, uint32(len(buf)), "copy in")
	}
	return m.transfer(t, virt, uint32(len(buf)), func(b []byte, off uint32) {
		copy(buf[off:], b)
	})
}

// CopyOut writes buf to virt in t.
func (m *MMU) CopyOut(t *Table, virt uint32, buf []byte) error {
	if uint64(virt)+uint64(len(buf)) > 1<<32 {
		return kerrors.BadAddress(virt, uint32(len(buf)), "copy out")
	}
	return m.transfer(t, virt, uint32(len(buf)), func(b []byte, off uint32) {
		copy(b, buf[off:])
	})
}

// Zero clears n bytes at virt in t.
func (m *MMU) Zero(t *Table, virt, n uint32) error {
	if uint64(virt)+uint64(n) > 1<<32 {
		return kerrors.BadAddress(virt, n, "zero")
	}
	return m.transfer(t, virt, n, func(b []byte, _ uint32) {
		clear(b)
	})
}

// ReadWords reads n little-endian words at virt in t.
func (m *MMU) ReadWords(t *Table, virt uint32, n int) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if err := m.CopyIn(t, virt, buf); err != nil {
		return nil, err
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return words, nil
}

// WriteWords writes words little-endian at virt in t.
func (m *MMU) WriteWords(t *Table, virt uint32, words ...uint32) error {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return m.CopyOut(t, virt, buf)
}
