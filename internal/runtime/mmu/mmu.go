package mmu

import (
	"fmt"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/mm"
)

// ============================================================================
// Translation tables
// ============================================================================

type lookupKind uint8

const (
	lookupPageTable lookupKind = iota
	lookupMemory
)

// lookupEntry records which virtual address a physical page serves. For
// page-table pages it is the base of the region the table translates.
type lookupEntry struct {
	virt uint32
	kind lookupKind
}

type l2Table struct {
	frame  mm.Frame
	used   int
	pinned bool
}

// Table is the translation table of one address space. The kernel table
// translates addresses at or above the kernel split; user tables translate
// the addresses below it.
type Table struct {
	l1      mm.Frame
	entries uint32
	kernel  bool
	l2      map[uint32]*l2Table
	lookup  map[uint32]lookupEntry
	asid    uint8
	gen     uint64
	pages   int
}

// Kernel reports whether t is the kernel table.
func (t *Table) Kernel() bool { return t.kernel }

// ASID returns the address space identifier last assigned to t.
func (t *Table) ASID() uint8 { return t.asid }

// Base returns the physical address of the first level table.
func (t *Table) Base() uint32 { return t.l1.Base }

// MappedPages returns the number of small pages mapped in t.
func (t *Table) MappedPages() int { return t.pages }

// PageTables returns the number of second level tables in use.
func (t *Table) PageTables() int { return len(t.l2) }

// ============================================================================
// MMU
// ============================================================================

// Config holds the address space layout.
type Config struct {
	// KernelSplit is the first kernel virtual address. It must be a power
	// of two of at least one section.
	KernelSplit uint32
	// WindowBase is the kernel virtual address of the two copy window
	// pages.
	WindowBase uint32
}

// Stats summarizes MMU activity.
type Stats struct {
	TLB         TLBStats
	TLBEntries  int
	Generation  uint64
	Switches    uint64
	KernelPages int
	KernelL2    int
}

// MMU owns the kernel translation table, the currently installed user
// table and the TLB.
type MMU struct {
	ram        *mm.RAM
	frames     *mm.FrameAllocator
	split      uint32
	window     uint32
	kernel     *Table
	user       *Table
	tlb        *TLB
	nextASID   int
	generation uint64
	switches   uint64
}

// New creates the MMU and the kernel translation table. Table memory is
// taken from frames and must lie in ram.
func New(ram *mm.RAM, frames *mm.FrameAllocator, cfg Config) (*MMU, error) {
	if frames.PageSize() != PageSize {
		return nil, fmt.Errorf("unsupported page size %d", frames.PageSize())
	}
	if cfg.KernelSplit < 1<<SectionShift || cfg.KernelSplit&(cfg.KernelSplit-1) != 0 {
		return nil, fmt.Errorf("invalid kernel split %#08x", cfg.KernelSplit)
	}
	if cfg.WindowBase < cfg.KernelSplit || cfg.WindowBase&(PageSize-1) != 0 || cfg.WindowBase > 0xffffe000 {
		return nil, fmt.Errorf("invalid copy window %#08x", cfg.WindowBase)
	}

	m := &MMU{
		ram:        ram,
		frames:     frames,
		split:      cfg.KernelSplit,
		window:     cfg.WindowBase,
		tlb:        newTLB(),
		nextASID:   1,
		generation: 1,
	}
	kt, err := m.newTable(true)
	if err != nil {
		return nil, fmt.Errorf("failed to create kernel translation table: %w", err)
	}
	m.kernel = kt

	// The copy windows keep their second level tables so copying never
	// has to allocate.
	for _, virt := range []uint32{m.window, m.window + PageSize} {
		l2, err := m.l2For(kt, virt>>SectionShift)
		if err != nil {
			return nil, fmt.Errorf("failed to create copy window table: %w", err)
		}
		l2.pinned = true
	}
	return m, nil
}

// Split returns the first kernel virtual address.
func (m *MMU) Split() uint32 { return m.split }

// KernelTable returns the kernel translation table.
func (m *MMU) KernelTable() *Table { return m.kernel }

// UserTable returns the installed user table, or nil.
func (m *MMU) UserTable() *Table { return m.user }

// Stats returns a snapshot of the MMU counters.
func (m *MMU) Stats() Stats {
	return Stats{
		TLB:         m.tlb.stats,
		TLBEntries:  m.tlb.Len(),
		Generation:  m.generation,
		Switches:    m.switches,
		KernelPages: m.kernel.pages,
		KernelL2:    len(m.kernel.l2),
	}
}

func (m *MMU) newTable(kernel bool) (*Table, error) {
	entries := m.split >> SectionShift
	if kernel {
		entries = L1KernelEntries
	}
	frame, err := m.frames.Allocate(entries * 4)
	if err != nil {
		return nil, err
	}
	if err := m.ram.Zero(frame.Base, frame.Size); err != nil {
		_ = m.frames.Free(frame)
		return nil, kerrors.Errorf(kerrors.EINTERNAL, "translation table outside RAM: %v", err)
	}
	t := &Table{
		l1:      frame,
		entries: entries,
		kernel:  kernel,
		l2:      make(map[uint32]*l2Table),
		lookup:  make(map[uint32]lookupEntry),
	}
	root := uint32(0)
	if kernel {
		root = m.split
	}
	for off := uint32(0); off < frame.Size; off += PageSize {
		t.lookup[frame.Base+off] = lookupEntry{virt: root, kind: lookupPageTable}
	}
	return t, nil
}

// CreateTable returns an empty user translation table.
func (m *MMU) CreateTable() (*Table, error) {
	return m.newTable(false)
}

// DestroyTable releases the page-table pages of t and every mapped frame
// that belongs to the frame allocator.
func (m *MMU) DestroyTable(t *Table) error {
	if t == nil || t.kernel {
		return kerrors.Errorf(kerrors.EINVAL, "cannot destroy the kernel translation table")
	}
	var firstErr error
	for l1i, l2 := range t.l2 {
		for i := uint32(0); i < L2Entries; i++ {
			pte := m.ram.Word(l2.frame.Base + i*4)
			if pte&PTE_SMALL_PAGE == 0 {
				continue
			}
			if err := m.release(pte & PTE_BASE); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := m.frames.Free(l2.frame); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.l2, l1i)
	}
	if t.gen == m.generation {
		m.tlb.invalidateASID(t.asid)
	}
	if err := m.frames.Free(t.l1); err != nil && firstErr == nil {
		firstErr = err
	}
	if m.user == t {
		m.user = nil
	}
	t.lookup = nil
	t.pages = 0
	return firstErr
}

// release returns a mapped frame to the frame allocator if it owns it.
func (m *MMU) release(phys uint32) error {
	if !m.frames.IsManaged(phys) || m.frames.IsReserved(phys) {
		return nil
	}
	return m.frames.Free(mm.Frame{Base: phys, Size: PageSize})
}

// tableFor returns the table that translates virt when t is installed.
func (m *MMU) tableFor(t *Table, virt uint32) *Table {
	if virt >= m.split {
		return m.kernel
	}
	if t == nil || t.kernel {
		return nil
	}
	return t
}

// pageSpan returns the first page and page count covering [virt, virt+size).
func pageSpan(virt, size uint32) (uint32, uint32, error) {
	if size == 0 {
		return 0, 0, kerrors.Errorf(kerrors.EINVAL, "empty range at %#08x", virt)
	}
	start := virt &^ (PageSize - 1)
	end := (uint64(virt) + uint64(size) + PageSize - 1) &^ (PageSize - 1)
	if end > 1<<32 {
		return 0, 0, kerrors.Errorf(kerrors.EINVAL, "range %#08x+%#x wraps the address space", virt, size)
	}
	return start, uint32((end - uint64(start)) >> PageShift), nil
}

// ============================================================================
// Mapping
// ============================================================================

// Map maps size bytes of physical memory at phys to virt in t with the
// given attributes. Addresses at or above the kernel split go to the
// kernel table. Either every page is mapped or none is. The page offset of
// virt is ignored and the returned address is the virtual address of phys.
func (m *MMU) Map(t *Table, phys, virt, size uint32, typ MemoryType, perm Permissions) (uint32, error) {
	attrs, err := attributes(typ, perm)
	if err != nil {
		return 0, err
	}
	span := uint64(size) + uint64(phys&(PageSize-1))
	if span > 1<<32-PageSize || uint64(phys&^(PageSize-1))+span > 1<<32 {
		return 0, kerrors.Errorf(kerrors.EINVAL, "physical range %#08x+%#x wraps the address space", phys, size)
	}
	start, n, err := pageSpan(virt&^(PageSize-1), uint32(span))
	if err != nil {
		return 0, err
	}
	last := start + (n-1)*PageSize
	tt := m.tableFor(t, start)
	if tt == nil || m.tableFor(t, last) != tt {
		return 0, kerrors.BadAddress(virt, size, "map")
	}

	physStart := phys &^ (PageSize - 1)
	for i := uint32(0); i < n; i++ {
		if err := m.mapPage(tt, physStart+i*PageSize, start+i*PageSize, attrs); err != nil {
			for j := uint32(0); j < i; j++ {
				_ = m.unmapPage(tt, start+j*PageSize, false)
			}
			return 0, err
		}
	}
	return start + phys&(PageSize-1), nil
}

// l2For returns the second level table for section l1i of t, allocating
// it if needed.
func (m *MMU) l2For(t *Table, l1i uint32) (*l2Table, error) {
	if l2, ok := t.l2[l1i]; ok {
		return l2, nil
	}
	frame, err := m.frames.Allocate(PageSize)
	if err != nil {
		return nil, err
	}
	if err := m.ram.Zero(frame.Base, frame.Size); err != nil {
		_ = m.frames.Free(frame)
		return nil, kerrors.Errorf(kerrors.EINTERNAL, "page table outside RAM: %v", err)
	}
	l2 := &l2Table{frame: frame}
	t.l2[l1i] = l2
	t.lookup[frame.Base] = lookupEntry{virt: l1i << SectionShift, kind: lookupPageTable}
	m.ram.SetWord(m.l1Entry(t, l1i), frame.Base&L1_COARSE_BASE|L1_COARSE)
	return l2, nil
}

func (m *MMU) mapPage(t *Table, phys, virt, attrs uint32) error {
	l1i := virt >> SectionShift
	l2, err := m.l2For(t, l1i)
	if err != nil {
		return err
	}

	addr := l2.frame.Base + ((virt>>PageShift)&(L2Entries-1))*4
	if m.ram.Word(addr)&PTE_SMALL_PAGE != 0 {
		m.dropEmptyL2(t, l1i)
		return kerrors.Errorf(kerrors.EBUSY, "virtual page %#08x is already mapped", virt)
	}
	pte := phys&PTE_BASE | PTE_SMALL_PAGE | attrs
	if !t.kernel {
		pte |= PTE_NG
	}
	m.ram.SetWord(addr, pte)
	l2.used++
	t.pages++
	if _, ok := t.lookup[phys]; !ok {
		t.lookup[phys] = lookupEntry{virt: virt, kind: lookupMemory}
	}
	m.tlb.invalidateMVA(t.asid, virt>>PageShift)
	return nil
}

// l1Entry returns the address of the first level descriptor for l1i. The
// kernel table spans the whole address space and is indexed like a user
// table.
func (m *MMU) l1Entry(t *Table, l1i uint32) uint32 {
	return t.l1.Base + l1i*4
}

func (m *MMU) dropEmptyL2(t *Table, l1i uint32) {
	l2, ok := t.l2[l1i]
	if !ok || l2.used > 0 || l2.pinned {
		return
	}
	m.ram.SetWord(m.l1Entry(t, l1i), 0)
	delete(t.lookup, l2.frame.Base)
	delete(t.l2, l1i)
	_ = m.frames.Free(l2.frame)
}

// Unmap removes the mappings of [virt, virt+size). Pages that are not
// mapped are skipped. Frames owned by the frame allocator are freed.
func (m *MMU) Unmap(t *Table, virt, size uint32) error {
	start, n, err := pageSpan(virt, size)
	if err != nil {
		return err
	}
	var firstErr error
	for i := uint32(0); i < n; i++ {
		v := start + i*PageSize
		tt := m.tableFor(t, v)
		if tt == nil {
			continue
		}
		if err := m.unmapPage(tt, v, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MMU) unmapPage(t *Table, virt uint32, release bool) error {
	l1i := virt >> SectionShift
	l2, ok := t.l2[l1i]
	if !ok {
		return nil
	}
	addr := l2.frame.Base + ((virt>>PageShift)&(L2Entries-1))*4
	pte := m.ram.Word(addr)
	if pte&PTE_SMALL_PAGE == 0 {
		return nil
	}
	m.ram.SetWord(addr, 0)
	l2.used--
	t.pages--
	phys := pte & PTE_BASE
	if e, ok := t.lookup[phys]; ok && e.kind == lookupMemory && e.virt == virt {
		delete(t.lookup, phys)
	}
	m.tlb.invalidateMVA(t.asid, virt>>PageShift)
	m.dropEmptyL2(t, l1i)
	if release {
		return m.release(phys)
	}
	return nil
}

// ChangeAttributes rewrites the type and permission bits of mapped pages
// without touching their physical addresses. Every page must be mapped.
func (m *MMU) ChangeAttributes(t *Table, virt, size uint32, typ MemoryType, perm Permissions) error {
	attrs, err := attributes(typ, perm)
	if err != nil {
		return err
	}
	start, n, err := pageSpan(virt, size)
	if err != nil {
		return err
	}
	addrs := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		v := start + i*PageSize
		addr, ok := m.pteAddr(t, v)
		if !ok {
			return kerrors.Errorf(kerrors.ENOENT, "virtual page %#08x is not mapped", v)
		}
		addrs = append(addrs, addr)
	}
	for i, addr := range addrs {
		pte := m.ram.Word(addr)
		m.ram.SetWord(addr, pte&^pteAttrMask|attrs)
		m.tlb.invalidateMVA(m.tableFor(t, start).asid, (start>>PageShift)+uint32(i))
	}
	return nil
}

// pteAddr returns the physical address of the descriptor mapping virt.
func (m *MMU) pteAddr(t *Table, virt uint32) (uint32, bool) {
	tt := m.tableFor(t, virt)
	if tt == nil {
		return 0, false
	}
	l2, ok := tt.l2[virt>>SectionShift]
	if !ok {
		return 0, false
	}
	addr := l2.frame.Base + ((virt>>PageShift)&(L2Entries-1))*4
	if m.ram.Word(addr)&PTE_SMALL_PAGE == 0 {
		return 0, false
	}
	return addr, true
}

// walk performs a table walk for virt. The first level descriptor is read
// from table memory like the hardware would.
func (m *MMU) walk(t *Table, virt uint32) (uint32, bool) {
	tt := m.tableFor(t, virt)
	if tt == nil {
		return 0, false
	}
	l1 := m.ram.Word(m.l1Entry(tt, virt>>SectionShift))
	if l1&L1_TYPE_MASK != L1_COARSE {
		return 0, false
	}
	pte := m.ram.Word(l1&L1_COARSE_BASE + ((virt>>PageShift)&(L2Entries-1))*4)
	if pte&PTE_SMALL_PAGE == 0 {
		return 0, false
	}
	return pte, true
}

// ============================================================================
// Address translation
// ============================================================================

// VirtualToPhysical translates virt in the address space of t. The TLB is
// consulted first for the kernel and the installed user table.
func (m *MMU) VirtualToPhysical(t *Table, virt uint32) (uint32, error) {
	tt := m.tableFor(t, virt)
	if tt == nil {
		return 0, kerrors.BadAddress(virt, 1, "translate")
	}
	vpn := virt >> PageShift
	cached := tt.kernel || tt == m.user
	if cached {
		if pte, ok := m.tlb.lookup(tt.asid, vpn); ok {
			return pte&PTE_BASE | virt&(PageSize-1), nil
		}
	}
	pte, ok := m.walk(t, virt)
	if !ok {
		return 0, kerrors.BadAddress(virt, 1, "translate")
	}
	if cached {
		m.tlb.insert(tt.asid, vpn, pte)
	}
	return pte&PTE_BASE | virt&(PageSize-1), nil
}

// PhysicalToVirtual returns the virtual address phys is mapped at, looking
// in t first and in the kernel table second.
func (m *MMU) PhysicalToVirtual(t *Table, phys uint32) (uint32, bool) {
	page := phys &^ (PageSize - 1)
	for _, tt := range []*Table{t, m.kernel} {
		if tt == nil {
			continue
		}
		if e, ok := tt.lookup[page]; ok && e.kind == lookupMemory {
			return e.virt | phys&(PageSize-1), true
		}
	}
	return 0, false
}

// IsPageTable reports whether phys holds page-table memory of t or of the
// kernel table.
func (m *MMU) IsPageTable(t *Table, phys uint32) bool {
	page := phys &^ (PageSize - 1)
	for _, tt := range []*Table{t, m.kernel} {
		if tt == nil {
			continue
		}
		if e, ok := tt.lookup[page]; ok && e.kind == lookupPageTable {
			return true
		}
	}
	return false
}

// SetUserTable installs t as the user translation table. A table whose
// ASID belongs to an older generation gets a fresh one; when the 8-bit
// ASID space runs out the whole TLB is invalidated and a new generation
// starts.
func (m *MMU) SetUserTable(t *Table) {
	if t != nil && !t.kernel && t.gen != m.generation {
		if m.nextASID > 0xff {
			m.tlb.invalidateAll()
			m.generation++
			m.nextASID = 1
		}
		t.asid = uint8(m.nextASID)
		t.gen = m.generation
		m.nextASID++
	}
	m.user = t
	m.switches++
}

// InvalidateTLB drops every cached translation.
func (m *MMU) InvalidateTLB() { m.tlb.invalidateAll() }
