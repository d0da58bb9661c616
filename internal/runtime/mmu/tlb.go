package mmu

// tlbKey identifies a cached translation. Global entries match every ASID.
type tlbKey struct {
	asid   uint8
	global bool
	vpn    uint32
}

// TLB caches small page descriptors by virtual page number.
type TLB struct {
	entries map[tlbKey]uint32
	stats   TLBStats
}

// TLBStats counts TLB events.
type TLBStats struct {
	Hits           uint64
	Misses         uint64
	Flushes        uint64
	ASIDFlushes    uint64
	MVAInvalidates uint64
}

func newTLB() *TLB {
	return &TLB{entries: make(map[tlbKey]uint32)}
}

func (t *TLB) lookup(asid uint8, vpn uint32) (uint32, bool) {
	if pte, ok := t.entries[tlbKey{global: true, vpn: vpn}]; ok {
		t.stats.Hits++
		return pte, true
	}
	if pte, ok := t.entries[tlbKey{asid: asid, vpn: vpn}]; ok {
		t.stats.Hits++
		return pte, true
	}
	t.stats.Misses++
	return 0, false
}

func (t *TLB) insert(asid uint8, vpn, pte uint32) {
	if pte&PTE_NG == 0 {
		t.entries[tlbKey{global: true, vpn: vpn}] = pte
		return
	}
	t.entries[tlbKey{asid: asid, vpn: vpn}] = pte
}

// invalidateMVA drops the global entry and the ASID entry for vpn.
func (t *TLB) invalidateMVA(asid uint8, vpn uint32) {
	delete(t.entries, tlbKey{global: true, vpn: vpn})
	delete(t.entries, tlbKey{asid: asid, vpn: vpn})
	t.stats.MVAInvalidates++
}

// invalidateASID drops every non-global entry tagged with asid.
func (t *TLB) invalidateASID(asid uint8) {
	for k := range t.entries {
		if !k.global && k.asid == asid {
			delete(t.entries, k)
		}
	}
	t.stats.ASIDFlushes++
}

// invalidateAll empties the TLB.
func (t *TLB) invalidateAll() {
	clear(t.entries)
	t.stats.Flushes++
}

// Len returns the number of cached entries.
func (t *TLB) Len() int { return len(t.entries) }
