package mmu

// AccessPermitted reports whether every page of [virt, virt+size) is
// mapped in the address space of t and allows access. User accesses never
// reach kernel addresses.
func (m *MMU) AccessPermitted(t *Table, virt, size uint32, access Access) bool {
	if size == 0 {
		return true
	}
	end := uint64(virt) + uint64(size)
	if end > 1<<32 {
		return false
	}
	for page := uint64(virt &^ (PageSize - 1)); page < end; page += PageSize {
		v := uint32(page)
		if access&AccessUser != 0 && v >= m.split {
			return false
		}
		pte, ok := m.walk(t, v)
		if !ok || !permits(pte, access) {
			return false
		}
	}
	return true
}

// UserReadable reports whether user code in t may read the range.
func (m *MMU) UserReadable(t *Table, virt, size uint32) bool {
	return m.AccessPermitted(t, virt, size, AccessUser|AccessRead)
}

// UserWritable reports whether user code in t may write the range.
func (m *MMU) UserWritable(t *Table, virt, size uint32) bool {
	return m.AccessPermitted(t, virt, size, AccessUser|AccessRead|AccessWrite)
}
