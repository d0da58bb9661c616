// Package mmu implements the two-level ARMv7 short-descriptor translation
// tables of the kernel and of every process, together with the TLB and
// ASID management and the copy routines that move data between address
// spaces.
package mmu

import (
	"fmt"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// ============================================================================
// Descriptor formats
// ============================================================================

// First level descriptor bits.
const (
	L1_TYPE_MASK   uint32 = 0x3
	L1_COARSE      uint32 = 0x1
	L1_COARSE_BASE uint32 = 0xfffffc00
)

// Second level small page descriptor bits.
const (
	PTE_XN         uint32 = 1 << 0
	PTE_SMALL_PAGE uint32 = 1 << 1
	PTE_B          uint32 = 1 << 2
	PTE_C          uint32 = 1 << 3
	PTE_AP0        uint32 = 1 << 4
	PTE_AP1        uint32 = 1 << 5
	PTE_TEX0       uint32 = 1 << 6
	PTE_TEX1       uint32 = 1 << 7
	PTE_TEX2       uint32 = 1 << 8
	PTE_AP2        uint32 = 1 << 9
	PTE_S          uint32 = 1 << 10
	PTE_NG         uint32 = 1 << 11
	PTE_BASE       uint32 = 0xfffff000

	pteAttrMask = PTE_XN | PTE_B | PTE_C | PTE_AP0 | PTE_AP1 | PTE_TEX0 | PTE_TEX1 | PTE_TEX2 | PTE_AP2 | PTE_S
)

// Table geometry.
const (
	L1KernelEntries = 4096
	L1UserEntries   = 2048
	L2Entries       = 256
	SectionShift    = 20
	PageShift       = 12
	PageSize        = 1 << PageShift
)

// MemoryType selects the caching and execution attributes of a mapping.
type MemoryType uint32

const (
	TypeCode MemoryType = iota
	TypeRodata
	TypeData
	TypeStack
	TypeStronglyOrdered
	TypeDevice
	TypeUncached
)

var typeNames = [...]string{"CODE", "RODATA", "DATA", "STACK", "STRORD", "DEVICE", "UNCACHED"}

func (t MemoryType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("MemoryType(%d)", uint32(t))
}

// Permissions gives kernel and user access, in that order.
type Permissions uint32

const (
	PermRWRW Permissions = iota
	PermRWRO
	PermRWNA
	PermRORO
	PermRONA
	PermNANA
)

var permNames = [...]string{"RW_RW", "RW_RO", "RW_NA", "RO_RO", "RO_NA", "NA_NA"}

func (p Permissions) String() string {
	if int(p) < len(permNames) {
		return permNames[p]
	}
	return fmt.Sprintf("Permissions(%d)", uint32(p))
}

// Access is a set of access kinds checked by AccessPermitted.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessUser
)

// attributes encodes type and permissions as small page descriptor bits.
func attributes(t MemoryType, p Permissions) (uint32, error) {
	var bits uint32
	switch t {
	case TypeCode:
		bits = PTE_TEX0 | PTE_C | PTE_B
	case TypeRodata, TypeData, TypeStack:
		bits = PTE_TEX0 | PTE_C | PTE_B | PTE_XN
	case TypeStronglyOrdered:
		bits = PTE_XN
	case TypeDevice:
		bits = PTE_B | PTE_XN
	case TypeUncached:
		bits = PTE_TEX0 | PTE_XN
	default:
		return 0, kerrors.Errorf(kerrors.EINVAL, "invalid memory type %d", uint32(t))
	}

	switch p {
	case PermRWRW:
		bits |= PTE_AP1 | PTE_AP0
	case PermRWRO:
		bits |= PTE_AP1
	case PermRWNA:
		bits |= PTE_AP0
	case PermRORO:
		bits |= PTE_AP2 | PTE_AP1 | PTE_AP0
	case PermRONA:
		bits |= PTE_AP2 | PTE_AP0
	case PermNANA:
	default:
		return 0, kerrors.Errorf(kerrors.EINVAL, "invalid memory permissions %d", uint32(p))
	}
	return bits, nil
}

// permits reports whether a small page descriptor allows the access.
func permits(pte uint32, access Access) bool {
	ap := (pte >> 4) & 0x3
	readOnly := pte&PTE_AP2 != 0
	if access&AccessUser != 0 {
		if ap < 0x2 {
			return false
		}
		if access&AccessWrite != 0 && (readOnly || ap != 0x3) {
			return false
		}
		return true
	}
	if ap == 0 {
		return false
	}
	return access&AccessWrite == 0 || !readOnly
}
