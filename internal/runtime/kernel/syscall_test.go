package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/dt"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
)

func TestSystemCalls(t *testing.T) {
	k, out := bootBoard(t, loadBoard(t), nil)
	a := k.Scheduler().Active()

	n := putString(t, k, a, scratch, "hello")
	assert.Equal(t, uint32(0), callRet(t, k, SysSystem, SystemDebug, scratch, n))
	assert.Contains(t, out.String(), "[SYSCALL0: DEBUG] PID 1, TID 0: hello\n")

	assert.Equal(t, uint32(0x80000000), callRet(t, k, SysSystem, SystemGetSplit))
	assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysSystem, 7))
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysSystem, SystemDebug, 0, 4))
	assert.Equal(t, errRet(kerrors.ENOSYS), callRet(t, k, NumSyscalls))
	assert.Equal(t, errRet(kerrors.ENOSYS), callRet(t, k, 0x1234))
	assert.Equal(t, uint64(6), k.Status().Syscalls)
}

func TestSyscallNames(t *testing.T) {
	assert.Equal(t, "SYSTEM", SyscallName(SysSystem))
	assert.Equal(t, "RESOURCE_DESTROY", SyscallName(SysResourceDestroy))
	assert.Equal(t, "SYSCALL99", SyscallName(99))
	for n := uint32(0); n < NumSyscalls; n++ {
		assert.NotNil(t, handlers[n], SyscallName(n))
	}
}

// ============================================================================
// Memory
// ============================================================================

const attrAddr = scratch + 0x40

func TestMapDeviceMemory(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	tbl := a.Process().Table()
	pokeWords(t, k, a, attrAddr, uint32(mmu.TypeDevice), uint32(mmu.PermRWRW))

	virt := callRet(t, k, SysMap, 0x10000000, 0x49020010, 0x10, attrAddr)
	assert.Equal(t, uint32(0x10000010), virt)
	phys, err := k.MMU().VirtualToPhysical(tbl, virt)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x49020010), phys)
	assert.True(t, k.MMU().UserWritable(tbl, 0x10000000, mmu.PageSize))

	// Mapping the same page twice is refused.
	assert.Equal(t, errRet(kerrors.EBUSY), callRet(t, k, SysMap, 0x10000000, 0x49020000, 0x10, attrAddr))

	assert.Equal(t, uint32(0), callRet(t, k, SysUnmap, 0x10000000, 0x10))
	assert.False(t, k.MMU().UserReadable(tbl, 0x10000000, 4))
}

func TestMapErrors(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	pokeWords(t, k, a, attrAddr, uint32(mmu.TypeDevice), uint32(mmu.PermRWRW))
	pokeWords(t, k, a, attrAddr+8, 99, uint32(mmu.PermRWRW))

	tests := []struct {
		name string
		args []uint32
		want kerrors.Errno
	}{
		{"RAM is managed", []uint32{0x10000000, 0x40100000, 0x1000, attrAddr}, kerrors.EFAULT},
		{"range reaches RAM", []uint32{0x10000000, 0x3ffff000, 0x2000, attrAddr}, kerrors.EFAULT},
		{"kernel target", []uint32{0x90000000, 0x49020000, 0x1000, attrAddr}, kerrors.EFAULT},
		{"unreadable attributes", []uint32{0x10000000, 0x49020000, 0x1000, 0}, kerrors.EFAULT},
		{"invalid type", []uint32{0x10000000, 0x49020000, 0x1000, attrAddr + 8}, kerrors.EINVAL},
		{"empty", []uint32{0x10000000, 0x49020000, 0, attrAddr}, kerrors.EINVAL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, errRet(tt.want), callRet(t, k, SysMap, tt.args...))
			assert.False(t, k.MMU().UserReadable(a.Process().Table(), tt.args[0], 4))
		})
	}

	a.Process().permissions = PermNone
	assert.Equal(t, errRet(kerrors.EPERM), callRet(t, k, SysMap, 0x10000000, 0x49020000, 0x1000, attrAddr))
	assert.False(t, k.MMU().UserReadable(a.Process().Table(), 0x10000000, 4))
}

func TestMapAlloc(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	tbl := a.Process().Table()
	free := k.Frames().FreeBytes()
	pokeWords(t, k, a, attrAddr, uint32(mmu.TypeData), uint32(mmu.PermRWRW))
	pokeWords(t, k, a, scratch, 0x3000)

	virt := callRet(t, k, SysMapAlloc, 0x20000000, scratch, attrAddr)
	assert.Equal(t, uint32(0x20000000), virt)
	assert.Equal(t, uint32(0x4000), peekWord(t, k, a, scratch))
	assert.True(t, k.MMU().UserWritable(tbl, virt, 0x4000))
	assert.Equal(t, make([]byte, 32), peek(t, k, a, virt+0x3000, 32))
	// One more page holds the second level table.
	assert.Equal(t, free-0x5000, k.Frames().FreeBytes())

	assert.Equal(t, uint32(0), callRet(t, k, SysUnmap, virt, 0x4000))
	assert.Equal(t, free, k.Frames().FreeBytes())

	pokeWords(t, k, a, scratch, 0x800000)
	assert.Equal(t, errRet(kerrors.ENOMEM), callRet(t, k, SysMapAlloc, 0x20000000, scratch, attrAddr))
	pokeWords(t, k, a, scratch, 0x1000)
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysMapAlloc, 0xa0000000, scratch, attrAddr))
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysMapAlloc, 0x20000000, textBase+0x3000, attrAddr))
	assert.Equal(t, errRet(kerrors.EBUSY), callRet(t, k, SysMapAlloc, textBase, scratch, attrAddr))
	assert.Equal(t, free, k.Frames().FreeBytes())
}

func TestUnmapLeavesKernelSpaceAlone(t *testing.T) {
	k := bootTest(t)
	kt := k.MMU().KernelTable()
	base := k.Config().KernelBase

	assert.Equal(t, uint32(0), callRet(t, k, SysUnmap, base, 0x1000))
	_, err := k.MMU().VirtualToPhysical(kt, base)
	assert.NoError(t, err)

	// A range straddling the split only loses its user half.
	assert.Equal(t, uint32(0), callRet(t, k, SysUnmap, stackTop-0x1000, 0x2000))
	assert.False(t, k.MMU().UserReadable(k.Scheduler().Active().Process().Table(), stackTop-0x1000, 4))
	_, err = k.MMU().VirtualToPhysical(kt, k.Config().HeapBase)
	assert.NoError(t, err)

	assert.Equal(t, uint32(0), callRet(t, k, SysUnmap, 0x30000000, 0))
}

// ============================================================================
// Device tree
// ============================================================================

const (
	nameAddr = scratch + 0x100
	outAddr  = scratch + 0x200
	bufAddr  = scratch + 0x300
)

func nodeOf(t *testing.T, th *Thread, h uint32) *dt.Node {
	t.Helper()
	r, ok := th.Process().Resources().Get(h)
	require.True(t, ok, "handle %#x", h)
	require.Equal(t, ResourceNode, r.Type)
	return r.Object.(*dt.Node)
}

func TestDeviceTreeNodeLookups(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()

	n := putString(t, k, a, nameAddr, "/ocp/serial@49020000")
	byPath := callRet(t, k, SysDTGetNodeByPath, nameAddr, n)
	assert.Equal(t, "/ocp/serial@49020000", nodeOf(t, a, byPath).Path())

	byPhandle := callRet(t, k, SysDTGetNodeByPhandle, 7)
	assert.Same(t, nodeOf(t, a, byPath), nodeOf(t, a, byPhandle))

	putDTString(t, k, a, nameAddr, "mordax,timer")
	byCompat := callRet(t, k, SysDTGetNodeByCompatible, nameAddr, 1)
	assert.Equal(t, "/ocp/timer@49034000", nodeOf(t, a, byCompat).Path())

	assert.Equal(t, errRet(kerrors.ENOENT), callRet(t, k, SysDTGetNodeByCompatible, nameAddr, 2))
	assert.Equal(t, errRet(kerrors.ENOENT), callRet(t, k, SysDTGetNodeByPhandle, 0x4242))
	n = putString(t, k, a, nameAddr, "/nope")
	assert.Equal(t, errRet(kerrors.ENOENT), callRet(t, k, SysDTGetNodeByPath, nameAddr, n))
	n = putString(t, k, a, nameAddr, "ocp")
	assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysDTGetNodeByPath, nameAddr, n))
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysDTGetNodeByPath, 0xc0000000, 4))

	assert.Equal(t, uint32(0), callRet(t, k, SysResourceDestroy, byPhandle))
	assert.Equal(t, 2, a.Process().Resources().Len())
	assert.NotNil(t, nodeOf(t, a, byPath))
}

func TestDeviceTreeProperties(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	n := putString(t, k, a, nameAddr, "/ocp/serial@49020000")
	uart := callRet(t, k, SysDTGetNodeByPath, nameAddr, n)
	n = putString(t, k, a, nameAddr, "/mordax")
	mordax := callRet(t, k, SysDTGetNodeByPath, nameAddr, n)

	putDTString(t, k, a, nameAddr, "reg")
	assert.Equal(t, uint32(0), callRet(t, k, SysDTGetPropertyArray32, uart, nameAddr, outAddr, 2))
	assert.Equal(t, uint32(0x49020000), peekWord(t, k, a, outAddr))
	assert.Equal(t, uint32(0x400), peekWord(t, k, a, outAddr+4))
	assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysDTGetPropertyArray32, uart, nameAddr, outAddr, 3))
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysDTGetPropertyArray32, uart, nameAddr, textBase+0xffc, 2))
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysDTGetPropertyArray32, uart, nameAddr, outAddr, 0x40000000))

	t.Run("string", func(t *testing.T) {
		putDTString(t, k, a, nameAddr, "compatible")
		pokeWords(t, k, a, outAddr, bufAddr, 64)
		assert.Equal(t, uint32(0), callRet(t, k, SysDTGetPropertyString, uart, nameAddr, outAddr))
		assert.Equal(t, uint32(15), peekWord(t, k, a, outAddr+4))
		assert.Equal(t, []byte("mordax,sim-uart\x00"), peek(t, k, a, bufAddr, 16))
	})

	t.Run("string truncated", func(t *testing.T) {
		putDTString(t, k, a, nameAddr, "compatible")
		pokeWords(t, k, a, outAddr, bufAddr, 8)
		assert.Equal(t, uint32(0), callRet(t, k, SysDTGetPropertyString, uart, nameAddr, outAddr))
		assert.Equal(t, uint32(7), peekWord(t, k, a, outAddr+4))
		assert.Equal(t, []byte("mordax,\x00"), peek(t, k, a, bufAddr, 8))

		pokeWords(t, k, a, outAddr, bufAddr, 0)
		assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysDTGetPropertyString, uart, nameAddr, outAddr))
	})

	t.Run("phandle", func(t *testing.T) {
		putDTString(t, k, a, nameAddr, "debug-interface")
		assert.Equal(t, uint32(0), callRet(t, k, SysDTGetPropertyPhandle, mordax, nameAddr, outAddr))
		assert.Equal(t, uint32(7), peekWord(t, k, a, outAddr))

		putDTString(t, k, a, nameAddr, "missing")
		assert.Equal(t, errRet(kerrors.ENOENT), callRet(t, k, SysDTGetPropertyPhandle, mordax, nameAddr, outAddr))
	})

	t.Run("wrong handle", func(t *testing.T) {
		lock := callRet(t, k, SysLockCreate)
		putDTString(t, k, a, nameAddr, "reg")
		assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysDTGetPropertyArray32, lock, nameAddr, outAddr, 1))
		assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysDTGetPropertyPhandle, 999, nameAddr, outAddr))
	})
}
