package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

func TestProcessCreateLaysOutSections(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	poke(t, k, a, scratch+0x100, []byte("rodata!"))

	info := childInfo()
	info.RodataLength = 0x10
	info.RodataSource = scratch + 0x100
	info.RodataSourceLength = 7
	info.DataLength = 0x1800
	p, c := spawnProcess(t, k, info)

	assert.Equal(t, uint32(2), p.PID())
	assert.Equal(t, uint32(1000), p.UID())
	assert.Equal(t, uint32(100), p.GID())
	assert.Equal(t, PermAll, p.Permissions())
	assert.Equal(t, uint32(0x4000), p.StackSize())
	assert.Equal(t, uint32(textBase), c.Context().PC)
	assert.Equal(t, uint32(stackTop), k.CPU().SP())

	m, tbl := k.MMU(), p.Table()
	assert.Equal(t, []byte("init"), peek(t, k, c, textBase, 4))
	assert.Equal(t, []byte("rodata!\x00"), peek(t, k, c, 0x2000, 8))

	// text and rodata are read-only, data and stack are writable, and
	// nothing is mapped between the sections and the stack.
	assert.True(t, m.UserReadable(tbl, textBase, 0x1000))
	assert.False(t, m.UserWritable(tbl, textBase, 4))
	assert.False(t, m.UserWritable(tbl, 0x2000, 4))
	assert.True(t, m.UserWritable(tbl, 0x3000, 0x2000))
	assert.False(t, m.UserReadable(tbl, 0x5000, 4))
	assert.True(t, m.UserWritable(tbl, stackBase, 0x4000))
	assert.False(t, m.UserReadable(tbl, stackBase-4, 4))
	assert.Equal(t, make([]byte, 16), peek(t, k, c, 0x3000, 16))

	activate(t, k, a)
	assert.Equal(t, uint32(2), k.Result(a))
}

func TestChildPermissionsAreBoundedByParent(t *testing.T) {
	parent := &Process{permissions: PermService | PermCreateProcess}
	tests := []struct {
		name      string
		requested Permission
		parent    *Process
		want      Permission
	}{
		{"subset", PermService, parent, PermService},
		{"superset", PermAll, parent, PermService | PermCreateProcess},
		{"inherit", PermInherit | PermLocks, parent, PermService | PermCreateProcess},
		{"none", PermNone, parent, PermNone},
		{"initial", PermLocks, nil, PermLocks},
		{"initial inherit", PermInherit, nil, PermAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, childPermissions(tt.requested, tt.parent))
		})
	}
	assert.Equal(t, "CREATE_PROC|SERVICE", parent.permissions.String())
}

func TestProcessCreateInheritsRestrictedPermissions(t *testing.T) {
	k := bootTest(t)
	k.Scheduler().Active().Process().permissions = PermCreateProcess | PermService

	info := childInfo()
	info.Permissions = PermAll
	p, _ := spawnProcess(t, k, info)
	assert.Equal(t, PermCreateProcess|PermService, p.Permissions())
}

func TestProcessCreateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ProcessInfo)
		want   kerrors.Errno
	}{
		{"source longer than section", func(pi *ProcessInfo) { pi.TextSourceLength = 0x1001 }, kerrors.EINVAL},
		{"source in kernel space", func(pi *ProcessInfo) { pi.TextSource = 0xc0000000 }, kerrors.EFAULT},
		{"unmapped source", func(pi *ProcessInfo) { pi.DataLength, pi.DataSource, pi.DataSourceLength = 8, 0x40000000, 8 }, kerrors.EFAULT},
		{"sections overlap the stack", func(pi *ProcessInfo) { pi.DataLength = 0x7fffb000 }, kerrors.EINVAL},
		{"out of frames", func(pi *ProcessInfo) { pi.DataLength = 0x2000000 }, kerrors.ENOMEM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := bootTest(t)
			a := k.Scheduler().Active()
			free := k.Frames().FreeBytes()

			info := childInfo()
			tt.modify(&info)
			pokeWords(t, k, a, infoAddr, info.Words()...)
			assert.Equal(t, errRet(tt.want), callRet(t, k, SysProcessCreate, infoAddr))
			assert.Same(t, a, k.Scheduler().Active())
			assert.Equal(t, free, k.Frames().FreeBytes())
			assert.Equal(t, 2, k.Status().Processes)
		})
	}
}

func TestProcessCreateNeedsReadableInfo(t *testing.T) {
	k := bootTest(t)
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysProcessCreate, 0))
	assert.Equal(t, errRet(kerrors.EFAULT), callRet(t, k, SysProcessCreate, stackTop-32))
	assert.Equal(t, 2, k.Status().Processes)
}

func TestProcessCreateNeedsPermission(t *testing.T) {
	k := bootTest(t)
	_, c := spawnProcess(t, k, func() ProcessInfo {
		info := childInfo()
		info.Permissions = PermLocks
		return info
	}())

	pokeWords(t, k, c, infoAddr, childInfo().Words()...)
	assert.Equal(t, errRet(kerrors.EPERM), callRet(t, k, SysProcessCreate, infoAddr))
	assert.Equal(t, 3, k.Status().Processes)
	assert.Same(t, c, k.Scheduler().Active())
}

func TestProcessInfoDecoding(t *testing.T) {
	info := childInfo()
	words := info.Words()
	require.Len(t, words, ProcessInfoWords)
	assert.Equal(t, uint32(100), words[0])
	assert.Equal(t, InheritStackSize, words[7])

	got, err := DecodeProcessInfo(words)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	_, err = DecodeProcessInfo(words[:3])
	assert.ErrorIs(t, err, kerrors.EINVAL)
}

func TestPIDsAreNotReusedImmediately(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	p, _ := spawnProcess(t, k, childInfo())
	require.Equal(t, uint32(2), p.PID())
	call(k, SysThreadExit, 0)
	require.Same(t, a, k.Scheduler().Active())

	p, _ = spawnProcess(t, k, childInfo())
	assert.Equal(t, uint32(3), p.PID())
}

func TestResourceTable(t *testing.T) {
	rt := NewResourceTable(2)
	h1, err := rt.Add(ResourceLock, "a")
	require.NoError(t, err)
	h2, err := rt.Add(ResourceNode, "b")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, []uint32{h1, h2})

	_, err = rt.Add(ResourceSocket, "c")
	assert.ErrorIs(t, err, kerrors.ENOMEM)

	r, ok := rt.Get(h2)
	require.True(t, ok)
	assert.Equal(t, ResourceNode, r.Type)
	assert.Equal(t, "node", r.Type.String())

	var destroyed []uint32
	rt.Free(func(r Resource) { destroyed = append(destroyed, r.Handle) })
	assert.Equal(t, []uint32{1, 2}, destroyed)
	assert.Equal(t, 0, rt.Len())
	_, ok = rt.Remove(h1)
	assert.False(t, ok)
}
