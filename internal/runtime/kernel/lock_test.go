package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

func lockOf(t *testing.T, th *Thread, h uint32) *Lock {
	t.Helper()
	r, ok := th.Process().Resources().Get(h)
	require.True(t, ok)
	require.Equal(t, ResourceLock, r.Type)
	return r.Object.(*Lock)
}

func TestLockHandsOffInArrivalOrder(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	h := callRet(t, k, SysLockCreate)
	require.Equal(t, uint32(1), h)
	l := lockOf(t, a, h)

	require.Equal(t, uint32(0), callRet(t, k, SysLockAcquire, h))
	assert.Same(t, a, l.Owner())

	b := spawnThread(t, k)
	call(k, SysLockAcquire, h)
	assert.Contains(t, k.Scheduler().Blocked(), b)
	require.Same(t, a, k.Scheduler().Active())

	c := spawnThread(t, k)
	call(k, SysLockAcquire, h)
	require.Same(t, a, k.Scheduler().Active())
	assert.Equal(t, []*Thread{b, c}, l.Waiting())

	// Release passes ownership to the first waiter and wakes it with 0.
	assert.Equal(t, uint32(0), callRet(t, k, SysLockRelease, h))
	assert.Same(t, b, l.Owner())
	assert.Equal(t, uint32(0), k.Result(b))
	assert.Equal(t, b, k.Scheduler().Ready()[0])
	assert.Equal(t, []*Thread{c}, l.Waiting())

	activate(t, k, b)
	assert.Equal(t, uint32(0), callRet(t, k, SysLockRelease, h))
	assert.Same(t, c, l.Owner())
	assert.Equal(t, uint32(0), k.Result(c))
	assert.Empty(t, l.Waiting())
	assert.Empty(t, k.Scheduler().Blocked())
}

func TestLockErrors(t *testing.T) {
	k := bootTest(t)
	h := callRet(t, k, SysLockCreate)
	require.Equal(t, uint32(0), callRet(t, k, SysLockAcquire, h))

	assert.Equal(t, errRet(kerrors.EDEADLK), callRet(t, k, SysLockAcquire, h))

	spawnThread(t, k)
	assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysLockRelease, h))
	assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysLockAcquire, 99))

	// A socket handle is not a lock.
	assert.Equal(t, errRet(kerrors.ENOTSOCK), callRet(t, k, SysSocketSend, h, scratch, 0))
}

func TestLockDestroyCancelsWaiters(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	h := callRet(t, k, SysLockCreate)
	require.Equal(t, uint32(0), callRet(t, k, SysLockAcquire, h))
	b := spawnThread(t, k)
	call(k, SysLockAcquire, h)
	require.Same(t, a, k.Scheduler().Active())

	heapUsed := k.Heap().Stats().UsedBytes
	assert.Equal(t, uint32(0), callRet(t, k, SysResourceDestroy, h))
	assert.Equal(t, errRet(kerrors.ECANCELED), k.Result(b))
	assert.Empty(t, k.Scheduler().Blocked())
	assert.Less(t, k.Heap().Stats().UsedBytes, heapUsed)

	_, ok := a.Process().Resources().Get(h)
	assert.False(t, ok)
	assert.Equal(t, errRet(kerrors.EINVAL), callRet(t, k, SysResourceDestroy, h))
}

func TestLocksNeedPermission(t *testing.T) {
	k := bootTest(t)
	p := k.Scheduler().Active().Process()
	p.permissions = PermAll &^ PermLocks

	// EPERM encodes as zero, so check that nothing was created.
	assert.Equal(t, errRet(kerrors.EPERM), callRet(t, k, SysLockCreate))
	assert.Equal(t, 0, p.Resources().Len())
}

func TestExitingOwnerHandsOffLock(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	h1 := callRet(t, k, SysLockCreate)
	h2 := callRet(t, k, SysLockCreate)
	require.Equal(t, uint32(0), callRet(t, k, SysLockAcquire, h1))
	require.Equal(t, uint32(0), callRet(t, k, SysLockAcquire, h2))

	b := spawnThread(t, k)
	call(k, SysLockAcquire, h1)
	require.Same(t, a, k.Scheduler().Active())

	call(k, SysThreadExit, 9)
	assert.Nil(t, a.Process().Thread(a.TID()))
	activate(t, k, b)
	assert.Equal(t, uint32(0), k.Result(b))
	assert.Same(t, b, lockOf(t, b, h1).Owner())
	assert.Empty(t, lockOf(t, b, h1).Waiting())
	assert.Nil(t, lockOf(t, b, h2).Owner())
	assert.Empty(t, k.Scheduler().Blocked())

	// Both locks are usable by the survivor.
	assert.Equal(t, uint32(0), callRet(t, k, SysLockRelease, h1))
	assert.Equal(t, uint32(0), callRet(t, k, SysLockAcquire, h2))
}
