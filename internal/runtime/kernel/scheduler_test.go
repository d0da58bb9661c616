package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	require.NotNil(t, a)
	b := spawnThread(t, k)
	c := spawnThread(t, k)

	// Creating a thread runs it at once and rotates the creator to the
	// back of the ready queue.
	assert.Equal(t, []*Thread{a, b}, k.Scheduler().Ready())

	var order []*Thread
	for i := 0; i < 6; i++ {
		k.Tick()
		order = append(order, k.Scheduler().Active())
	}
	assert.Equal(t, []*Thread{a, b, c, a, b, c}, order)
	assert.Equal(t, uint64(6), k.Status().Ticks)
}

func TestSingleThreadKeepsRunning(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	switches := k.Scheduler().Switches()

	k.Tick()
	k.Tick()
	assert.Same(t, a, k.Scheduler().Active())
	assert.Equal(t, switches, k.Scheduler().Switches())
	assert.Empty(t, k.Scheduler().Ready())

	assert.Equal(t, uint32(0), callRet(t, k, SysThreadYield))
	assert.Same(t, a, k.Scheduler().Active())
}

func TestIdleRunsWhenEverythingBlocks(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	b := spawnThread(t, k)

	call(k, SysThreadJoin, a.TID())
	require.Same(t, a, k.Scheduler().Active())
	call(k, SysThreadJoin, b.TID())

	idle := k.Scheduler().Idle()
	require.Same(t, idle, k.Scheduler().Active())
	assert.Equal(t, ModeSupervisor, k.CPU().Mode())
	assert.Equal(t, uint32(0), idle.Process().PID())
	assert.ElementsMatch(t, []*Thread{a, b}, k.Scheduler().Blocked())
	assert.True(t, k.Status().Idle)

	// The idle thread never queues behind itself.
	k.Tick()
	assert.Same(t, idle, k.Scheduler().Active())
	assert.Empty(t, k.Scheduler().Ready())
}

func TestContextIsSavedAcrossSwitches(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	k.CPU().R[5] = 0xdeadbeef
	b := spawnThread(t, k)

	assert.Equal(t, uint32(0xdeadbeef), a.Context().R[5])
	assert.Equal(t, uint32(textBase), k.CPU().PC)
	assert.Equal(t, uint32(stackTop-0x100), k.CPU().SP())
	assert.Equal(t, ModeUser, k.CPU().Mode())

	activate(t, k, a)
	assert.Equal(t, uint32(0xdeadbeef), k.CPU().R[5])
	assert.Equal(t, b.Context().PC, uint32(textBase))
}

func TestUserTableFollowsTheRunningProcess(t *testing.T) {
	k := bootTest(t)
	a := k.Scheduler().Active()
	assert.Same(t, a.Process().Table(), k.MMU().UserTable())

	b := spawnThread(t, k)
	assert.Same(t, a.Process().Table(), k.MMU().UserTable())
	call(k, SysThreadJoin, a.TID())
	call(k, SysThreadJoin, b.TID())
	assert.Same(t, k.Scheduler().Idle().Process().Table(), k.MMU().UserTable())
}
