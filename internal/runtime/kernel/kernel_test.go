package kernel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/dt"
)

const boardFile = "../dt/testdata/board.yaml"

// Addresses in the initial process of the test board.
const (
	textBase  = 0x1000
	stackTop  = 0x80000000
	stackBase = stackTop - 0x4000
	scratch   = stackBase // user buffers live at the bottom of the stack
)

func loadBoard(t *testing.T) *dt.Tree {
	t.Helper()
	tree, err := dt.LoadFile(boardFile)
	require.NoError(t, err)
	return tree
}

// bootBoard boots tree and returns the kernel and what the UART printed.
func bootBoard(t *testing.T, tree *dt.Tree, image []byte) (*Kernel, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	k, err := Boot(context.Background(), tree, Options{Output: &out, LogLevel: slog.LevelWarn, Image: image})
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown() })
	return k, &out
}

func bootTest(t *testing.T) *Kernel {
	t.Helper()
	k, _ := bootBoard(t, loadBoard(t), []byte("init"))
	return k
}

// call runs system call n for the active thread and returns that thread.
func call(k *Kernel, n uint32, args ...uint32) *Thread {
	caller := k.Scheduler().Active()
	k.CPU().SetArgs(args...)
	k.Syscall(n)
	return caller
}

// callRet runs n and returns the caller's result, which must be
// available at once.
func callRet(t *testing.T, k *Kernel, n uint32, args ...uint32) uint32 {
	t.Helper()
	th := call(k, n, args...)
	require.NotNil(t, th)
	return k.Result(th)
}

func errRet(e kerrors.Errno) uint32 { return e.Ret() }

// activate ticks until th runs.
func activate(t *testing.T, k *Kernel, th *Thread) {
	t.Helper()
	for i := 0; i < 64 && k.Scheduler().Active() != th; i++ {
		k.Tick()
	}
	require.Same(t, th, k.Scheduler().Active())
}

func poke(t *testing.T, k *Kernel, th *Thread, addr uint32, b []byte) {
	t.Helper()
	require.NoError(t, k.MMU().CopyOut(th.Process().Table(), addr, b))
}

func pokeWords(t *testing.T, k *Kernel, th *Thread, addr uint32, w ...uint32) {
	t.Helper()
	require.NoError(t, k.MMU().WriteWords(th.Process().Table(), addr, w...))
}

func peek(t *testing.T, k *Kernel, th *Thread, addr, n uint32) []byte {
	t.Helper()
	b := make([]byte, n)
	require.NoError(t, k.MMU().CopyIn(th.Process().Table(), addr, b))
	return b
}

func peekWord(t *testing.T, k *Kernel, th *Thread, addr uint32) uint32 {
	t.Helper()
	w, err := k.MMU().ReadWords(th.Process().Table(), addr, 1)
	require.NoError(t, err)
	return w[0]
}

// spawnThread creates a thread in the active thread's process and
// returns it. The new thread runs straight away.
func spawnThread(t *testing.T, k *Kernel) *Thread {
	t.Helper()
	parent := k.Scheduler().Active()
	call(k, SysThreadCreate, textBase, stackTop-0x100)
	tid := k.Result(parent)
	th := parent.Process().Thread(tid)
	require.NotNil(t, th, "TID %d", tid)
	require.Same(t, th, k.Scheduler().Active())
	return th
}

// putString stores s at addr in th's memory and returns its length.
func putString(t *testing.T, k *Kernel, th *Thread, addr uint32, s string) uint32 {
	t.Helper()
	poke(t, k, th, addr, []byte(s))
	return uint32(len(s))
}

// putDTString stores s at addr+8 and its descriptor at addr.
func putDTString(t *testing.T, k *Kernel, th *Thread, addr uint32, s string) uint32 {
	t.Helper()
	n := putString(t, k, th, addr+8, s)
	pokeWords(t, k, th, addr, addr+8, n)
	return addr
}

// infoAddr is where spawnProcess builds the process information block.
const infoAddr = scratch + 0x3000

// childInfo describes a child that copies the parent's image and
// inherits its permissions and stack size.
func childInfo() ProcessInfo {
	return ProcessInfo{
		GID:              100,
		UID:              1000,
		Permissions:      PermInherit,
		Entry:            textBase,
		TextLength:       0x1000,
		TextSource:       textBase,
		TextSourceLength: 4,
		StackLength:      InheritStackSize,
	}
}

// spawnProcess creates a process from the active thread. Its initial
// thread runs straight away.
func spawnProcess(t *testing.T, k *Kernel, info ProcessInfo) (*Process, *Thread) {
	t.Helper()
	parent := k.Scheduler().Active()
	pokeWords(t, k, parent, infoAddr, info.Words()...)
	call(k, SysProcessCreate, infoAddr)
	pid := k.Result(parent)
	p := k.Process(pid)
	require.NotNil(t, p, "PROCESS_CREATE returned %#x", pid)
	threads := p.Threads()
	require.Len(t, threads, 1)
	require.Same(t, threads[0], k.Scheduler().Active())
	return p, threads[0]
}
