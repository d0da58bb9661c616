// Package kernel is the Mordax microkernel core: processes and threads,
// the round-robin scheduler, locks, services and sockets, the per-process
// resource tables and the system call interface, running on the
// simulated memory managers and MMU.
package kernel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/orizon-lang/mordax/internal/runtime/console"
	"github.com/orizon-lang/mordax/internal/runtime/drivers"
	"github.com/orizon-lang/mordax/internal/runtime/dt"
	"github.com/orizon-lang/mordax/internal/runtime/mm"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
	"github.com/orizon-lang/mordax/internal/runtime/numalloc"
)

// ============================================================================
// Kernel state
// ============================================================================

// Kernel is the complete state of one booted kernel. Every entry point
// takes mu, so the kernel behaves like the single core it models. It is
// not SMP-safe: nothing inside is locked at a finer grain.
type Kernel struct {
	mu sync.Mutex

	cfg     *Config
	log     *slog.Logger
	console *console.Console
	tree    *dt.Tree

	ram    *mm.RAM
	frames *mm.FrameAllocator
	heap   *mm.Heap
	mmu    *mmu.MMU

	sched     *Scheduler
	pids      *numalloc.Allocator
	processes map[uint32]*Process
	services  map[string]*Service

	// cpu is the live register context of the active thread.
	cpu Context

	intc  drivers.InterruptController
	timer drivers.Timer
	debug drivers.DebugOutput

	ticks    uint64
	syscalls uint64
	halted   *Panic
}

// Config returns the configuration the kernel was booted with.
func (k *Kernel) Config() Config { return *k.cfg }

// Tree returns the device tree.
func (k *Kernel) Tree() *dt.Tree { return k.tree }

// Console returns the debug console.
func (k *Kernel) Console() *console.Console { return k.console }

// Logger returns the kernel logger.
func (k *Kernel) Logger() *slog.Logger { return k.log }

// RAM returns the simulated physical memory.
func (k *Kernel) RAM() *mm.RAM { return k.ram }

// Frames returns the physical frame allocator.
func (k *Kernel) Frames() *mm.FrameAllocator { return k.frames }

// Heap returns the kernel heap.
func (k *Kernel) Heap() *mm.Heap { return k.heap }

// MMU returns the memory management unit.
func (k *Kernel) MMU() *mmu.MMU { return k.mmu }

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *Scheduler { return k.sched }

// Timer returns the scheduler timer.
func (k *Kernel) Timer() drivers.Timer { return k.timer }

// InterruptController returns the interrupt controller.
func (k *Kernel) InterruptController() drivers.InterruptController { return k.intc }

// CPU returns the live register context. System call arguments are
// loaded here before Syscall is called.
func (k *Kernel) CPU() *Context { return &k.cpu }

// Process returns the process with the given PID, or nil.
func (k *Kernel) Process(pid uint32) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.processes[pid]
}

// Service returns the service registered under name, or nil.
func (k *Kernel) Service(name string) *Service {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.services[name]
}

// Result returns the system call return register of t: the live one
// when t is running, the saved one otherwise.
func (k *Kernel) Result(t *Thread) uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t == k.sched.active {
		return k.cpu.Result()
	}
	return t.ctx.Result()
}

// setResult stores a system call result for a thread that is not the
// caller of the current system call.
func (k *Kernel) setResult(t *Thread, v uint32) {
	if t == k.sched.active {
		k.cpu.SetResult(v)
		return
	}
	t.ctx.SetResult(v)
}

// Tick is the scheduler timer interrupt.
func (k *Kernel) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted != nil {
		return
	}
	k.ticks++
	k.sched.Reschedule()
}

// timerInterrupt is installed as the timer callback. A kernel panic
// raised from interrupt context halts the kernel instead of unwinding
// into the driver.
func (k *Kernel) timerInterrupt() {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*Panic); !ok {
				panic(r)
			}
		}
	}()
	k.Tick()
}

// Halted returns the panic that stopped the kernel, or nil.
func (k *Kernel) Halted() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted == nil {
		return nil
	}
	return k.halted
}

// Shutdown stops the scheduler timer and releases the simulated RAM.
// It must not be called from a timer callback.
func (k *Kernel) Shutdown() error {
	if k.timer != nil {
		k.timer.Stop()
	}
	if c, ok := k.debug.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			k.log.Warn("failed to close debug output", "error", err)
		}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ram == nil {
		return nil
	}
	err := k.ram.Close()
	k.ram = nil
	if err != nil {
		return fmt.Errorf("failed to release RAM: %w", err)
	}
	return nil
}
