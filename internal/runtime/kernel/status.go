package kernel

import (
	"fmt"
	"io"
	"sort"

	"github.com/orizon-lang/mordax/internal/runtime/mm"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
)

// Status is a snapshot of kernel state.
type Status struct {
	Version   string
	Ticks     uint64
	Syscalls  uint64
	Switches  uint64
	Halted    string
	Processes int
	Threads   int
	Ready     int
	Blocked   int
	Services  []string
	ActivePID uint32
	ActiveTID uint32
	Idle      bool

	TotalMemory uint64
	FreeMemory  uint64
	FreeBlocks  []int
	Heap        mm.HeapStats
	MMU         mmu.Stats
}

// Status takes a snapshot.
func (k *Kernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := Status{
		Version:     Version,
		Ticks:       k.ticks,
		Syscalls:    k.syscalls,
		Switches:    k.sched.switches,
		Processes:   len(k.processes),
		Ready:       k.sched.ready.Len(),
		Blocked:     k.sched.blocked.Len(),
		TotalMemory: k.frames.TotalBytes(),
		FreeMemory:  k.frames.FreeBytes(),
		FreeBlocks:  k.frames.FreeBlocks(),
		Heap:        k.heap.Stats(),
		MMU:         k.mmu.Stats(),
	}
	if k.halted != nil {
		s.Halted = k.halted.Message
	}
	for _, p := range k.processes {
		s.Threads += p.threads.Len()
	}
	for name := range k.services {
		s.Services = append(s.Services, name)
	}
	sort.Strings(s.Services)
	if t := k.sched.active; t != nil {
		s.ActivePID, s.ActiveTID = t.proc.pid, t.tid
		s.Idle = t == k.sched.idle
	}
	return s
}

// Print writes the snapshot in human readable form.
func (s Status) Print(w io.Writer) {
	fmt.Fprintf(w, "Mordax %s\n", s.Version)
	if s.Halted != "" {
		fmt.Fprintf(w, "  HALTED: %s\n", s.Halted)
	}
	fmt.Fprintf(w, "  ticks %d, syscalls %d, context switches %d\n", s.Ticks, s.Syscalls, s.Switches)
	fmt.Fprintf(w, "  processes %d, threads %d (%d ready, %d blocked)\n", s.Processes, s.Threads, s.Ready, s.Blocked)
	if s.Idle {
		fmt.Fprintf(w, "  running: idle\n")
	} else {
		fmt.Fprintf(w, "  running: PID %d, TID %d\n", s.ActivePID, s.ActiveTID)
	}
	fmt.Fprintf(w, "  memory: %d of %d KB free, free blocks by order %v\n", s.FreeMemory>>10, s.TotalMemory>>10, s.FreeBlocks)
	fmt.Fprintf(w, "  heap: %#08x-%#08x, %d used, %d free, %d expansions\n",
		s.Heap.Start, s.Heap.End, s.Heap.UsedBytes, s.Heap.FreeBytes, s.Heap.Expansions)
	fmt.Fprintf(w, "  tlb: %d entries, %+v, ASID generation %d\n", s.MMU.TLBEntries, s.MMU.TLB, s.MMU.Generation)
	if len(s.Services) > 0 {
		fmt.Fprintf(w, "  services: %v\n", s.Services)
	}
}
