package kernel

import (
	"fmt"

	"github.com/orizon-lang/mordax/internal/runtime/dt"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
)

// Version is the kernel version checked against the board's
// kernel-version constraint.
const Version = "0.1.0"

// Config holds the kernel's build-time parameters.
type Config struct {
	// Memory configuration
	PageSize        uint32
	KernelSplit     uint32
	MaxOrder        int
	KernelBase      uint32 // virtual address of the kernel image
	KernelImageSize uint32 // bytes reserved at the start of RAM
	WindowBase      uint32 // two copy window pages

	// Kernel heap
	HeapBase        uint32
	HeapInitialSize uint32
	HeapLimit       uint32
	HeapRetries     int

	// Processes
	ProcessStart     uint32 // first page of process text
	DefaultStackSize uint32
	StackTop         uint32
	MaxProcesses     uint32
	MaxThreads       uint32 // per process
	MaxHandles       uint32 // per process

	// IPC and scheduling
	IPCBufferLength uint32
	TickInterval    uint32 // microseconds
}

// DefaultConfig returns the default kernel configuration.
func DefaultConfig() *Config {
	return &Config{
		PageSize:        mmu.PageSize,
		KernelSplit:     0x80000000,
		MaxOrder:        10, // 4MB blocks
		KernelBase:      0xc0000000,
		KernelImageSize: 0x100000, // 1MB
		WindowBase:      0xffe00000,

		HeapBase:        0xd0000000,
		HeapInitialSize: 0x10000,
		HeapLimit:       0xe0000000,
		HeapRetries:     4,

		ProcessStart:     mmu.PageSize, // page 0 stays unmapped
		DefaultStackSize: 0x4000,
		StackTop:         0x80000000,
		MaxProcesses:     1024,
		MaxThreads:       256,
		MaxHandles:       1024,

		IPCBufferLength: 4096,
		TickInterval:    1000000,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.PageSize != mmu.PageSize {
		return fmt.Errorf("unsupported page size %d", c.PageSize)
	}
	if c.KernelSplit == 0 || c.KernelSplit&(c.KernelSplit-1) != 0 {
		return fmt.Errorf("kernel split %#08x is not a power of two", c.KernelSplit)
	}
	if c.KernelBase < c.KernelSplit || c.HeapBase < c.KernelSplit {
		return fmt.Errorf("kernel image and heap must live above the split %#08x", c.KernelSplit)
	}
	if c.HeapLimit <= c.HeapBase || c.HeapLimit > c.WindowBase {
		return fmt.Errorf("invalid heap range %#08x-%#08x", c.HeapBase, c.HeapLimit)
	}
	if uint64(c.KernelBase)+uint64(c.KernelImageSize) > uint64(c.HeapBase) {
		return fmt.Errorf("kernel image overlaps the heap")
	}
	if c.StackTop > c.KernelSplit || c.StackTop&(c.PageSize-1) != 0 {
		return fmt.Errorf("invalid stack top %#08x", c.StackTop)
	}
	if c.DefaultStackSize == 0 || c.DefaultStackSize >= c.StackTop-c.ProcessStart {
		return fmt.Errorf("invalid default stack size %#x", c.DefaultStackSize)
	}
	if c.MaxProcesses == 0 || c.MaxThreads == 0 || c.MaxHandles == 0 {
		return fmt.Errorf("identifier spaces must not be empty")
	}
	if c.IPCBufferLength == 0 {
		return fmt.Errorf("IPC buffer length must not be zero")
	}
	return nil
}

// applyBoard applies the overrides found in the /mordax node.
func (c *Config) applyBoard(node *dt.Node) {
	if v, err := node.Cell("timer-interval"); err == nil && v != 0 {
		c.TickInterval = v
	}
	if v, err := node.Cell("ipc-buffer-length"); err == nil && v != 0 {
		c.IPCBufferLength = v
	}
}
