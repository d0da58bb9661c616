package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/console"
	"github.com/orizon-lang/mordax/internal/runtime/drivers"
	"github.com/orizon-lang/mordax/internal/runtime/dt"
	"github.com/orizon-lang/mordax/internal/runtime/mm"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
	"github.com/orizon-lang/mordax/internal/runtime/numalloc"
)

// Device tree locations the kernel boots from.
const (
	MordaxNodePath = "/mordax"
	MemoryNodePath = "/memory"
	ChosenNodePath = "/chosen"
)

// Options configures Boot. The zero value boots with the default
// configuration and the simulated drivers.
type Options struct {
	Config   *Config
	Registry *drivers.Registry
	// Console receives kernel output; a fresh one is created when nil.
	Console *console.Console
	// Logger overrides the console logger.
	Logger   *slog.Logger
	LogLevel slog.Leveler
	// Output is where simulated devices print.
	Output io.Writer
	// Image is loaded into RAM at linux,initrd-start and becomes the
	// initial process.
	Image []byte
}

// Boot brings up a kernel on the board described by tree: memory
// managers, MMU and heap, drivers, the idle and initial processes, and
// finally the scheduler timer. The initial thread is running when Boot
// returns. A kernel panic during boot is returned as a *Panic.
func Boot(ctx context.Context, tree *dt.Tree, opts Options) (_ *Kernel, err error) {
	cfg := DefaultConfig()
	if opts.Config != nil {
		*cfg = *opts.Config
	}
	con := opts.Console
	if con == nil {
		con = console.New()
	}
	log := opts.Logger
	if log == nil {
		level := opts.LogLevel
		if level == nil {
			level = slog.LevelInfo
		}
		log = con.Logger(level)
	}

	k := &Kernel{
		cfg:       cfg,
		log:       log,
		console:   con,
		tree:      tree,
		processes: make(map[uint32]*Process),
		services:  make(map[string]*Service),
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	defer func() {
		if err != nil && k.ram != nil {
			_ = k.ram.Close()
			k.ram = nil
		}
	}()
	defer recoverPanic(&err)

	k.banner()
	if err := k.setupMemory(opts.Image); err != nil {
		return nil, err
	}
	k.setupDrivers(ctx, opts)

	if err := k.createIdle(); err != nil {
		k.panicf("unable to create the idle process: %v", err)
	}
	if err := k.createInitial(); err != nil {
		k.panicf("unable to create the initial process: %v", err)
	}

	k.timer.SetInterval(cfg.TickInterval)
	k.timer.SetCallback(k.timerInterrupt)
	k.timer.Start()
	k.sched.Reschedule()
	k.log.Info("kernel booted", "processes", len(k.processes), "free", k.frames.FreeBytes())
	return k, nil
}

func (k *Kernel) banner() {
	k.console.Printf("The Mordax Microkernel v%s\n", Version)
	root := k.tree.Root()
	model, _ := root.String("model")
	compat, _ := root.Strings("compatible")
	k.console.Printf("Hardware: %s (%s)\n", model, strings.Join(compat, ", "))
}

// ============================================================================
// Board checks
// ============================================================================

// CheckBoard validates that tree can boot this kernel: the /mordax node
// with its required phandles, a memory node and a satisfied
// kernel-version constraint.
func CheckBoard(tree *dt.Tree) error {
	node, err := tree.NodeByPath(MordaxNodePath)
	if err != nil {
		return fmt.Errorf("no %s node: %w", MordaxNodePath, err)
	}
	if err := CheckVersion(node); err != nil {
		return err
	}
	var errs []error
	for _, prop := range []string{"interrupt-controller", "scheduler-timer"} {
		if _, err := phandleNode(tree, node, prop); err != nil {
			errs = append(errs, err)
		}
	}
	if _, _, err := memoryRange(tree); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckVersion checks Version against the kernel-version constraint of
// the /mordax node. A board without a constraint accepts any kernel.
func CheckVersion(node *dt.Node) error {
	want, err := node.String("kernel-version")
	if err != nil {
		return nil
	}
	c, err := semver.NewConstraint(want)
	if err != nil {
		return kerrors.Errorf(kerrors.EINVAL, "invalid kernel-version constraint %q: %v", want, err)
	}
	v := semver.MustParse(Version)
	if ok, errs := c.Validate(v); !ok {
		return kerrors.Errorf(kerrors.ENOEXEC, "kernel %s does not satisfy %q: %v", v, want, errors.Join(errs...))
	}
	return nil
}

func phandleNode(tree *dt.Tree, node *dt.Node, prop string) (*dt.Node, error) {
	ph, err := node.Phandle(prop)
	if err != nil {
		return nil, fmt.Errorf("no %s in %s: %w", prop, node.Path(), err)
	}
	n, err := tree.NodeByPhandle(ph)
	if err != nil {
		return nil, fmt.Errorf("%s points nowhere: %w", prop, err)
	}
	return n, nil
}

func memoryRange(tree *dt.Tree) (uint32, uint32, error) {
	n, err := tree.NodeByPath(MemoryNodePath)
	if err != nil {
		return 0, 0, fmt.Errorf("no memory node: %w", err)
	}
	reg, err := n.Array32("reg", 2)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid memory node: %w", err)
	}
	return reg[0], reg[1], nil
}

// initrdRange returns the initial ramdisk bounds from /chosen.
func initrdRange(tree *dt.Tree) (start, end uint32, ok bool) {
	n, err := tree.NodeByPath(ChosenNodePath)
	if err != nil {
		return 0, 0, false
	}
	start, err1 := n.Cell("linux,initrd-start")
	end, err2 := n.Cell("linux,initrd-end")
	if err1 != nil || err2 != nil || end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// ============================================================================
// Memory
// ============================================================================

// setupMemory brings up RAM, the frame allocator, the MMU and the heap.
func (k *Kernel) setupMemory(image []byte) error {
	node, err := k.tree.NodeByPath(MordaxNodePath)
	if err != nil {
		k.panicf("no %s node in the device tree", MordaxNodePath)
	}
	if err := CheckVersion(node); err != nil {
		return err
	}
	k.cfg.applyBoard(node)
	if err := k.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid kernel configuration: %w", err)
	}
	c := k.cfg

	base, size, err := memoryRange(k.tree)
	if err != nil {
		k.panicf("%v", err)
	}
	k.console.Printf("Memory: %d Mb starting at %x physical\n", size>>20, base)
	if size <= c.KernelImageSize {
		return fmt.Errorf("%d bytes of RAM cannot hold the kernel image", size)
	}

	if k.ram, err = mm.NewRAM(base, size); err != nil {
		return err
	}
	if k.frames, err = mm.NewFrameAllocator(c.PageSize, c.MaxOrder); err != nil {
		return err
	}
	k.log.Info("adding zone", "base", fmt.Sprintf("%#08x", base), "size", size)
	if err := k.frames.AddZone(base, size); err != nil {
		return err
	}
	if err := k.frames.Reserve(base, c.KernelImageSize); err != nil {
		return fmt.Errorf("failed to reserve the kernel image: %w", err)
	}

	if start, end, ok := initrdRange(k.tree); ok {
		if err := k.frames.Reserve(start, end-start); err != nil {
			return fmt.Errorf("failed to reserve the initial ramdisk: %w", err)
		}
		if uint64(len(image)) > uint64(end-start) {
			return fmt.Errorf("image of %d bytes exceeds the initial ramdisk of %d bytes", len(image), end-start)
		}
		if len(image) > 0 {
			if err := k.ram.Load(start, image); err != nil {
				return err
			}
		}
	} else if len(image) > 0 {
		return fmt.Errorf("the board has no initial ramdisk to load the image into")
	}

	if k.mmu, err = mmu.New(k.ram, k.frames, mmu.Config{KernelSplit: c.KernelSplit, WindowBase: c.WindowBase}); err != nil {
		k.panicf("unable to set up the MMU: %v", err)
	}
	if _, err := k.mmu.Map(k.mmu.KernelTable(), base, c.KernelBase, c.KernelImageSize, mmu.TypeCode, mmu.PermRWNA); err != nil {
		k.panicf("unable to map the kernel image: %v", err)
	}
	if k.heap, err = k.newHeap(); err != nil {
		k.panicf("unable to set up the kernel heap: %v", err)
	}

	k.sched = newScheduler(k)
	k.pids = numalloc.New("pid", 0, c.MaxProcesses)
	return nil
}

// ============================================================================
// Drivers
// ============================================================================

// setupDrivers instantiates the debug output, interrupt controller and
// scheduler timer named by the /mordax node. Only the debug output is
// optional.
func (k *Kernel) setupDrivers(ctx context.Context, opts Options) {
	reg := opts.Registry
	if reg == nil {
		reg = drivers.Default()
	}
	node, _ := k.tree.NodeByPath(MordaxNodePath)
	env := drivers.Env{Context: ctx, Tree: k.tree, Output: opts.Output, Logger: k.log}

	if n, err := phandleNode(k.tree, node, "debug-interface"); err != nil {
		k.log.Warn("no debug interface", "error", err)
	} else {
		env.Node = n
		if out, err := reg.DebugOutput(env); err != nil {
			k.log.Warn("unable to start debug interface", "node", n.Path(), "error", err)
		} else {
			k.debug = out
			k.console.SetOutput(out)
		}
	}

	intc, err := phandleNode(k.tree, node, "interrupt-controller")
	if err != nil {
		k.panicf("no interrupt controller: %v", err)
	}
	env.Node = intc
	if k.intc, err = reg.InterruptController(env); err != nil {
		k.panicf("unable to start interrupt controller %s: %v", intc.Path(), err)
	}

	timer, err := phandleNode(k.tree, node, "scheduler-timer")
	if err != nil {
		k.panicf("no scheduler timer: %v", err)
	}
	env.Node, env.Interrupts = timer, k.intc
	if k.timer, err = reg.Timer(env); err != nil {
		k.panicf("unable to start scheduler timer %s: %v", timer.Path(), err)
	}
	k.log.Info("drivers ready", "interrupt-controller", intc.Path(), "timer", timer.Path())
}

// ============================================================================
// Processes
// ============================================================================

// createIdle creates the idle process and its single kernel-mode thread.
func (k *Kernel) createIdle() error {
	p, err := k.newProcess(0, 0, PermNone, 0)
	if err != nil {
		return err
	}
	t, err := p.addThread(0, 0)
	if err != nil {
		return err
	}
	t.ctx.SetMode(ModeSupervisor)
	k.sched.setIdle(t)
	return nil
}

// createInitial turns the initial ramdisk into the first user process.
// The image is mapped into kernel space just past the kernel image while
// it is copied.
func (k *Kernel) createInitial() error {
	start, end, ok := initrdRange(k.tree)
	if !ok {
		k.log.Warn("no initial ramdisk, only the idle thread will run")
		return nil
	}
	c := k.cfg
	kt := k.mmu.KernelTable()
	size := end - start
	scratch := c.KernelBase + c.KernelImageSize
	src, err := k.mmu.Map(kt, start, scratch, size, mmu.TypeRodata, mmu.PermRONA)
	if err != nil {
		return fmt.Errorf("failed to map the initial ramdisk: %w", err)
	}
	defer func() {
		if err := k.mmu.Unmap(kt, scratch, size+start&(c.PageSize-1)); err != nil {
			k.log.Warn("failed to unmap the initial ramdisk", "error", err)
		}
	}()

	info := ProcessInfo{
		Permissions:      PermAll,
		Entry:            c.ProcessStart,
		TextLength:       size,
		TextSource:       src,
		TextSourceLength: size,
		StackLength:      c.DefaultStackSize,
	}
	p, err := k.createProcess(info, kt, nil, processOptions{writableText: true})
	if err != nil {
		return err
	}
	t, err := p.addThread(c.ProcessStart, c.StackTop)
	if err != nil {
		p.destroy()
		return err
	}
	k.sched.AddThread(t)
	k.log.Info("initial process created", "pid", p.pid, "size", size,
		"initrd", fmt.Sprintf("%#08x-%#08x", start, end))
	return nil
}
