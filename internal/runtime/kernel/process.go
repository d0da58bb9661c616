package kernel

import (
	"fmt"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
	"github.com/orizon-lang/mordax/internal/runtime/numalloc"
	"github.com/orizon-lang/mordax/internal/runtime/queue"
)

// ============================================================================
// Process information
// ============================================================================

// ProcessInfoWords is the number of 32-bit fields in a process
// information block.
const ProcessInfoWords = 16

// ProcessInfo describes a process to create. In memory it is sixteen
// little-endian words in field order.
type ProcessInfo struct {
	GID         uint32
	UID         uint32
	Permissions Permission
	Entry       uint32

	TextLength   uint32
	RodataLength uint32
	DataLength   uint32
	StackLength  uint32

	TextSource   uint32
	RodataSource uint32
	DataSource   uint32
	StackSource  uint32

	TextSourceLength   uint32
	RodataSourceLength uint32
	DataSourceLength   uint32
	StackSourceLength  uint32
}

// DecodeProcessInfo decodes a process information block.
func DecodeProcessInfo(w []uint32) (ProcessInfo, error) {
	if len(w) != ProcessInfoWords {
		return ProcessInfo{}, kerrors.Errorf(kerrors.EINVAL, "process info has %d words, want %d", len(w), ProcessInfoWords)
	}
	return ProcessInfo{
		GID: w[0], UID: w[1], Permissions: Permission(w[2]), Entry: w[3],
		TextLength: w[4], RodataLength: w[5], DataLength: w[6], StackLength: w[7],
		TextSource: w[8], RodataSource: w[9], DataSource: w[10], StackSource: w[11],
		TextSourceLength: w[12], RodataSourceLength: w[13], DataSourceLength: w[14], StackSourceLength: w[15],
	}, nil
}

// Words encodes the block.
func (pi ProcessInfo) Words() []uint32 {
	return []uint32{
		pi.GID, pi.UID, uint32(pi.Permissions), pi.Entry,
		pi.TextLength, pi.RodataLength, pi.DataLength, pi.StackLength,
		pi.TextSource, pi.RodataSource, pi.DataSource, pi.StackSource,
		pi.TextSourceLength, pi.RodataSourceLength, pi.DataSourceLength, pi.StackSourceLength,
	}
}

// section is one region of a new address space.
type section struct {
	name      string
	virt      uint32
	length    uint32 // page aligned
	source    uint32
	sourceLen uint32
	typ       mmu.MemoryType
	perm      mmu.Permissions
}

// ============================================================================
// Process
// ============================================================================

// Process is an address space with its threads and resources.
type Process struct {
	k           *Kernel
	pid         uint32
	uid         uint32
	gid         uint32
	permissions Permission
	stackSize   uint32
	table       *mmu.Table
	threads     *queue.List[*Thread]
	tids        *numalloc.Allocator
	resources   *ResourceTable
	meta        uint32
}

// PID returns the process ID.
func (p *Process) PID() uint32 { return p.pid }

// UID returns the user ID.
func (p *Process) UID() uint32 { return p.uid }

// GID returns the group ID.
func (p *Process) GID() uint32 { return p.gid }

// Permissions returns the granted permissions.
func (p *Process) Permissions() Permission { return p.permissions }

// StackSize returns the size of the stack of new threads.
func (p *Process) StackSize() uint32 { return p.stackSize }

// Table returns the translation table.
func (p *Process) Table() *mmu.Table { return p.table }

// Resources returns the resource table.
func (p *Process) Resources() *ResourceTable { return p.resources }

// Threads returns the threads of the process, newest first.
func (p *Process) Threads() []*Thread { return p.threads.Values() }

// Thread returns the thread with the given TID, or nil.
func (p *Process) Thread(tid uint32) *Thread {
	if n := p.threads.Find(func(t *Thread) bool { return t.tid == tid }); n != nil {
		return n.Value
	}
	return nil
}

func (p *Process) String() string { return fmt.Sprintf("PID %d", p.pid) }

// processOptions adjusts how the kernel itself creates processes.
type processOptions struct {
	writableText bool // text mapped RW_RW for flat images
}

func (k *Kernel) pageAlign(n uint32) (uint32, bool) {
	v := (uint64(n) + uint64(k.cfg.PageSize) - 1) &^ uint64(k.cfg.PageSize-1)
	return uint32(v), v <= uint64(k.cfg.StackTop)
}

// layout computes the sections of a new process and the stack size.
func (k *Kernel) layout(info ProcessInfo, parent *Process, opts processOptions) ([]section, uint32, error) {
	stack := info.StackLength
	switch {
	case stack == InheritStackSize && parent != nil:
		stack = parent.stackSize
	case stack == InheritStackSize || stack == 0:
		stack = k.cfg.DefaultStackSize
	}

	textPerm := mmu.PermRORO
	if opts.writableText {
		textPerm = mmu.PermRWRW
	}
	secs := []section{
		{name: "text", length: info.TextLength, source: info.TextSource, sourceLen: info.TextSourceLength, typ: mmu.TypeCode, perm: textPerm},
		{name: "rodata", length: info.RodataLength, source: info.RodataSource, sourceLen: info.RodataSourceLength, typ: mmu.TypeRodata, perm: mmu.PermRORO},
		{name: "data", length: info.DataLength, source: info.DataSource, sourceLen: info.DataSourceLength, typ: mmu.TypeData, perm: mmu.PermRWRW},
		{name: "stack", length: stack, source: info.StackSource, sourceLen: info.StackSourceLength, typ: mmu.TypeStack, perm: mmu.PermRWRW},
	}

	next := uint64(k.cfg.ProcessStart)
	for i := range secs {
		s := &secs[i]
		if s.sourceLen > s.length {
			return nil, 0, kerrors.Errorf(kerrors.EINVAL, "%s source of %d bytes exceeds the section length %d", s.name, s.sourceLen, s.length)
		}
		aligned, ok := k.pageAlign(s.length)
		if !ok {
			return nil, 0, kerrors.Errorf(kerrors.EINVAL, "%s section of %d bytes does not fit in user space", s.name, s.length)
		}
		s.length = aligned
		if s.name == "stack" {
			stack = aligned
			s.virt = k.cfg.StackTop - aligned
			if next > uint64(s.virt) {
				return nil, 0, kerrors.Errorf(kerrors.EINVAL, "sections end at %#x past the stack at %#08x", next, s.virt)
			}
			continue
		}
		s.virt = uint32(next)
		next += uint64(aligned)
	}
	return secs, stack, nil
}

// createProcess builds a process from info. Section contents are copied
// from src, the caller's address space, or from the kernel when src is
// the kernel table. The process has no threads yet.
func (k *Kernel) createProcess(info ProcessInfo, src *mmu.Table, parent *Process, opts processOptions) (*Process, error) {
	secs, stack, err := k.layout(info, parent, opts)
	if err != nil {
		return nil, err
	}
	if !src.Kernel() {
		for _, s := range secs {
			if !k.mmu.UserReadable(src, s.source, s.sourceLen) {
				return nil, kerrors.BadAddress(s.source, s.sourceLen, s.name+" source")
			}
		}
	}

	p, err := k.newProcess(info.UID, info.GID, childPermissions(info.Permissions, parent), stack)
	if err != nil {
		return nil, err
	}
	for _, s := range secs {
		if err := k.populate(p, src, s); err != nil {
			p.destroy()
			return nil, fmt.Errorf("failed to build %s section: %w", s.name, err)
		}
	}
	k.log.Debug("process created", "pid", p.pid, "uid", p.uid, "gid", p.gid,
		"permissions", p.permissions.String(), "stack", stack)
	return p, nil
}

// newProcess creates a process with an empty address space.
func (k *Kernel) newProcess(uid, gid uint32, perm Permission, stack uint32) (*Process, error) {
	pid, err := k.pids.Allocate()
	if err != nil {
		return nil, err
	}
	table, err := k.mmu.CreateTable()
	if err != nil {
		k.pids.Free(pid)
		return nil, err
	}
	p := &Process{
		k:           k,
		pid:         pid,
		uid:         uid,
		gid:         gid,
		permissions: perm,
		stackSize:   stack,
		table:       table,
		threads:     queue.New[*Thread](),
		tids:        numalloc.New("tid", 0, k.cfg.MaxThreads),
		resources:   NewResourceTable(k.cfg.MaxHandles),
		meta:        k.kalloc(processObjectSize, "process"),
	}
	k.processes[pid] = p
	return p, nil
}

// populate maps fresh zeroed frames for s and copies its source in.
func (k *Kernel) populate(p *Process, src *mmu.Table, s section) error {
	for off := uint32(0); off < s.length; off += k.cfg.PageSize {
		f, err := k.frames.Allocate(k.cfg.PageSize)
		if err != nil {
			return err
		}
		if err := k.ram.Zero(f.Base, f.Size); err != nil {
			_ = k.frames.Free(f)
			return err
		}
		if _, err := k.mmu.Map(p.table, f.Base, s.virt+off, f.Size, s.typ, s.perm); err != nil {
			_ = k.frames.Free(f)
			return err
		}
	}
	if s.sourceLen == 0 {
		return nil
	}
	return k.mmu.Copy(p.table, s.virt, src, s.source, s.sourceLen)
}

// addThread creates a thread in p. It is not yet known to the scheduler.
func (p *Process) addThread(entry, stack uint32) (*Thread, error) {
	tid, err := p.tids.Allocate()
	if err != nil {
		return nil, err
	}
	t := &Thread{
		tid:     tid,
		proc:    p,
		ctx:     newContext(entry, stack),
		joiners: queue.New[*Thread](),
		meta:    p.k.kalloc(threadObjectSize, "thread"),
	}
	p.threads.PushFront(t)
	return t, nil
}

// removeThread drops t from p. Removing the last thread destroys p.
func (p *Process) removeThread(t *Thread) {
	if _, ok := p.threads.RemoveFunc(func(x *Thread) bool { return x == t }); !ok {
		return
	}
	p.tids.Free(t.tid)
	p.k.kfree(t.meta)
	if p.threads.Empty() {
		p.destroy()
	}
}

// destroy releases everything p owns: its resources, its address space
// with every frame mapped into it, and its PID.
func (p *Process) destroy() {
	k := p.k
	p.resources.Free(k.destroyResource)
	if err := k.mmu.DestroyTable(p.table); err != nil {
		k.panicf("unable to destroy the address space of PID %d: %v", p.pid, err)
	}
	k.pids.Free(p.pid)
	delete(k.processes, p.pid)
	k.kfree(p.meta)
	k.log.Debug("process destroyed", "pid", p.pid)
}

// destroyResource tears down the object behind a released handle.
func (k *Kernel) destroyResource(r Resource) {
	switch obj := r.Object.(type) {
	case *Socket:
		obj.destroy()
	case *Service:
		obj.destroy()
	case *Lock:
		obj.destroy()
	}
}
