package kernel

import (
	"fmt"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/dt"
	"github.com/orizon-lang/mordax/internal/runtime/mmu"
)

// outcome tells the dispatcher what to do with the caller once a
// handler returns.
type outcome uint8

const (
	complete outcome = iota // store the result and return to the caller
	yield                   // store the result and reschedule
	block                   // park the caller; a waker delivers the result
	exited                  // the caller is gone
)

type result struct {
	value   uint32
	err     error
	outcome outcome
}

func ok(v uint32) result { return result{value: v} }
func fail(err error) result { return result{err: err} }
func yielded(v uint32) result { return result{value: v, outcome: yield} }
func blocked() result { return result{outcome: block} }
func errnof(e kerrors.Errno, format string, args ...any) result {
	return fail(kerrors.Errorf(e, format, args...))
}

type handler func(k *Kernel, t *Thread, c *Context) result

var handlers = [NumSyscalls]handler{
	SysSystem:                (*Kernel).sysSystem,
	SysThreadExit:            (*Kernel).sysThreadExit,
	SysThreadCreate:          (*Kernel).sysThreadCreate,
	SysThreadJoin:            (*Kernel).sysThreadJoin,
	SysThreadYield:           (*Kernel).sysThreadYield,
	SysThreadInfo:            (*Kernel).sysThreadInfo,
	SysProcessCreate:         (*Kernel).sysProcessCreate,
	SysMap:                   (*Kernel).sysMap,
	SysMapAlloc:              (*Kernel).sysMapAlloc,
	SysUnmap:                 (*Kernel).sysUnmap,
	SysServiceCreate:         (*Kernel).sysServiceCreate,
	SysServiceListen:         (*Kernel).sysServiceListen,
	SysServiceConnect:        (*Kernel).sysServiceConnect,
	SysSocketSend:            (*Kernel).sysSocketSend,
	SysSocketReceive:         (*Kernel).sysSocketReceive,
	SysSocketWait:            (*Kernel).sysSocketWait,
	SysLockCreate:            (*Kernel).sysLockCreate,
	SysLockAcquire:           (*Kernel).sysLockAcquire,
	SysLockRelease:           (*Kernel).sysLockRelease,
	SysDTGetNodeByPath:       (*Kernel).sysDTGetNodeByPath,
	SysDTGetNodeByPhandle:    (*Kernel).sysDTGetNodeByPhandle,
	SysDTGetNodeByCompatible: (*Kernel).sysDTGetNodeByCompatible,
	SysDTGetPropertyArray32:  (*Kernel).sysDTGetPropertyArray32,
	SysDTGetPropertyString:   (*Kernel).sysDTGetPropertyString,
	SysDTGetPropertyPhandle:  (*Kernel).sysDTGetPropertyPhandle,
	SysResourceDestroy:       (*Kernel).sysResourceDestroy,
}

// Syscall runs system call n for the active thread with the arguments
// in the live context.
func (k *Kernel) Syscall(n uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted != nil {
		return
	}
	t := k.sched.active
	if t == nil {
		k.panicf("system call %s without an active thread", SyscallName(n))
	}
	k.syscalls++

	if n >= NumSyscalls {
		k.log.Warn("unknown system call", "number", n, "pid", t.proc.pid, "tid", t.tid, "context", k.cpu.String())
		k.cpu.SetResult(kerrors.ENOSYS.Ret())
		return
	}
	k.log.Debug("syscall", "name", syscallNames[n], "pid", t.proc.pid, "tid", t.tid,
		"r0", k.cpu.R[0], "r1", k.cpu.R[1], "r2", k.cpu.R[2], "r3", k.cpu.R[3])

	r := handlers[n](k, t, &k.cpu)
	if r.err != nil {
		k.log.Debug("syscall failed", "name", syscallNames[n], "pid", t.proc.pid, "tid", t.tid, "error", r.err)
	}
	switch r.outcome {
	case complete:
		k.cpu.SetResult(kerrors.Ret(r.value, r.err))
	case yield:
		k.cpu.SetResult(kerrors.Ret(r.value, r.err))
		k.sched.Reschedule()
	case block:
		k.sched.MoveToBlocked(t)
		k.sched.Reschedule()
	case exited:
		k.sched.Reschedule()
	}
}

// ============================================================================
// User memory helpers
// ============================================================================

// readUser copies n bytes of user memory after checking access.
func (k *Kernel) readUser(t *Thread, ptr, n uint32) ([]byte, error) {
	if !k.mmu.UserReadable(t.proc.table, ptr, n) {
		return nil, kerrors.BadAddress(ptr, n, "read")
	}
	buf := make([]byte, n)
	if err := k.mmu.CopyIn(t.proc.table, ptr, buf); err != nil {
		return nil, kerrors.BadAddress(ptr, n, "read")
	}
	return buf, nil
}

// readString reads a user string of at most the IPC buffer length.
func (k *Kernel) readString(t *Thread, ptr, n uint32) (string, error) {
	if n > k.cfg.IPCBufferLength {
		return "", kerrors.Errorf(kerrors.E2BIG, "string of %d bytes exceeds %d", n, k.cfg.IPCBufferLength)
	}
	b, err := k.readUser(t, ptr, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readDTString reads a {ptr, length} string descriptor and its contents.
func (k *Kernel) readDTString(t *Thread, ptr uint32) (string, error) {
	if !k.mmu.UserReadable(t.proc.table, ptr, 8) {
		return "", kerrors.BadAddress(ptr, 8, "dt-string")
	}
	w, err := k.mmu.ReadWords(t.proc.table, ptr, 2)
	if err != nil {
		return "", kerrors.BadAddress(ptr, 8, "dt-string")
	}
	return k.readString(t, w[0], w[1])
}

// readAttributes reads a {type, permissions} memory attribute block.
func (k *Kernel) readAttributes(t *Thread, ptr uint32) (mmu.MemoryType, mmu.Permissions, error) {
	if !k.mmu.UserReadable(t.proc.table, ptr, 8) {
		return 0, 0, kerrors.BadAddress(ptr, 8, "memory attributes")
	}
	w, err := k.mmu.ReadWords(t.proc.table, ptr, 2)
	if err != nil {
		return 0, 0, kerrors.BadAddress(ptr, 8, "memory attributes")
	}
	return mmu.MemoryType(w[0]), mmu.Permissions(w[1]), nil
}

func (k *Kernel) require(t *Thread, perm Permission, op string) error {
	if !t.proc.permissions.Has(perm) {
		return kerrors.PermissionDenied(op, int(t.proc.pid))
	}
	return nil
}

// addHandle stores obj in the caller's resource table.
func addHandle(t *Thread, typ ResourceType, obj any) result {
	h, err := t.proc.resources.Add(typ, obj)
	if err != nil {
		return fail(err)
	}
	return ok(h)
}

// resource looks up a handle of the wanted type.
func resource[T any](t *Thread, h uint32, typ ResourceType, wrong kerrors.Errno) (T, error) {
	var zero T
	r, found := t.proc.resources.Get(h)
	if !found {
		return zero, kerrors.New(wrong, fmt.Sprintf("no resource behind handle %d", h), map[string]interface{}{"handle": h})
	}
	if r.Type != typ {
		return zero, kerrors.WrongResource(wrong, h, typ.String(), r.Type.String())
	}
	return r.Object.(T), nil
}

// ============================================================================
// System and threads
// ============================================================================

func (k *Kernel) sysSystem(t *Thread, c *Context) result {
	switch c.Arg(0) {
	case SystemDebug:
		msg, err := k.readString(t, c.Arg(1), c.Arg(2))
		if err != nil {
			return fail(err)
		}
		k.console.Printf("[SYSCALL0: DEBUG] PID %d, TID %d: %s\n", t.proc.pid, t.tid, msg)
		return ok(0)
	case SystemGetSplit:
		return ok(k.mmu.Split())
	}
	return errnof(kerrors.EINVAL, "unknown system function %d", c.Arg(0))
}

func (k *Kernel) sysThreadExit(t *Thread, c *Context) result {
	k.exitThread(t, c.Arg(0))
	return result{outcome: exited}
}

func (k *Kernel) sysThreadCreate(t *Thread, c *Context) result {
	nt, err := t.proc.addThread(c.Arg(0), c.Arg(1))
	if err != nil {
		return fail(err)
	}
	k.sched.AddThread(nt)
	return yielded(nt.tid)
}

func (k *Kernel) sysThreadJoin(t *Thread, c *Context) result {
	target := t.proc.Thread(c.Arg(0))
	switch target {
	case nil:
		return errnof(kerrors.ENOENT, "no thread %d in PID %d", c.Arg(0), t.proc.pid)
	case t:
		return errnof(kerrors.EDEADLK, "%v cannot join itself", t)
	}
	target.joiners.PushBack(t)
	return blocked()
}

func (k *Kernel) sysThreadYield(*Thread, *Context) result { return yielded(0) }

func (k *Kernel) sysThreadInfo(t *Thread, c *Context) result {
	switch c.Arg(0) {
	case InfoTID:
		return ok(t.tid)
	case InfoPID:
		return ok(t.proc.pid)
	case InfoUID:
		return ok(t.proc.uid)
	case InfoGID:
		return ok(t.proc.gid)
	}
	return errnof(kerrors.EINVAL, "unknown thread info function %d", c.Arg(0))
}

func (k *Kernel) sysProcessCreate(t *Thread, c *Context) result {
	if err := k.require(t, PermCreateProcess, "process create"); err != nil {
		return fail(err)
	}
	ptr := c.Arg(0)
	if !k.mmu.UserReadable(t.proc.table, ptr, 4*ProcessInfoWords) {
		return fail(kerrors.BadAddress(ptr, 4*ProcessInfoWords, "process info"))
	}
	words, err := k.mmu.ReadWords(t.proc.table, ptr, ProcessInfoWords)
	if err != nil {
		return fail(kerrors.BadAddress(ptr, 4*ProcessInfoWords, "process info"))
	}
	info, err := DecodeProcessInfo(words)
	if err != nil {
		return fail(err)
	}

	p, err := k.createProcess(info, t.proc.table, t.proc, processOptions{})
	if err != nil {
		switch n, _ := kerrors.ErrnoOf(err); n {
		case kerrors.EFAULT, kerrors.ENOMEM, kerrors.EINVAL:
			return fail(err)
		}
		return fail(kerrors.Errorf(kerrors.ENOEXEC, "unable to create process: %v", err))
	}
	nt, err := p.addThread(info.Entry, k.cfg.StackTop)
	if err != nil {
		p.destroy()
		return fail(err)
	}
	k.sched.AddThread(nt)
	return yielded(p.pid)
}

// ============================================================================
// Memory
// ============================================================================

func (k *Kernel) sysMap(t *Thread, c *Context) result {
	if err := k.require(t, PermMapMemory, "map"); err != nil {
		return fail(err)
	}
	target, phys, size := c.Arg(0), c.Arg(1), c.Arg(2)
	typ, perm, err := k.readAttributes(t, c.Arg(3))
	if err != nil {
		return fail(err)
	}
	if target&^(k.cfg.PageSize-1) >= k.mmu.Split() {
		return fail(kerrors.BadAddress(target, size, "map into kernel space"))
	}
	if size == 0 {
		return errnof(kerrors.EINVAL, "empty mapping")
	}
	end := uint64(phys) + uint64(size)
	for page := uint64(phys &^ (k.cfg.PageSize - 1)); page < end; page += uint64(k.cfg.PageSize) {
		if page < 1<<32 && k.frames.IsManaged(uint32(page)) {
			return fail(kerrors.BadAddress(uint32(page), k.cfg.PageSize, "map allocator-managed memory"))
		}
	}
	virt, err := k.mmu.Map(t.proc.table, phys, target, size, typ, perm)
	if err != nil {
		return fail(err)
	}
	return ok(virt)
}

func (k *Kernel) sysMapAlloc(t *Thread, c *Context) result {
	target, sizePtr := c.Arg(0), c.Arg(1)
	if !k.mmu.UserWritable(t.proc.table, sizePtr, 4) {
		return fail(kerrors.BadAddress(sizePtr, 4, "size"))
	}
	typ, perm, err := k.readAttributes(t, c.Arg(2))
	if err != nil {
		return fail(err)
	}
	w, err := k.mmu.ReadWords(t.proc.table, sizePtr, 1)
	if err != nil {
		return fail(kerrors.BadAddress(sizePtr, 4, "size"))
	}
	size := w[0]
	if size > k.frames.MaxBlockSize() {
		return fail(kerrors.OutOfMemory(size, "map alloc"))
	}
	if target&^(k.cfg.PageSize-1) >= k.mmu.Split() {
		return fail(kerrors.BadAddress(target, size, "map into kernel space"))
	}

	f, err := k.frames.Allocate(size)
	if err != nil {
		return fail(err)
	}
	if err := k.ram.Zero(f.Base, f.Size); err != nil {
		_ = k.frames.Free(f)
		return fail(err)
	}
	virt, err := k.mmu.Map(t.proc.table, f.Base, target, f.Size, typ, perm)
	if err != nil {
		_ = k.frames.Free(f)
		return fail(err)
	}
	if err := k.mmu.WriteWords(t.proc.table, sizePtr, f.Size); err != nil {
		k.panicf("size word at %#08x vanished: %v", sizePtr, err)
	}
	return ok(virt)
}

func (k *Kernel) sysUnmap(t *Thread, c *Context) result {
	addr, size := c.Arg(0), c.Arg(1)
	split := uint64(k.mmu.Split())
	if size == 0 || uint64(addr) >= split {
		return ok(0)
	}
	end := min(uint64(addr)+uint64(size), split)
	if err := k.mmu.Unmap(t.proc.table, addr, uint32(end-uint64(addr))); err != nil {
		return fail(err)
	}
	return ok(0)
}

// ============================================================================
// Services and sockets
// ============================================================================

func (k *Kernel) sysServiceCreate(t *Thread, c *Context) result {
	if err := k.require(t, PermService, "service create"); err != nil {
		return fail(err)
	}
	if c.Arg(1) == 0 {
		return errnof(kerrors.EINVAL, "empty service name")
	}
	name, err := k.readString(t, c.Arg(0), c.Arg(1))
	if err != nil {
		return fail(err)
	}
	s, err := k.createService(t.proc, name)
	if err != nil {
		return fail(err)
	}
	h, err := t.proc.resources.Add(ResourceService, s)
	if err != nil {
		s.destroy()
		return fail(err)
	}
	return ok(h)
}

func (k *Kernel) sysServiceListen(t *Thread, c *Context) result {
	if err := k.require(t, PermService, "service listen"); err != nil {
		return fail(err)
	}
	s, err := resource[*Service](t, c.Arg(0), ResourceService, kerrors.EINVAL)
	if err != nil {
		return fail(err)
	}
	sock, wait, err := s.listen(t)
	switch {
	case err != nil:
		return fail(err)
	case wait:
		return blocked()
	}
	h, err := t.proc.resources.Add(ResourceSocket, sock)
	if err != nil {
		sock.destroy()
		return fail(err)
	}
	return ok(h)
}

func (k *Kernel) sysServiceConnect(t *Thread, c *Context) result {
	name, err := k.readString(t, c.Arg(0), c.Arg(1))
	if err != nil {
		return fail(err)
	}
	s, found := k.services[name]
	if !found {
		return fail(kerrors.NotFound("service", name))
	}
	sock, wait, err := s.connect(t)
	switch {
	case err != nil:
		return fail(err)
	case wait:
		return blocked()
	}
	h, err := t.proc.resources.Add(ResourceSocket, sock)
	if err != nil {
		sock.destroy()
		return fail(err)
	}
	return ok(h)
}

// socketResult converts a socket operation into a dispatcher result.
func socketResult(n uint32, wait bool, err error) result {
	switch {
	case err != nil:
		return fail(err)
	case wait:
		return blocked()
	}
	return ok(n)
}

func (k *Kernel) sysSocketSend(t *Thread, c *Context) result {
	buf, n := c.Arg(1), c.Arg(2)
	if !k.mmu.UserReadable(t.proc.table, buf, n) {
		return fail(kerrors.BadAddress(buf, n, "send buffer"))
	}
	s, err := resource[*Socket](t, c.Arg(0), ResourceSocket, kerrors.ENOTSOCK)
	if err != nil {
		return fail(err)
	}
	return socketResult(s.send(t, buf, n))
}

func (k *Kernel) sysSocketReceive(t *Thread, c *Context) result {
	buf, n := c.Arg(1), c.Arg(2)
	if !k.mmu.UserWritable(t.proc.table, buf, n) {
		return fail(kerrors.BadAddress(buf, n, "receive buffer"))
	}
	s, err := resource[*Socket](t, c.Arg(0), ResourceSocket, kerrors.ENOTSOCK)
	if err != nil {
		return fail(err)
	}
	return socketResult(s.receive(t, buf, n))
}

func (k *Kernel) sysSocketWait(t *Thread, c *Context) result {
	s, err := resource[*Socket](t, c.Arg(0), ResourceSocket, kerrors.ENOTSOCK)
	if err != nil {
		return fail(err)
	}
	return socketResult(s.wait(t))
}

// ============================================================================
// Locks
// ============================================================================

func (k *Kernel) sysLockCreate(t *Thread, _ *Context) result {
	if err := k.require(t, PermLocks, "lock create"); err != nil {
		return fail(err)
	}
	l := k.newLock()
	h, err := t.proc.resources.Add(ResourceLock, l)
	if err != nil {
		l.destroy()
		return fail(err)
	}
	return ok(h)
}

func (k *Kernel) sysLockAcquire(t *Thread, c *Context) result {
	if err := k.require(t, PermLocks, "lock acquire"); err != nil {
		return fail(err)
	}
	l, err := resource[*Lock](t, c.Arg(0), ResourceLock, kerrors.EINVAL)
	if err != nil {
		return fail(err)
	}
	wait, err := l.acquire(t)
	switch {
	case err != nil:
		return fail(err)
	case wait:
		return blocked()
	}
	return ok(0)
}

func (k *Kernel) sysLockRelease(t *Thread, c *Context) result {
	if err := k.require(t, PermLocks, "lock release"); err != nil {
		return fail(err)
	}
	l, err := resource[*Lock](t, c.Arg(0), ResourceLock, kerrors.EINVAL)
	if err != nil {
		return fail(err)
	}
	if err := l.release(t); err != nil {
		return fail(err)
	}
	return ok(0)
}

// ============================================================================
// Device tree
// ============================================================================

func (k *Kernel) sysDTGetNodeByPath(t *Thread, c *Context) result {
	path, err := k.readString(t, c.Arg(0), c.Arg(1))
	if err != nil {
		return fail(err)
	}
	n, err := k.tree.NodeByPath(path)
	if err != nil {
		return fail(err)
	}
	return addHandle(t, ResourceNode, n)
}

func (k *Kernel) sysDTGetNodeByPhandle(t *Thread, c *Context) result {
	n, err := k.tree.NodeByPhandle(c.Arg(0))
	if err != nil {
		return fail(err)
	}
	return addHandle(t, ResourceNode, n)
}

func (k *Kernel) sysDTGetNodeByCompatible(t *Thread, c *Context) result {
	compat, err := k.readDTString(t, c.Arg(0))
	if err != nil {
		return fail(err)
	}
	n, err := k.tree.NodeByCompatible(compat, int(c.Arg(1)))
	if err != nil {
		return fail(err)
	}
	return addHandle(t, ResourceNode, n)
}

func (k *Kernel) sysDTGetPropertyArray32(t *Thread, c *Context) result {
	out, count := c.Arg(2), c.Arg(3)
	if uint64(count)*4 >= 1<<32 || !k.mmu.UserWritable(t.proc.table, out, count*4) {
		return fail(kerrors.BadAddress(out, count*4, "array32 output"))
	}
	name, err := k.readDTString(t, c.Arg(1))
	if err != nil {
		return fail(err)
	}
	n, err := resource[*dt.Node](t, c.Arg(0), ResourceNode, kerrors.EINVAL)
	if err != nil {
		return fail(err)
	}
	cells, err := n.Array32(name, int(count))
	if err != nil {
		return fail(err)
	}
	if len(cells) > 0 {
		if err := k.mmu.WriteWords(t.proc.table, out, cells...); err != nil {
			return fail(kerrors.BadAddress(out, count*4, "array32 output"))
		}
	}
	return ok(0)
}

func (k *Kernel) sysDTGetPropertyString(t *Thread, c *Context) result {
	retPtr := c.Arg(2)
	if !k.mmu.UserWritable(t.proc.table, retPtr, 8) {
		return fail(kerrors.BadAddress(retPtr, 8, "string output"))
	}
	name, err := k.readDTString(t, c.Arg(1))
	if err != nil {
		return fail(err)
	}
	w, err := k.mmu.ReadWords(t.proc.table, retPtr, 2)
	if err != nil {
		return fail(kerrors.BadAddress(retPtr, 8, "string output"))
	}
	buf, maxlen := w[0], w[1]
	if maxlen == 0 {
		return errnof(kerrors.EINVAL, "empty string buffer")
	}
	if !k.mmu.UserWritable(t.proc.table, buf, maxlen) {
		return fail(kerrors.BadAddress(buf, maxlen, "string buffer"))
	}
	n, err := resource[*dt.Node](t, c.Arg(0), ResourceNode, kerrors.EINVAL)
	if err != nil {
		return fail(err)
	}
	v, err := n.String(name)
	if err != nil {
		return fail(err)
	}
	if uint32(len(v)) >= maxlen {
		v = v[:maxlen-1]
	}
	if err := k.mmu.CopyOut(t.proc.table, buf, append([]byte(v), 0)); err != nil {
		return fail(kerrors.BadAddress(buf, maxlen, "string buffer"))
	}
	if err := k.mmu.WriteWords(t.proc.table, retPtr+4, uint32(len(v))); err != nil {
		return fail(kerrors.BadAddress(retPtr, 8, "string output"))
	}
	return ok(0)
}

func (k *Kernel) sysDTGetPropertyPhandle(t *Thread, c *Context) result {
	out := c.Arg(2)
	if !k.mmu.UserWritable(t.proc.table, out, 4) {
		return fail(kerrors.BadAddress(out, 4, "phandle output"))
	}
	name, err := k.readDTString(t, c.Arg(1))
	if err != nil {
		return fail(err)
	}
	n, err := resource[*dt.Node](t, c.Arg(0), ResourceNode, kerrors.EINVAL)
	if err != nil {
		return fail(err)
	}
	ph, err := n.Phandle(name)
	if err != nil {
		return fail(err)
	}
	if err := k.mmu.WriteWords(t.proc.table, out, ph); err != nil {
		return fail(kerrors.BadAddress(out, 4, "phandle output"))
	}
	return ok(0)
}

// ============================================================================
// Resources
// ============================================================================

func (k *Kernel) sysResourceDestroy(t *Thread, c *Context) result {
	r, found := t.proc.resources.Remove(c.Arg(0))
	if !found {
		return errnof(kerrors.EINVAL, "no resource behind handle %d", c.Arg(0))
	}
	k.destroyResource(r)
	return ok(0)
}
