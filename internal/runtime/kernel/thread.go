package kernel

import (
	"fmt"

	"github.com/orizon-lang/mordax/internal/runtime/queue"
)

// Thread is a schedulable context inside a process.
type Thread struct {
	tid     uint32
	proc    *Process
	ctx     Context
	joiners *queue.List[*Thread]
	meta    uint32
}

// TID returns the thread ID, unique within the process.
func (t *Thread) TID() uint32 { return t.tid }

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.proc }

// Context returns the saved register context. It is stale while the
// thread runs.
func (t *Thread) Context() Context { return t.ctx }

// Joiners returns the threads waiting for t to exit.
func (t *Thread) Joiners() []*Thread { return t.joiners.Values() }

func (t *Thread) String() string {
	return fmt.Sprintf("PID %d, TID %d", t.proc.pid, t.tid)
}

// exitThread ends t with status: joiners are woken with the status, locks
// t still holds pass to their next waiter and the thread leaves its
// process, taking the process down with it when it was the last one. The
// caller reschedules.
func (k *Kernel) exitThread(t *Thread, status uint32) {
	k.sched.RemoveThread(t)
	t.joiners.Drain(func(j *Thread) {
		k.setResult(j, status)
		k.sched.MoveToRunning(j)
	})
	for _, r := range t.proc.resources.Resources() {
		if l, ok := r.Object.(*Lock); ok && l.owner == t {
			_ = l.release(t)
		}
	}
	k.log.Debug("thread exited", "pid", t.proc.pid, "tid", t.tid, "status", status)
	t.proc.removeThread(t)
}
