package kernel

import (
	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/queue"
)

// Lock is a mutex owned by at most one thread. Waiters are served in
// arrival order and ownership passes to them directly on release.
type Lock struct {
	k       *Kernel
	owner   *Thread
	waiting *queue.List[*Thread]
	meta    uint32
}

func (k *Kernel) newLock() *Lock {
	return &Lock{
		k:       k,
		waiting: queue.New[*Thread](),
		meta:    k.kalloc(lockObjectSize, "lock"),
	}
}

// Owner returns the owning thread, or nil.
func (l *Lock) Owner() *Thread { return l.owner }

// Waiting returns the waiters in the order they will be served.
func (l *Lock) Waiting() []*Thread { return l.waiting.Values() }

// acquire takes the lock for t, or queues t behind the owner and reports
// that it must block.
func (l *Lock) acquire(t *Thread) (blocked bool, err error) {
	switch l.owner {
	case nil:
		l.owner = t
		return false, nil
	case t:
		return false, kerrors.Errorf(kerrors.EDEADLK, "%v already owns the lock", t)
	}
	l.waiting.PushBack(t)
	return true, nil
}

// release gives the lock to the longest waiter, waking it with success.
func (l *Lock) release(t *Thread) error {
	if l.owner != t {
		return kerrors.Errorf(kerrors.EINVAL, "%v does not own the lock", t)
	}
	next, ok := l.waiting.PopFront()
	if !ok {
		l.owner = nil
		return nil
	}
	l.owner = next
	l.k.setResult(next, 0)
	l.k.sched.MoveToRunning(next)
	return nil
}

// destroy wakes every waiter with ECANCELED.
func (l *Lock) destroy() {
	l.waiting.Drain(func(w *Thread) {
		l.k.setResult(w, kerrors.ECANCELED.Ret())
		l.k.sched.MoveToRunning(w)
	})
	l.owner = nil
	l.k.kfree(l.meta)
}
