package kernel

import (
	"github.com/orizon-lang/mordax/internal/runtime/queue"
)

// Scheduler is a round-robin scheduler over a ready queue and a blocked
// queue. The idle thread runs only when nothing else is ready and never
// enters either queue.
type Scheduler struct {
	k        *Kernel
	ready    *queue.List[*Thread]
	blocked  *queue.List[*Thread]
	active   *Thread
	idle     *Thread
	switches uint64
}

func newScheduler(k *Kernel) *Scheduler {
	return &Scheduler{
		k:       k,
		ready:   queue.New[*Thread](),
		blocked: queue.New[*Thread](),
	}
}

// Active returns the running thread.
func (s *Scheduler) Active() *Thread { return s.active }

// Idle returns the idle thread.
func (s *Scheduler) Idle() *Thread { return s.idle }

// Ready returns a snapshot of the ready queue.
func (s *Scheduler) Ready() []*Thread { return s.ready.Values() }

// Blocked returns a snapshot of the blocked queue.
func (s *Scheduler) Blocked() []*Thread { return s.blocked.Values() }

// Switches returns the number of context switches.
func (s *Scheduler) Switches() uint64 { return s.switches }

func (s *Scheduler) setIdle(t *Thread) { s.idle = t }

// AddThread makes a new thread runnable ahead of everything else.
func (s *Scheduler) AddThread(t *Thread) {
	s.ready.PushFront(t)
}

// RemoveThread takes t out of the scheduler wherever it is.
func (s *Scheduler) RemoveThread(t *Thread) {
	if s.active == t {
		t.ctx = s.k.cpu
		s.active = nil
		return
	}
	match := func(x *Thread) bool { return x == t }
	if _, ok := s.ready.RemoveFunc(match); ok {
		return
	}
	s.blocked.RemoveFunc(match)
}

// MoveToBlocked parks t on the blocked queue. When t is running its live
// context is saved first and nothing runs until the next Reschedule.
func (s *Scheduler) MoveToBlocked(t *Thread) {
	if s.active == t {
		t.ctx = s.k.cpu
		s.active = nil
	} else if _, ok := s.ready.RemoveFunc(func(x *Thread) bool { return x == t }); !ok {
		return
	}
	s.blocked.PushBack(t)
}

// MoveToRunning wakes a blocked thread. It runs next.
func (s *Scheduler) MoveToRunning(t *Thread) {
	if _, ok := s.blocked.RemoveFunc(func(x *Thread) bool { return x == t }); !ok {
		return
	}
	s.ready.PushFront(t)
}

// Reschedule rotates the running thread to the back of the ready queue
// and switches to the head, or to the idle thread when nothing is ready.
func (s *Scheduler) Reschedule() {
	prev := s.active
	if prev != nil {
		prev.ctx = s.k.cpu
		if prev != s.idle {
			s.ready.PushBack(prev)
		}
	}

	next, ok := s.ready.PopFront()
	if !ok {
		next = s.idle
	}
	if next == nil {
		s.k.panicf("no thread to schedule")
	}

	if next != prev {
		s.switches++
	}
	s.k.cpu = next.ctx
	s.k.mmu.SetUserTable(next.proc.table)
	s.active = next
}
