package drivers

import (
	"sync"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// ============================================================================
// Simulated interrupt controller
// ============================================================================

const defaultInterruptLines = 128

// SimInterruptController is a software interrupt controller. Lines raised
// while disabled stay pending until enabled.
type SimInterruptController struct {
	mu         sync.Mutex
	lines      uint32
	handlers   map[uint32]Handler
	enabled    map[uint32]bool
	pending    map[uint32]bool
	dispatched uint64
}

// NewSimInterruptController returns a controller with the given number of
// lines.
func NewSimInterruptController(lines uint32) *SimInterruptController {
	return &SimInterruptController{
		lines:    lines,
		handlers: make(map[uint32]Handler),
		enabled:  make(map[uint32]bool),
		pending:  make(map[uint32]bool),
	}
}

func newSimInterruptController(env Env) (any, error) {
	lines := uint32(defaultInterruptLines)
	if n, err := env.Node.Cell("mordax,lines"); err == nil {
		lines = n
	}
	if lines == 0 {
		return nil, kerrors.Errorf(kerrors.EINVAL, "interrupt controller without lines")
	}
	return NewSimInterruptController(lines), nil
}

// Register installs the handler for irq.
func (c *SimInterruptController) Register(irq uint32, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if irq >= c.lines {
		return kerrors.Errorf(kerrors.EINVAL, "interrupt %d out of range (%d lines)", irq, c.lines)
	}
	if _, ok := c.handlers[irq]; ok {
		return kerrors.Errorf(kerrors.EBUSY, "interrupt %d already has a handler", irq)
	}
	c.handlers[irq] = h
	return nil
}

// Unregister removes the handler for irq and disables the line.
func (c *SimInterruptController) Unregister(irq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, irq)
	delete(c.enabled, irq)
}

// Enable unmasks irq and delivers it if it is pending.
func (c *SimInterruptController) Enable(irq uint32) {
	c.mu.Lock()
	c.enabled[irq] = true
	pending := c.pending[irq]
	c.mu.Unlock()
	if pending {
		c.Raise(irq)
	}
}

// Disable masks irq.
func (c *SimInterruptController) Disable(irq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.enabled, irq)
}

// Handler returns the handler of irq, or nil.
func (c *SimInterruptController) Handler(irq uint32) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[irq]
}

// Raise asserts irq. The handler runs on the caller's goroutine if the
// line is enabled; otherwise the interrupt is left pending. It reports
// whether a handler ran.
func (c *SimInterruptController) Raise(irq uint32) bool {
	c.mu.Lock()
	h := c.handlers[irq]
	if irq >= c.lines || !c.enabled[irq] || h == nil {
		if irq < c.lines {
			c.pending[irq] = true
		}
		c.mu.Unlock()
		return false
	}
	delete(c.pending, irq)
	c.dispatched++
	c.mu.Unlock()
	h(irq)
	return true
}

// Pending reports whether irq was raised and not yet delivered.
func (c *SimInterruptController) Pending(irq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[irq]
}

// Dispatched returns the number of delivered interrupts.
func (c *SimInterruptController) Dispatched() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatched
}

// ============================================================================
// Simulated timer
// ============================================================================

// SimTimer is a timer driven by simulated time through Advance and Fire.
// When attached to an interrupt line it expires by raising that line.
type SimTimer struct {
	mu       sync.Mutex
	interval uint32
	callback func()
	running  bool
	elapsed  uint64
	expired  uint64

	raiser Raiser
	irq    uint32
}

// NewSimTimer returns a stopped timer that calls its callback directly.
func NewSimTimer() *SimTimer {
	return &SimTimer{}
}

func newSimTimer(env Env) (any, error) {
	t := NewSimTimer()
	irq, err := env.Node.Cell("interrupts")
	if err != nil || env.Interrupts == nil {
		return t, nil
	}
	if err := t.Attach(env.Interrupts, irq); err != nil {
		return nil, err
	}
	return t, nil
}

// Attach routes expiries through irq on intc, which must be able to raise
// lines from software.
func (t *SimTimer) Attach(intc InterruptController, irq uint32) error {
	r, ok := intc.(Raiser)
	if !ok {
		return kerrors.Errorf(kerrors.EINVAL, "interrupt controller cannot raise interrupt %d", irq)
	}
	if err := intc.Register(irq, func(uint32) { t.expire() }); err != nil {
		return err
	}
	intc.Enable(irq)
	t.mu.Lock()
	t.raiser, t.irq = r, irq
	t.mu.Unlock()
	return nil
}

// SetInterval sets the period in microseconds.
func (t *SimTimer) SetInterval(us uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = us
}

// SetCallback sets the expiry callback.
func (t *SimTimer) SetCallback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = fn
}

// Start starts counting from zero.
func (t *SimTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.elapsed = 0
}

// Stop stops the timer.
func (t *SimTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
}

// Running reports whether the timer is started.
func (t *SimTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Interval returns the period in microseconds.
func (t *SimTimer) Interval() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Expired returns the number of expiries delivered.
func (t *SimTimer) Expired() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Fire expires the timer once, regardless of the interval. It reports
// false if the timer is stopped.
func (t *SimTimer) Fire() bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return false
	}
	t.elapsed = 0
	r, irq := t.raiser, t.irq
	t.mu.Unlock()

	if r != nil {
		return r.Raise(irq)
	}
	t.expire()
	return true
}

// Advance moves simulated time forward by us microseconds and fires once
// per elapsed interval. It returns the number of expiries.
func (t *SimTimer) Advance(us uint64) int {
	t.mu.Lock()
	if !t.running || t.interval == 0 {
		t.mu.Unlock()
		return 0
	}
	t.elapsed += us
	n := t.elapsed / uint64(t.interval)
	t.elapsed %= uint64(t.interval)
	r, irq := t.raiser, t.irq
	t.mu.Unlock()

	fired := 0
	for i := uint64(0); i < n; i++ {
		if r != nil {
			if !r.Raise(irq) {
				continue
			}
		} else {
			t.expire()
		}
		fired++
	}
	return fired
}

func (t *SimTimer) expire() {
	t.mu.Lock()
	fn := t.callback
	t.expired++
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
