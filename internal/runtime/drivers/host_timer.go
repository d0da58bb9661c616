package drivers

import (
	"sync"
	"time"
)

// HostTimer expires on wall-clock time. The callback runs on the timer's
// own goroutine, so Stop must not be called from it.
type HostTimer struct {
	mu       sync.Mutex
	interval time.Duration
	callback func()
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewHostTimer returns a stopped host timer.
func NewHostTimer() *HostTimer {
	return &HostTimer{interval: time.Millisecond}
}

func newHostTimer(Env) (any, error) {
	return NewHostTimer(), nil
}

// SetInterval sets the period. It takes effect at the next Start.
func (t *HostTimer) SetInterval(us uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if us == 0 {
		us = 1
	}
	t.interval = time.Duration(us) * time.Microsecond
}

// SetCallback sets the expiry callback.
func (t *HostTimer) SetCallback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = fn
}

// Start starts the ticker goroutine.
func (t *HostTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return
	}
	done := make(chan struct{})
	t.done = done
	ticker := time.NewTicker(t.interval)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.mu.Lock()
				fn := t.callback
				t.mu.Unlock()
				if fn != nil {
					fn()
				}
			}
		}
	}()
}

// Stop stops the ticker and waits for a running callback to return.
func (t *HostTimer) Stop() {
	t.mu.Lock()
	done := t.done
	t.done = nil
	t.mu.Unlock()
	if done != nil {
		close(done)
		t.wg.Wait()
	}
}
