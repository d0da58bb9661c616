// Package console is the kernel's debug console. Text written before a
// debug output driver exists is kept in an early buffer and replayed once
// one is attached.
package console

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/orizon-lang/mordax/internal/runtime/drivers"
)

// DefaultEarlyBufferSize is the amount of early output kept before a
// driver is attached. Anything beyond it is dropped.
const DefaultEarlyBufferSize = 16 * 1024

// Console writes characters to a debug output driver.
type Console struct {
	mu      sync.Mutex
	out     drivers.DebugOutput
	early   []byte
	limit   int
	dropped int
	written uint64
}

// New returns a console without an output driver.
func New() *Console {
	return NewWithLimit(DefaultEarlyBufferSize)
}

// NewWithLimit returns a console keeping at most limit bytes of early
// output.
func NewWithLimit(limit int) *Console {
	return &Console{limit: limit}
}

// SetOutput attaches the output driver and flushes the early buffer to
// it. A nil driver detaches the current one.
func (c *Console) SetOutput(out drivers.DebugOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = out
	if out == nil {
		return
	}
	for _, b := range c.early {
		out.PutChar(b)
	}
	c.written += uint64(len(c.early))
	c.early = nil
}

// Output returns the attached driver, or nil.
func (c *Console) Output() drivers.DebugOutput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// Write implements io.Writer. It never fails.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		room := c.limit - len(c.early)
		if room < 0 {
			room = 0
		}
		keep := min(room, len(p))
		c.early = append(c.early, p[:keep]...)
		c.dropped += len(p) - keep
		return len(p), nil
	}
	for _, b := range p {
		c.out.PutChar(b)
	}
	c.written += uint64(len(p))
	return len(p), nil
}

// Printf formats to the console.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c, format, args...)
}

// Buffered returns the number of bytes waiting for an output driver.
func (c *Console) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.early)
}

// Dropped returns the number of early bytes that did not fit the buffer.
func (c *Console) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Written returns the number of bytes handed to output drivers.
func (c *Console) Written() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Logger returns a text logger writing to the console. Timestamps are
// left out; the kernel has no wall clock.
func (c *Console) Logger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(c, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// Discard is a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level name such as "debug" or "WARN" to a slog
// level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return l, nil
}
