// Package drivers defines the hardware contracts the kernel consumes (the
// scheduler timer, the interrupt controller and the debug output) and
// instantiates them from device tree nodes through a compatible-string
// registry.
package drivers

//go:generate mockgen -source=drivers.go -destination=mocks/mock_drivers.go -package=mocks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/dt"
)

// Handler services an interrupt line.
type Handler func(irq uint32)

// Timer is a periodic timer. The callback runs on every expiry while the
// timer is started.
type Timer interface {
	SetInterval(us uint32)
	SetCallback(fn func())
	Start()
	Stop()
}

// InterruptController routes interrupt lines to handlers.
type InterruptController interface {
	Register(irq uint32, h Handler) error
	Unregister(irq uint32)
	Enable(irq uint32)
	Disable(irq uint32)
	Handler(irq uint32) Handler
}

// DebugOutput is the kernel's character sink.
type DebugOutput interface {
	PutChar(c byte)
}

// Raiser is implemented by interrupt controllers that can assert a line
// from software.
type Raiser interface {
	Raise(irq uint32) bool
}

// Env is what a driver constructor gets to work with.
type Env struct {
	Context context.Context
	Tree    *dt.Tree
	Node    *dt.Node
	// Interrupts is the interrupt controller, once one exists.
	Interrupts InterruptController
	// Output receives what simulated devices print. Defaults to stdout.
	Output io.Writer
	Logger *slog.Logger
}

func (e Env) context() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

func (e Env) output() io.Writer {
	if e.Output == nil {
		return os.Stdout
	}
	return e.Output
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

// ============================================================================
// Registry
// ============================================================================

// Kind is a driver class.
type Kind uint8

const (
	KindTimer Kind = iota
	KindInterruptController
	KindDebugOutput
)

func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindInterruptController:
		return "interrupt controller"
	case KindDebugOutput:
		return "debug output"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Constructor builds a driver for env.Node.
type Constructor func(env Env) (any, error)

// Registry maps compatible strings to driver constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[Kind]map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[Kind]map[string]Constructor)}
}

// Default returns a registry holding the simulated drivers.
func Default() *Registry {
	r := NewRegistry()
	r.Register(KindTimer, "mordax,sim-timer", newSimTimer)
	r.Register(KindTimer, "mordax,host-timer", newHostTimer)
	r.Register(KindInterruptController, "mordax,sim-intc", newSimInterruptController)
	r.Register(KindDebugOutput, "mordax,sim-uart", newUART)
	r.Register(KindDebugOutput, "mordax,quic-console", newQUICConsole)
	return r
}

// Register adds a constructor, replacing any earlier one for the same
// kind and compatible string.
func (r *Registry) Register(kind Kind, compatible string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctors[kind] == nil {
		r.ctors[kind] = make(map[string]Constructor)
	}
	r.ctors[kind][compatible] = ctor
}

// Compatible lists the compatible strings registered for kind.
func (r *Registry) Compatible(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors[kind]))
	for c := range r.ctors[kind] {
		out = append(out, c)
	}
	return out
}

// instantiate tries the node's compatible strings in order, most specific
// first, and uses the first one with a registered constructor.
func (r *Registry) instantiate(kind Kind, env Env) (any, error) {
	if env.Node == nil {
		return nil, kerrors.Errorf(kerrors.EINVAL, "no device tree node for the %s", kind)
	}
	compat, err := env.Node.Strings("compatible")
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, env.Node.Path(), err)
	}
	r.mu.RLock()
	var ctor Constructor
	for _, c := range compat {
		if ctor = r.ctors[kind][c]; ctor != nil {
			break
		}
	}
	r.mu.RUnlock()
	if ctor == nil {
		return nil, kerrors.NotFound(kind.String()+" driver", fmt.Sprint(compat))
	}
	d, err := ctor(env)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s %s: %w", kind, env.Node.Path(), err)
	}
	return d, nil
}

// Timer instantiates the timer driver for env.Node.
func (r *Registry) Timer(env Env) (Timer, error) {
	d, err := r.instantiate(KindTimer, env)
	if err != nil {
		return nil, err
	}
	t, ok := d.(Timer)
	if !ok {
		return nil, kerrors.Errorf(kerrors.EINTERNAL, "driver for %s is not a timer", env.Node.Path())
	}
	return t, nil
}

// InterruptController instantiates the interrupt controller for env.Node.
func (r *Registry) InterruptController(env Env) (InterruptController, error) {
	d, err := r.instantiate(KindInterruptController, env)
	if err != nil {
		return nil, err
	}
	c, ok := d.(InterruptController)
	if !ok {
		return nil, kerrors.Errorf(kerrors.EINTERNAL, "driver for %s is not an interrupt controller", env.Node.Path())
	}
	return c, nil
}

// DebugOutput instantiates the debug output driver for env.Node.
func (r *Registry) DebugOutput(env Env) (DebugOutput, error) {
	d, err := r.instantiate(KindDebugOutput, env)
	if err != nil {
		return nil, err
	}
	o, ok := d.(DebugOutput)
	if !ok {
		return nil, kerrors.Errorf(kerrors.EINTERNAL, "driver for %s is not a debug output", env.Node.Path())
	}
	return o, nil
}
