package kernel

import "fmt"

// Panic is an unrecoverable kernel error. The kernel raises it with the
// builtin panic after printing the panic banner; Boot and the timer
// interrupt turn it back into an error.
type Panic struct {
	Message string
}

func (p *Panic) Error() string { return "kernel panic: " + p.Message }

// panicf halts the kernel.
func (k *Kernel) panicf(format string, args ...any) {
	p := &Panic{Message: fmt.Sprintf(format, args...)}
	k.console.Printf("\n\n\n*** KERNEL PANIC\n*** ERROR: %s!\n"+
		"*** An unrecoverable error has occured. Reset the board and try again.\n\n\n\n", p.Message)
	k.log.Error("kernel panic", "message", p.Message)
	k.halted = p
	panic(p)
}

// recoverPanic stores a kernel panic in *err. Other panics propagate.
func recoverPanic(err *error) {
	r := recover()
	if r == nil {
		return
	}
	p, ok := r.(*Panic)
	if !ok {
		panic(r)
	}
	*err = p
}
