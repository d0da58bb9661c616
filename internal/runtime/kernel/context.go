package kernel

import "fmt"

// Processor modes stored in the mode bits of the status register.
const (
	ModeUser       uint32 = 0x10
	ModeSupervisor uint32 = 0x13
	modeMask       uint32 = 0x1f
)

// Context is a saved register context: the status register, the return
// address and r0 to r14. System call arguments arrive in r0-r3 and the
// result goes back in r0.
type Context struct {
	SPSR uint32
	PC   uint32
	R    [15]uint32
}

func newContext(entry, stack uint32) Context {
	c := Context{SPSR: ModeUser, PC: entry}
	c.R[13] = stack
	return c
}

// SP returns the stack pointer.
func (c *Context) SP() uint32 { return c.R[13] }

// SetSP sets the stack pointer.
func (c *Context) SetSP(sp uint32) { c.R[13] = sp }

// Mode returns the processor mode the context runs in.
func (c *Context) Mode() uint32 { return c.SPSR & modeMask }

// SetMode changes the processor mode.
func (c *Context) SetMode(mode uint32) { c.SPSR = c.SPSR&^modeMask | mode&modeMask }

// Arg returns system call argument i.
func (c *Context) Arg(i int) uint32 { return c.R[i] }

// SetArgs loads system call arguments into r0 onwards.
func (c *Context) SetArgs(args ...uint32) {
	copy(c.R[:4], args)
}

// Result returns the system call return register.
func (c *Context) Result() uint32 { return c.R[0] }

// SetResult sets the system call return register.
func (c *Context) SetResult(v uint32) { c.R[0] = v }

func (c *Context) String() string {
	return fmt.Sprintf("pc=%#08x sp=%#08x lr=%#08x spsr=%#08x r0=%#08x r1=%#08x r2=%#08x r3=%#08x",
		c.PC, c.R[13], c.R[14], c.SPSR, c.R[0], c.R[1], c.R[2], c.R[3])
}
