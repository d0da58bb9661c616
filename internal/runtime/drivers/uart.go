package drivers

import (
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"golang.org/x/text/encoding/charmap"
)

var codePages = map[string]*charmap.Charmap{
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1252": charmap.Windows1252,
	"cp437":        charmap.CodePage437,
}

// UART is a simulated serial port. The kernel writes bytes in an 8-bit
// code page; they reach the host output as UTF-8.
type UART struct {
	mu      sync.Mutex
	out     io.Writer
	cm      *charmap.Charmap
	buf     []byte
	written uint64
}

// NewUART returns a UART decoding cm onto out.
func NewUART(out io.Writer, cm *charmap.Charmap) *UART {
	if cm == nil {
		cm = charmap.ISO8859_1
	}
	return &UART{out: out, cm: cm, buf: make([]byte, 0, utf8.UTFMax)}
}

func newUART(env Env) (any, error) {
	cm := charmap.ISO8859_1
	if name, err := env.Node.String("mordax,codepage"); err == nil {
		var ok bool
		if cm, ok = codePages[strings.ToLower(name)]; !ok {
			return nil, kerrors.Errorf(kerrors.EINVAL, "unsupported code page %q", name)
		}
	}
	return NewUART(env.output(), cm), nil
}

// PutChar writes one character.
func (u *UART) PutChar(c byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.buf = utf8.AppendRune(u.buf[:0], u.cm.DecodeByte(c))
	if _, err := u.out.Write(u.buf); err == nil {
		u.written++
	}
}

// Written returns the number of characters written.
func (u *UART) Written() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.written
}
