package drivers

import (
	"context"
	"sync"
	"time"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/netstack"
)

const (
	quicConsoleLine    = 256
	quicConsoleTimeout = 5 * time.Second
)

// QUICConsole sends debug output line by line to a remote console server.
type QUICConsole struct {
	mu      sync.Mutex
	client  *netstack.ConsoleClient
	line    []byte
	dropped uint64
}

// DialQUICConsole connects to the console server at addr.
func DialQUICConsole(ctx context.Context, addr string) (*QUICConsole, error) {
	client, err := netstack.DialConsole(ctx, addr, netstack.ConsoleClientTLS())
	if err != nil {
		return nil, err
	}
	return &QUICConsole{client: client, line: make([]byte, 0, quicConsoleLine)}, nil
}

func newQUICConsole(env Env) (any, error) {
	addr, err := env.Node.String("address")
	if err != nil || addr == "" {
		return nil, kerrors.Errorf(kerrors.EINVAL, "%s has no console address", env.Node.Path())
	}
	ctx, cancel := context.WithTimeout(env.context(), quicConsoleTimeout)
	defer cancel()
	c, err := DialQUICConsole(ctx, addr)
	if err != nil {
		return nil, err
	}
	env.logger().Info("remote console connected", "address", addr)
	return c, nil
}

// PutChar buffers c and sends the line on newline or when the buffer is
// full.
func (q *QUICConsole) PutChar(c byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.line = append(q.line, c)
	if c == '\n' || len(q.line) == cap(q.line) {
		q.flush()
	}
}

// Flush sends any partial line.
func (q *QUICConsole) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flush()
}

func (q *QUICConsole) flush() {
	if len(q.line) == 0 {
		return
	}
	if _, err := q.client.Write(q.line); err != nil {
		q.dropped += uint64(len(q.line))
	}
	q.line = q.line[:0]
}

// Dropped returns the number of bytes that could not be sent.
func (q *QUICConsole) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close flushes and closes the connection.
func (q *QUICConsole) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flush()
	return q.client.Close()
}
