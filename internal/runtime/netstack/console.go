// Package netstack carries the kernel's remote debug console over QUIC.
package netstack

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// ConsoleProtocol is the ALPN identifier of the console stream.
const ConsoleProtocol = "mordax-console"

// closer is the part of a QUIC connection the console needs.
type closer interface {
	CloseWithError(quic.ApplicationErrorCode, string) error
}

// lockedWriter serializes writes from concurrent console sessions.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// ============================================================================
// Server
// ============================================================================

// ConsoleServer accepts console connections and copies every console
// stream to one writer.
type ConsoleServer struct {
	ln  *quic.Listener
	out *lockedWriter

	mu       sync.Mutex
	sessions map[closer]struct{}
	wg       sync.WaitGroup
}

// ListenConsole binds a console server to addr. The TLS config must carry
// a certificate; ConsoleProtocol is added to its protocols.
func ListenConsole(addr string, tlsCfg *tls.Config, out io.Writer) (*ConsoleServer, error) {
	cfg := tlsCfg.Clone()
	cfg.NextProtos = []string{ConsoleProtocol}
	ln, err := quic.ListenAddr(addr, cfg, &quic.Config{MaxIdleTimeout: time.Minute, KeepAlivePeriod: 15 * time.Second})
	if err != nil {
		return nil, err
	}
	return &ConsoleServer{
		ln:       ln,
		out:      &lockedWriter{w: out},
		sessions: make(map[closer]struct{}),
	}, nil
}

// Addr returns the bound UDP address.
func (s *ConsoleServer) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is done or the server is closed.
func (s *ConsoleServer) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.sessions[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.sessions, conn)
				s.mu.Unlock()
			}()
			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				return
			}
			_, _ = io.Copy(s.out, stream)
			_ = conn.CloseWithError(0, "")
		}()
	}
}

// Close stops accepting, drops open sessions and waits for them to end.
func (s *ConsoleServer) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.sessions {
		_ = c.CloseWithError(0, "server closed")
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// ============================================================================
// Client
// ============================================================================

// ConsoleClient is one console stream to a server.
type ConsoleClient struct {
	conn   closer
	stream io.WriteCloser
}

// DialConsole connects to a console server and opens the console stream.
func DialConsole(ctx context.Context, addr string, tlsCfg *tls.Config) (*ConsoleClient, error) {
	cfg := tlsCfg.Clone()
	cfg.NextProtos = []string{ConsoleProtocol}
	conn, err := quic.DialAddr(ctx, addr, cfg, &quic.Config{KeepAlivePeriod: 15 * time.Second})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return &ConsoleClient{conn: conn, stream: stream}, nil
}

// Write sends p on the console stream.
func (c *ConsoleClient) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

// Close ends the stream and the connection.
func (c *ConsoleClient) Close() error {
	err := c.stream.Close()
	if cerr := c.conn.CloseWithError(0, ""); err == nil {
		err = cerr
	}
	return err
}

// ConsoleClientTLS returns the client TLS config. Console servers use
// self-signed certificates, so the peer is not verified.
func ConsoleClientTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13, NextProtos: []string{ConsoleProtocol}}
}
