package kernel

import (
	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// transfer is a blocked send or receive: the thread and its buffer.
type transfer struct {
	thread *Thread
	buffer uint32
	length uint32
}

func (x *transfer) pending() bool { return x.thread != nil }

// Socket is one end of a bidirectional rendezvous channel. Each side has
// at most one outstanding send and one outstanding receive or wait.
type Socket struct {
	k        *Kernel
	endpoint *Socket
	sender   transfer
	receiver transfer
	waiter   *Thread
	meta     uint32
}

func (k *Kernel) newSocket() *Socket {
	return &Socket{k: k, meta: k.kalloc(socketObjectSize, "socket")}
}

// connectSockets joins a and b.
func connectSockets(a, b *Socket) {
	a.endpoint = b
	b.endpoint = a
}

// Connected reports whether the socket has a peer.
func (s *Socket) Connected() bool { return s.endpoint != nil }

// Peer returns the other end, or nil.
func (s *Socket) Peer() *Socket { return s.endpoint }

func (s *Socket) check(length uint32) error {
	if s.endpoint == nil {
		return kerrors.Errorf(kerrors.ENOTCONN, "socket is not connected")
	}
	if length > s.k.cfg.IPCBufferLength {
		return kerrors.Errorf(kerrors.E2BIG, "message of %d bytes exceeds %d", length, s.k.cfg.IPCBufferLength)
	}
	return nil
}

// copyMessage moves n bytes between the buffers of two threads.
func (s *Socket) copyMessage(dst *Thread, dv uint32, src *Thread, sv uint32, n uint32) error {
	if n == 0 {
		return nil
	}
	return s.k.mmu.Copy(dst.proc.table, dv, src.proc.table, sv, n)
}

// wake resumes t with result v.
func (s *Socket) wake(t *Thread, v uint32) {
	s.k.setResult(t, v)
	s.k.sched.MoveToRunning(t)
}

// send delivers a message from t. With a receiver blocked on the peer the
// copy happens at once and t gets its full length back; otherwise t
// blocks until the peer receives.
func (s *Socket) send(t *Thread, buffer, length uint32) (uint32, bool, error) {
	if err := s.check(length); err != nil {
		return 0, false, err
	}
	if s.sender.pending() {
		return 0, false, kerrors.Errorf(kerrors.EBUSY, "socket already has a pending send")
	}
	peer := s.endpoint
	if rx := peer.receiver; rx.pending() {
		peer.receiver = transfer{}
		n := min(length, rx.length)
		if err := s.copyMessage(rx.thread, rx.buffer, t, buffer, n); err != nil {
			s.wake(rx.thread, kerrors.EFAULT.Ret())
			return 0, false, err
		}
		s.wake(rx.thread, n)
		return length, false, nil
	}

	s.sender = transfer{thread: t, buffer: buffer, length: length}
	if w := peer.waiter; w != nil {
		peer.waiter = nil
		s.wake(w, length)
	}
	return 0, true, nil
}

// receive takes a message for t. A sender blocked on the peer is
// completed at once and both sides get the copied length; otherwise t
// blocks until the peer sends.
func (s *Socket) receive(t *Thread, buffer, length uint32) (uint32, bool, error) {
	if err := s.check(length); err != nil {
		return 0, false, err
	}
	if s.receiver.pending() || s.waiter != nil {
		return 0, false, kerrors.Errorf(kerrors.EBUSY, "socket already has a pending receive")
	}
	peer := s.endpoint
	if tx := peer.sender; tx.pending() {
		peer.sender = transfer{}
		n := min(length, tx.length)
		if err := s.copyMessage(t, buffer, tx.thread, tx.buffer, n); err != nil {
			s.wake(tx.thread, kerrors.EFAULT.Ret())
			return 0, false, err
		}
		s.wake(tx.thread, n)
		return n, false, nil
	}

	s.receiver = transfer{thread: t, buffer: buffer, length: length}
	return 0, true, nil
}

// wait returns the length of the message pending on the peer without
// consuming it, blocking t until one arrives.
func (s *Socket) wait(t *Thread) (uint32, bool, error) {
	if err := s.check(0); err != nil {
		return 0, false, err
	}
	if s.receiver.pending() || s.waiter != nil {
		return 0, false, kerrors.Errorf(kerrors.EBUSY, "socket already has a pending receive")
	}
	if tx := s.endpoint.sender; tx.pending() {
		return tx.length, false, nil
	}
	s.waiter = t
	return 0, true, nil
}

// disconnect wakes the threads pending on s with ENOTCONN.
func (s *Socket) disconnect() {
	for _, t := range []*Thread{s.sender.thread, s.receiver.thread, s.waiter} {
		if t != nil {
			s.wake(t, kerrors.ENOTCONN.Ret())
		}
	}
	s.sender, s.receiver, s.waiter = transfer{}, transfer{}, nil
}

// destroy disconnects both ends and releases s.
func (s *Socket) destroy() {
	s.disconnect()
	if peer := s.endpoint; peer != nil {
		peer.disconnect()
		peer.endpoint = nil
		s.endpoint = nil
	}
	s.k.kfree(s.meta)
}
