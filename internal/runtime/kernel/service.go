package kernel

import (
	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/orizon-lang/mordax/internal/runtime/queue"
)

// Service is a named rendezvous point. One thread listens at a time;
// connecting threads queue in the backlog until a listener takes them.
type Service struct {
	k        *Kernel
	name     string
	owner    *Process
	listener *Thread
	backlog  *queue.List[*Thread]
	meta     uint32
}

// createService registers a new service owned by p.
func (k *Kernel) createService(p *Process, name string) (*Service, error) {
	if _, exists := k.services[name]; exists {
		return nil, kerrors.Errorf(kerrors.EBUSY, "service %q already exists", name)
	}
	s := &Service{
		k:       k,
		name:    name,
		owner:   p,
		backlog: queue.New[*Thread](),
		meta:    k.kalloc(serviceObjectSize+uint32(len(name)), "service"),
	}
	k.kstore(s.meta+serviceObjectSize, []byte(name))
	k.services[name] = s
	k.log.Debug("service created", "name", name, "pid", p.pid)
	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Owner returns the process that created the service.
func (s *Service) Owner() *Process { return s.owner }

// Listener returns the blocked listener, or nil.
func (s *Service) Listener() *Thread { return s.listener }

// Backlog returns the clients waiting for a listener, oldest first.
func (s *Service) Backlog() []*Thread { return s.backlog.Values() }

// listen accepts the oldest waiting client, or blocks t until one
// connects. The returned socket is the server end; the client has been
// given the other end and woken with its handle.
func (s *Service) listen(t *Thread) (*Socket, bool, error) {
	if s.listener != nil {
		return nil, false, kerrors.Errorf(kerrors.EBUSY, "service %q already has a listener", s.name)
	}
	client, ok := s.backlog.PopFront()
	if !ok {
		s.listener = t
		return nil, true, nil
	}

	server, clientEnd := s.k.newSocket(), s.k.newSocket()
	connectSockets(server, clientEnd)
	h, err := client.proc.resources.Add(ResourceSocket, clientEnd)
	if err != nil {
		clientEnd.destroy()
		server.destroy()
		s.k.setResult(client, kerrors.Ret(0, err))
		s.k.sched.MoveToRunning(client)
		return nil, false, err
	}
	s.k.setResult(client, h)
	s.k.sched.MoveToRunning(client)
	return server, false, nil
}

// connect hands t a socket to the blocked listener, or queues t in the
// backlog.
func (s *Service) connect(t *Thread) (*Socket, bool, error) {
	listener := s.listener
	if listener == nil {
		s.backlog.PushBack(t)
		return nil, true, nil
	}

	server, clientEnd := s.k.newSocket(), s.k.newSocket()
	connectSockets(server, clientEnd)
	h, err := listener.proc.resources.Add(ResourceSocket, server)
	if err != nil {
		server.destroy()
		clientEnd.destroy()
		return nil, false, err
	}
	s.listener = nil
	s.k.setResult(listener, h)
	s.k.sched.MoveToRunning(listener)
	return clientEnd, false, nil
}

// destroy unregisters the service. The listener is woken with ECANCELED
// and clients still in the backlog with ENOTCONN.
func (s *Service) destroy() {
	delete(s.k.services, s.name)
	if l := s.listener; l != nil {
		s.listener = nil
		s.k.setResult(l, kerrors.ECANCELED.Ret())
		s.k.sched.MoveToRunning(l)
	}
	s.backlog.Drain(func(c *Thread) {
		s.k.setResult(c, kerrors.ENOTCONN.Ret())
		s.k.sched.MoveToRunning(c)
	})
	s.k.kfree(s.meta)
	s.k.log.Debug("service destroyed", "name", s.name)
}
