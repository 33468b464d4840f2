package poller

import (
	"errors"
	"iter"
)

// Event is a readiness bit mask.
type Event uint32

const (
	EventRead Event = 1 << iota
	EventWrite
	EventHup
	EventErr
)

// Has reports whether all bits of x are set in e.
func (e Event) Has(x Event) bool {
	return e&x == x
}

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	for _, p := range []struct {
		bit  Event
		name string
	}{{EventRead, "read"}, {EventWrite, "write"}, {EventHup, "hup"}, {EventErr, "err"}} {
		if e&p.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += p.name
		}
	}
	return s
}

// Handler is called for every descriptor reported ready by Dispatch.
type Handler func(fd int, data any, events Event)

// Error definitions
var (
	ErrAlreadyRegistered = errors.New("poller: descriptor already registered")
	ErrNotRegistered     = errors.New("poller: descriptor not registered")
	ErrClosed            = errors.New("poller: closed")
	ErrUnknownBackend    = errors.New("poller: unknown backend")
)

// Poller is the level-triggered I/O multiplexer.
//
// Registration calls must come from the goroutine that calls Wait and
// Dispatch. Wake is the only method safe to call from other goroutines.
type Poller interface {
	// Add registers fd without arming any interest.
	Add(fd int, handler Handler, data any) error
	// SetEvents arms or changes the interest mask of a registered fd.
	SetEvents(fd int, events Event) error
	// DeleteEvents disarms fd but keeps its registration.
	DeleteEvents(fd int) error
	// Remove drops the registration. A second Remove returns ErrNotRegistered.
	Remove(fd int) error
	// Wait blocks up to timeout milliseconds and returns the number of ready fds.
	Wait(timeout int) (int, error)
	// Ready iterates the descriptors reported by the last Wait.
	Ready() iter.Seq2[int, Event]
	// Dispatch calls the handler of every ready descriptor still registered.
	Dispatch()
	// Wake interrupts a blocked Wait.
	Wake() error
	// Backend names the kernel facility.
	Backend() string
	Close() error
}

// registration is the per-descriptor record shared by the backends
type registration struct {
	fd      int
	handler Handler
	data    any
	events  Event
	armed   bool
	index   int
}

// registry maps descriptors to registrations
type registry struct {
	regs map[int]*registration
}

func newRegistry(size int) registry {
	return registry{regs: make(map[int]*registration, size)}
}

func (r *registry) add(fd int, handler Handler, data any) (*registration, error) {
	if _, ok := r.regs[fd]; ok {
		return nil, ErrAlreadyRegistered
	}
	reg := &registration{fd: fd, handler: handler, data: data, index: -1}
	r.regs[fd] = reg
	return reg, nil
}

func (r *registry) get(fd int) (*registration, error) {
	reg, ok := r.regs[fd]
	if !ok {
		return nil, ErrNotRegistered
	}
	return reg, nil
}

func (r *registry) remove(fd int) (*registration, error) {
	reg, ok := r.regs[fd]
	if !ok {
		return nil, ErrNotRegistered
	}
	delete(r.regs, fd)
	return reg, nil
}

// dispatch runs handlers for a ready set. Registrations removed by an
// earlier handler in the same batch are skipped.
func (r *registry) dispatch(ready iter.Seq2[int, Event]) {
	for fd, ev := range ready {
		reg, ok := r.regs[fd]
		if !ok || reg.handler == nil {
			continue
		}
		reg.handler(fd, reg.data, ev)
	}
}
