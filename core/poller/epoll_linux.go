//go:build linux

package poller

import (
	"errors"
	"fmt"
	"iter"

	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
	n      int
	reg    registry
	waker  *waker
	closed bool
}

// New creates a poller for the named backend ("epoll" or "poll"). An empty
// name selects epoll.
func New(backend string, sizeHint int) (Poller, error) {
	if sizeHint <= 0 {
		sizeHint = 1024
	}
	switch backend {
	case "", "epoll":
		return NewEpoll(sizeHint)
	case "poll":
		return NewPoll(sizeHint)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}

// NewEpoll creates an epoll poller with its wakeup descriptor registered.
func NewEpoll(sizeHint int) (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	w, err := newWaker()
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	batch := sizeHint
	if batch > 1024 {
		batch = 1024
	}

	p := &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, batch),
		reg:    newRegistry(sizeHint),
		waker:  w,
	}

	if err := p.Add(w.fd, w.drain, nil); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.SetEvents(w.fd, EventRead); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

func toEpoll(ev Event) uint32 {
	var e uint32
	if ev&EventRead != 0 {
		// EPOLLRDHUP: detect peer shutdown
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) Event {
	var ev Event
	if e&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHup
	}
	if e&unix.EPOLLERR != 0 {
		ev |= EventErr
	}
	return ev
}

// Add registers fd without interest. Use SetEvents to arm it.
func (p *EpollPoller) Add(fd int, handler Handler, data any) error {
	if p.closed {
		return ErrClosed
	}
	_, err := p.reg.add(fd, handler, data)
	return err
}

// SetEvents arms fd for the given events (ADD on first arm, MOD afterwards).
func (p *EpollPoller) SetEvents(fd int, events Event) error {
	reg, err := p.reg.get(fd)
	if err != nil {
		return err
	}
	if events == 0 {
		return p.DeleteEvents(fd)
	}
	if reg.armed && reg.events == events {
		return nil
	}

	op := unix.EPOLL_CTL_ADD
	if reg.armed {
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
	}
	reg.events = events
	reg.armed = true
	return nil
}

// DeleteEvents disarms fd. The registration is kept.
func (p *EpollPoller) DeleteEvents(fd int) error {
	reg, err := p.reg.get(fd)
	if err != nil {
		return err
	}
	if !reg.armed {
		return nil
	}
	reg.armed = false
	reg.events = 0
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Remove drops fd from the poller. It must be called before fd is closed.
func (p *EpollPoller) Remove(fd int) error {
	reg, err := p.reg.remove(fd)
	if err != nil {
		return err
	}
	if reg.armed {
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	return nil
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(timeout int) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		p.n = 0
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	p.n = n
	return n, nil
}

// Ready iterates the descriptors reported by the last Wait.
func (p *EpollPoller) Ready() iter.Seq2[int, Event] {
	return func(yield func(int, Event) bool) {
		for i := 0; i < p.n; i++ {
			if !yield(int(p.events[i].Fd), fromEpoll(p.events[i].Events)) {
				return
			}
		}
	}
}

// Dispatch calls the handlers of the descriptors reported by the last Wait.
func (p *EpollPoller) Dispatch() {
	p.reg.dispatch(p.Ready())
	p.n = 0
}

// Wake interrupts a blocked Wait. Safe for concurrent use.
func (p *EpollPoller) Wake() error {
	return p.waker.wake()
}

func (p *EpollPoller) Backend() string { return "epoll" }

// Close closes the Poller
func (p *EpollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.waker.close()
	return unix.Close(p.epfd)
}
