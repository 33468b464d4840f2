//go:build linux

package poller

import (
	"errors"
	"fmt"
	"iter"

	"golang.org/x/sys/unix"
)

type readyFd struct {
	fd int
	ev Event
}

// PollPoller multiplexes with poll(2). Armed descriptors live in a dense
// array; disarming swaps the entry with the last one.
type PollPoller struct {
	fds    []unix.PollFd
	owners []*registration
	ready  []readyFd
	reg    registry
	waker  *waker
	closed bool
}

// NewPoll creates a poll(2) poller with its wakeup descriptor registered.
func NewPoll(sizeHint int) (*PollPoller, error) {
	w, err := newWaker()
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	p := &PollPoller{
		fds:    make([]unix.PollFd, 0, sizeHint),
		owners: make([]*registration, 0, sizeHint),
		ready:  make([]readyFd, 0, 64),
		reg:    newRegistry(sizeHint),
		waker:  w,
	}

	if err := p.Add(w.fd, w.drain, nil); err != nil {
		w.close()
		return nil, err
	}
	if err := p.SetEvents(w.fd, EventRead); err != nil {
		w.close()
		return nil, err
	}
	return p, nil
}

func toPoll(ev Event) int16 {
	var e int16
	if ev&EventRead != 0 {
		e |= unix.POLLIN | unix.POLLRDHUP
	}
	if ev&EventWrite != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func fromPoll(e int16) Event {
	var ev Event
	if e&unix.POLLIN != 0 {
		ev |= EventRead
	}
	if e&unix.POLLOUT != 0 {
		ev |= EventWrite
	}
	if e&(unix.POLLHUP|unix.POLLRDHUP) != 0 {
		ev |= EventHup
	}
	if e&(unix.POLLERR|unix.POLLNVAL) != 0 {
		ev |= EventErr
	}
	return ev
}

// Add registers fd without interest.
func (p *PollPoller) Add(fd int, handler Handler, data any) error {
	if p.closed {
		return ErrClosed
	}
	_, err := p.reg.add(fd, handler, data)
	return err
}

// SetEvents arms fd or changes its mask in place.
func (p *PollPoller) SetEvents(fd int, events Event) error {
	reg, err := p.reg.get(fd)
	if err != nil {
		return err
	}
	if events == 0 {
		return p.DeleteEvents(fd)
	}

	if !reg.armed {
		reg.index = len(p.fds)
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd)})
		p.owners = append(p.owners, reg)
		reg.armed = true
	}
	p.fds[reg.index].Events = toPoll(events)
	reg.events = events
	return nil
}

// DeleteEvents disarms fd by swapping it out of the array.
func (p *PollPoller) DeleteEvents(fd int) error {
	reg, err := p.reg.get(fd)
	if err != nil {
		return err
	}
	p.disarm(reg)
	return nil
}

func (p *PollPoller) disarm(reg *registration) {
	if !reg.armed {
		return
	}
	last := len(p.fds) - 1
	if reg.index != last {
		p.fds[reg.index] = p.fds[last]
		p.owners[reg.index] = p.owners[last]
		p.owners[reg.index].index = reg.index
	}
	p.fds = p.fds[:last]
	p.owners[last] = nil
	p.owners = p.owners[:last]
	reg.armed = false
	reg.events = 0
	reg.index = -1
}

// Remove drops fd from the poller.
func (p *PollPoller) Remove(fd int) error {
	reg, err := p.reg.remove(fd)
	if err != nil {
		return err
	}
	p.disarm(reg)
	return nil
}

// Wait polls the armed descriptors. The ready set is copied out so handlers
// may change registrations while it is dispatched.
func (p *PollPoller) Wait(timeout int) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	p.ready = p.ready[:0]
	n, err := unix.Poll(p.fds, timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < len(p.fds) && len(p.ready) < n; i++ {
		if p.fds[i].Revents != 0 {
			p.ready = append(p.ready, readyFd{fd: int(p.fds[i].Fd), ev: fromPoll(p.fds[i].Revents)})
			p.fds[i].Revents = 0
		}
	}
	return len(p.ready), nil
}

// Ready iterates the descriptors reported by the last Wait.
func (p *PollPoller) Ready() iter.Seq2[int, Event] {
	return func(yield func(int, Event) bool) {
		for _, r := range p.ready {
			if !yield(r.fd, r.ev) {
				return
			}
		}
	}
}

// Dispatch calls the handlers of the descriptors reported by the last Wait.
func (p *PollPoller) Dispatch() {
	p.reg.dispatch(p.Ready())
	p.ready = p.ready[:0]
}

// Wake interrupts a blocked Wait. Safe for concurrent use.
func (p *PollPoller) Wake() error {
	return p.waker.wake()
}

func (p *PollPoller) Backend() string { return "poll" }

// Close releases the wakeup descriptor.
func (p *PollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.waker.close()
}
