//go:build linux

package poller

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// waker is an eventfd used to interrupt a blocked Wait from another goroutine.
type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &waker{fd: fd}, nil
}

func (w *waker) wake() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	for {
		_, err := unix.Write(w.fd, b[:])
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN):
			// EAGAIN: counter saturated, a wakeup is already pending
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		}
		return err
	}
}

// drain is the registration handler of the eventfd.
func (w *waker) drain(int, any, Event) {
	var b [8]byte
	for {
		_, err := unix.Read(w.fd, b[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return
	}
}

func (w *waker) close() error {
	return unix.Close(w.fd)
}
