//go:build linux

package socket

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Listen opens a non-blocking listening socket. Port 0 binds an ephemeral port.
//
// The address family is IPv6 when host starts with '[' or contains ':'.
// "[]" and "[*]" bind every IPv6 address, "*" and "" bind every IPv4 address.
func Listen(host string, port int) (int, error) {
	if port < 0 || port > 65535 {
		return -1, ErrInvalidPort
	}

	sa, family, err := resolve(host, port)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}

	return fd, nil
}

// IsIPv6Host reports whether the configured host selects an IPv6 socket.
func IsIPv6Host(host string) bool {
	return strings.HasPrefix(host, "[") || strings.Contains(host, ":")
}

func resolve(host string, port int) (unix.Sockaddr, int, error) {
	if IsIPv6Host(host) {
		h := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
		sa := &unix.SockaddrInet6{Port: port}
		if h == "" || h == "*" {
			return sa, unix.AF_INET6, nil
		}
		ip := net.ParseIP(h)
		if ip == nil || ip.To16() == nil {
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidHost, host)
		}
		copy(sa.Addr[:], ip.To16())
		return sa, unix.AF_INET6, nil
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host == "" || host == "*" {
		return sa, unix.AF_INET, nil
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	copy(sa.Addr[:], ip.To4())
	return sa, unix.AF_INET, nil
}

// LocalPort returns the port a listening socket is bound to.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, ErrInvalidHost
}

// Accept takes one pending connection off the listener. The returned socket
// is already non-blocking. ErrAgain means the backlog is empty.
func Accept(lfd int) (int, string, error) {
	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				return -1, "", ErrAgain
			}
			return -1, "", err
		}

		// TCP_NODELAY: responses are written in header + body windows
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		return nfd, addrString(sa), nil
	}
}

func addrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	}
	return ""
}

// SetNonblock sets non-blocking mode
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// Peek reads into p without consuming the data from the socket.
func Peek(fd int, p []byte) (int, Result, error) {
	n, _, err := unix.Recvfrom(fd, p, unix.MSG_PEEK)
	return classifyRead(n, err)
}

// Read reads from a non-blocking socket.
func Read(fd int, p []byte) (int, Result, error) {
	n, err := unix.Read(fd, p)
	return classifyRead(n, err)
}

// Write writes to a non-blocking socket. Partial writes return OK with n < len(p).
func Write(fd int, p []byte) (int, Result, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		if n < 0 {
			n = 0
		}
		return n, classify(err), err
	}
	return n, OK, nil
}

func classifyRead(n int, err error) (int, Result, error) {
	if err != nil {
		return 0, classify(err), err
	}
	if n == 0 {
		return 0, EOF, nil
	}
	return n, OK, nil
}

func classify(err error) Result {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return Again
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return ConReset
	}
	return Error
}

// ShutdownWrite half-closes the socket so the peer sees EOF.
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// Close shuts the socket down in both directions and releases the descriptor.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	unix.Shutdown(fd, unix.SHUT_RDWR)
	for {
		err := unix.Close(fd)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}
