//go:build linux

package socket

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestIsTLSClientHello(t *testing.T) {
	tests := []struct {
		b    byte
		want bool
	}{
		{0x16, true},
		{0x80, true},
		{0xff, true},
		{'G', false},
		{'P', false},
		{0x00, false},
	}
	for _, tt := range tests {
		if got := IsTLSClientHello(tt.b); got != tt.want {
			t.Errorf("IsTLSClientHello(%#x) = %v, want %v", tt.b, got, tt.want)
		}
	}
}

func TestIsIPv6Host(t *testing.T) {
	tests := map[string]bool{
		"*":         false,
		"":          false,
		"127.0.0.1": false,
		"[]":        true,
		"[*]":       true,
		"::1":       true,
		"[::1]":     true,
	}
	for host, want := range tests {
		if got := IsIPv6Host(host); got != want {
			t.Errorf("IsIPv6Host(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestReadWriteResults(t *testing.T) {
	a, b := socketPair(t)

	buf := make([]byte, 16)
	if _, res, _ := Read(a, buf); res != Again {
		t.Fatalf("empty read = %v, want AGAIN", res)
	}

	n, res, err := Write(b, []byte("hello"))
	if res != OK || n != 5 || err != nil {
		t.Fatalf("write = %d %v %v", n, res, err)
	}

	// Peek must not consume
	n, res, _ = Peek(a, buf[:1])
	if res != OK || n != 1 || buf[0] != 'h' {
		t.Fatalf("peek = %d %v %q", n, res, buf[:n])
	}

	n, res, _ = Read(a, buf)
	if res != OK || string(buf[:n]) != "hello" {
		t.Fatalf("read = %q %v", buf[:n], res)
	}

	if err := ShutdownWrite(b); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, res, _ := Read(a, buf); res != EOF {
		t.Fatalf("read after shutdown = %v, want EOF", res)
	}
}

func TestWriteToClosedPeer(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	unix.Close(fds[1])

	// SIGPIPE is ignored by the Go runtime for non-stdout descriptors
	_, res, _ := Write(fds[0], []byte("x"))
	if res != ConReset {
		t.Fatalf("write to closed peer = %v, want CONRESET", res)
	}
}

func TestListenAcceptIPv4(t *testing.T) {
	lfd, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer Close(lfd)

	if _, _, err := Accept(lfd); !errors.Is(err, ErrAgain) {
		t.Fatalf("accept on empty backlog = %v, want ErrAgain", err)
	}

	port, err := LocalPort(lfd)
	if err != nil {
		t.Fatalf("local port: %v", err)
	}

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	deadline := time.After(2 * time.Second)
	for {
		nfd, addr, err := Accept(lfd)
		if err == nil {
			if addr == "" {
				t.Error("empty remote address")
			}
			Close(nfd)
			return
		}
		if !errors.Is(err, ErrAgain) {
			t.Fatalf("accept: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for connection")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestListenInvalid(t *testing.T) {
	if _, err := Listen("*", 70000); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("port 70000: got %v", err)
	}
	if _, err := Listen("not-an-ip", 8080); !errors.Is(err, ErrInvalidHost) {
		t.Errorf("bad host: got %v", err)
	}
	if _, err := Listen("[zz::1]", 8080); !errors.Is(err, ErrInvalidHost) {
		t.Errorf("bad v6 host: got %v", err)
	}
}
