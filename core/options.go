package core

import (
	"fmt"
	"time"

	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/secure"
)

// Fixed connection timings.
const (
	AcceptTimeout     = 5 * time.Second
	HandshakeTimeout  = 10 * time.Second
	Linger            = time.Second
	AcceptsPerEvent   = 150
	JobInterval       = 60 * time.Second
	WorkerStopTimeout = 5 * time.Second

	pollTimeout = 100 // milliseconds
)

// Options configure an Engine. The engine keeps its own copy; changing the
// value afterwards has no effect.
type Options struct {
	Host string
	// Port 0 binds an ephemeral port, see Engine.Port.
	Port       int
	ServerName string

	MaxConnections int
	WorkerThreads  int
	Poller         string

	MaxReadIdle    time.Duration
	MaxRequestTime time.Duration
	StatsInterval  time.Duration

	Limits http.Limits

	// PublicHTML is the static file root; empty disables static files.
	PublicHTML  string
	MimeTypes   map[string]string
	DefaultMIME string

	// TLS enables HTTPS on the same port when set.
	TLS *secure.Options

	// GC is applied once when the engine starts.
	GC pools.GCConfig

	Debug bool
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Host:           "*",
		Port:           8888,
		ServerName:     "xg-server",
		MaxConnections: 10000,
		Poller:         "epoll",
		MaxReadIdle:    2 * time.Second,
		MaxRequestTime: 10 * time.Second,
		StatsInterval:  time.Minute,
		Limits:         http.DefaultLimits(),
		DefaultMIME:    "application/octet-stream",
		GC:             pools.DefaultGCConfig(),
	}
}

// normalize fills zero values from the defaults and rejects values the
// engine cannot run with.
func (o *Options) normalize() error {
	def := DefaultOptions()
	if o.Host == "" {
		o.Host = def.Host
	}
	if o.ServerName == "" {
		o.ServerName = def.ServerName
	}
	if o.MaxConnections == 0 {
		o.MaxConnections = def.MaxConnections
	}
	if o.Poller == "" {
		o.Poller = def.Poller
	}
	if o.MaxReadIdle == 0 {
		o.MaxReadIdle = def.MaxReadIdle
	}
	if o.MaxRequestTime == 0 {
		o.MaxRequestTime = def.MaxRequestTime
	}
	if o.Limits.MaxHeadSize == 0 {
		o.Limits = def.Limits
	}
	if o.Limits.MaxPathLen == 0 {
		o.Limits.MaxPathLen = http.DefaultMaxPathLen
	}

	switch {
	case o.Port < 0 || o.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrBadOptions, o.Port)
	case o.MaxConnections < 0:
		return fmt.Errorf("%w: max connections %d", ErrBadOptions, o.MaxConnections)
	case o.WorkerThreads < 0:
		return fmt.Errorf("%w: worker threads %d", ErrBadOptions, o.WorkerThreads)
	case o.MaxReadIdle < 0 || o.MaxRequestTime < 0:
		return fmt.Errorf("%w: negative timeout", ErrBadOptions)
	}
	return nil
}
