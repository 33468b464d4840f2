// Package config loads the server settings. Sources are applied in order:
// built-in defaults, a JSON file, XG_ environment variables, then command
// line flags. The result is validated once and treated as read-only.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/searchktools/xg-server/core"
	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/secure"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "XG"

// Limits enforced by Validate.
const (
	MinPort           = 80
	MaxPort           = 65000
	MaxReadIdle       = 30 * time.Second
	MaxRequestTime    = 86400 * time.Second
	MaxWorkerThreads  = 64
	MaxMaxConnections = 1 << 20
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// Config holds all server configuration.
type Config struct {
	Host       string `config:"host"`
	Port       int    `config:"port"`
	ServerName string `config:"server_name"`

	PublicHTML     string `config:"public_html"`
	PrivateHTML    string `config:"private_html"`
	DirectoryIndex string `config:"directory_index"`

	MaxHeadSize    int           `config:"max_head_size"`
	MaxPostSize    int64         `config:"max_post_size"`
	MaxUploadSize  int64         `config:"max_upload_size"`
	MaxReadIdle    time.Duration `config:"max_read_idle"`
	MaxRequestTime time.Duration `config:"max_request_time"`

	WorkerThreads  int           `config:"worker_threads"`
	MaxConnections int           `config:"max_connections"`
	Poller         string        `config:"poller"`
	StatsInterval  time.Duration `config:"stats_interval"`

	UseSSL             bool   `config:"use_ssl"`
	KeyFile            string `config:"key_file"`
	CertFile           string `config:"cert_file"`
	DH512File          string `config:"dh512_file"`
	DH1024File         string `config:"dh1024_file"`
	DH2048File         string `config:"dh2048_file"`
	PrivateKeyPassword string `config:"private_key_password"`

	MimeTypes       map[string]string `config:"mimetypes"`
	DefaultMimeType string            `config:"default_mimetype"`

	// Aliases map a request path to another path, to an absolute URL
	// (answered with 301) or to a bare status code.
	Aliases map[string]string `config:"aliases"`

	// GCPercent and MemoryLimit tune the Go collector; 0 leaves the
	// runtime setting alone.
	GCPercent   int   `config:"gc_percent"`
	MemoryLimit int64 `config:"memory_limit"`

	Debug bool `config:"debug"`

	source *Manager
}

// Default returns the built-in settings.
func Default() *Config {
	lim := http.DefaultLimits()
	return &Config{
		Host:            "*",
		Port:            8888,
		ServerName:      "xg-server",
		DirectoryIndex:  lim.DirectoryIndex,
		MaxHeadSize:     lim.MaxHeadSize,
		MaxPostSize:     lim.MaxPostSize,
		MaxUploadSize:   lim.MaxUploadSize,
		MaxReadIdle:     2 * time.Second,
		MaxRequestTime:  10 * time.Second,
		MaxConnections:  10000,
		Poller:          "epoll",
		StatsInterval:   time.Minute,
		DefaultMimeType: "application/octet-stream",
		GCPercent:       pools.DefaultGCConfig().GOGC,
		source:          NewManager(),
	}
}

// New loads the configuration from the process arguments and environment.
// It exits on error.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	return cfg
}

// Load builds a validated configuration from args. A -config flag names a
// JSON file applied below the environment and the other flags.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("xg-server", flag.ContinueOnError)
	file := fs.String("config", "", "JSON configuration file")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen address, * for all interfaces")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.StringVar(&cfg.PublicHTML, "public-html", cfg.PublicHTML, "static file root")
	fs.IntVar(&cfg.WorkerThreads, "workers", cfg.WorkerThreads, "worker goroutines, 0 for one per CPU")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "connection slots")
	fs.StringVar(&cfg.Poller, "poller", cfg.Poller, "event backend: epoll or poll")
	fs.BoolVar(&cfg.UseSSL, "ssl", cfg.UseSSL, "serve HTTPS on the same port")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log every connection")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Flags win: remember the explicit ones and reapply them after the file
	// and the environment.
	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	if *file != "" {
		if err := cfg.source.LoadFromJSON(*file); err != nil {
			return nil, err
		}
	}
	cfg.source.LoadFromEnv(EnvPrefix)
	if err := cfg.source.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	for name, value := range explicit {
		if name == "config" {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Port < MinPort || c.Port > MaxPort:
		return fmt.Errorf("%w: port %d outside %d..%d", ErrInvalid, c.Port, MinPort, MaxPort)
	case c.MaxHeadSize <= 0:
		return fmt.Errorf("%w: max_head_size %d", ErrInvalid, c.MaxHeadSize)
	case c.MaxPostSize < 0 || c.MaxUploadSize < 0:
		return fmt.Errorf("%w: negative body limit", ErrInvalid)
	case c.MaxReadIdle <= 0 || c.MaxReadIdle > MaxReadIdle:
		return fmt.Errorf("%w: max_read_idle %v outside (0, %v]", ErrInvalid, c.MaxReadIdle, MaxReadIdle)
	case c.MaxRequestTime <= 0 || c.MaxRequestTime > MaxRequestTime:
		return fmt.Errorf("%w: max_request_time %v outside (0, %v]", ErrInvalid, c.MaxRequestTime, MaxRequestTime)
	case c.WorkerThreads < 0 || c.WorkerThreads > MaxWorkerThreads:
		return fmt.Errorf("%w: worker_threads %d outside 0..%d", ErrInvalid, c.WorkerThreads, MaxWorkerThreads)
	case c.MaxConnections <= 0 || c.MaxConnections > MaxMaxConnections:
		return fmt.Errorf("%w: max_connections %d", ErrInvalid, c.MaxConnections)
	case c.GCPercent < 0 || c.MemoryLimit < 0:
		return fmt.Errorf("%w: negative GC setting", ErrInvalid)
	case c.StatsInterval < 0:
		return fmt.Errorf("%w: stats_interval %v", ErrInvalid, c.StatsInterval)
	case c.UseSSL && (c.CertFile == "" || c.KeyFile == ""):
		return fmt.Errorf("%w: use_ssl needs cert_file and key_file", ErrInvalid)
	}

	if c.PublicHTML != "" {
		if st, err := os.Stat(c.PublicHTML); err != nil || !st.IsDir() {
			return fmt.Errorf("%w: public_html %q is not a directory", ErrInvalid, c.PublicHTML)
		}
	}
	if _, err := c.aliases(); err != nil {
		return err
	}
	return nil
}

func (c *Config) aliases() (map[string]http.Alias, error) {
	if len(c.Aliases) == 0 {
		return nil, nil
	}
	out := make(map[string]http.Alias, len(c.Aliases))
	for from, to := range c.Aliases {
		if from == "" || from[0] != '/' || to == "" {
			return nil, fmt.Errorf("%w: alias %q -> %q", ErrInvalid, from, to)
		}
		if code, err := strconv.Atoi(to); err == nil {
			if code < 100 || code > 599 {
				return nil, fmt.Errorf("%w: alias %q status %d", ErrInvalid, from, code)
			}
			out[from] = http.Alias{Status: code}
			continue
		}
		out[from] = http.Alias{Target: to}
	}
	return out, nil
}

// Value returns a raw setting, including keys that have no Config field.
func (c *Config) Value(key string) (any, bool) {
	return c.source.Get(key)
}

// Source is the manager the configuration was loaded through. Applications
// read their own settings from it, e.g. Source().GetString("app.greeting").
func (c *Config) Source() *Manager {
	return c.source
}

// Options converts the configuration into engine options.
func (c *Config) Options() core.Options {
	opts := core.DefaultOptions()
	opts.Host = c.Host
	opts.Port = c.Port
	opts.ServerName = c.ServerName
	opts.MaxConnections = c.MaxConnections
	opts.WorkerThreads = c.WorkerThreads
	opts.Poller = c.Poller
	opts.MaxReadIdle = c.MaxReadIdle
	opts.MaxRequestTime = c.MaxRequestTime
	opts.StatsInterval = c.StatsInterval
	opts.PublicHTML = c.PublicHTML
	opts.MimeTypes = c.MimeTypes
	opts.DefaultMIME = c.DefaultMimeType
	opts.Debug = c.Debug
	opts.GC = pools.GCConfig{GOGC: c.GCPercent, MemoryLimit: c.MemoryLimit}

	opts.Limits.MaxHeadSize = c.MaxHeadSize
	opts.Limits.MaxPostSize = c.MaxPostSize
	opts.Limits.MaxUploadSize = c.MaxUploadSize
	opts.Limits.DirectoryIndex = c.DirectoryIndex
	opts.Limits.Aliases, _ = c.aliases()

	if c.UseSSL {
		tls := &secure.Options{CertFile: c.CertFile, KeyFile: c.KeyFile}
		for _, f := range []string{c.DH512File, c.DH1024File, c.DH2048File} {
			if f != "" {
				tls.DHFiles = append(tls.DHFiles, f)
			}
		}
		if pw := c.PrivateKeyPassword; pw != "" {
			tls.Password = func() string { return pw }
		}
		opts.TLS = tls
	}
	return opts
}
