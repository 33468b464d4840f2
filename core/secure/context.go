// Package secure runs TLS over the server's non-blocking sockets.
//
// The TLS stack never touches the socket. Ciphertext is moved between the
// descriptor and an in-memory transport by the caller, so handshakes and
// record I/O report the same results as plain socket operations.
package secure

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// Error definitions
var (
	ErrNoCertificate  = errors.New("secure: certificate file not configured")
	ErrBadKey         = errors.New("secure: cannot decode private key")
	ErrBadDHParams    = errors.New("secure: invalid DH parameters file")
	ErrBadDescriptor  = errors.New("secure: invalid socket descriptor")
	ErrNotInitialized = errors.New("secure: TLS context not initialized")
)

// Options locate the key material on disk.
type Options struct {
	CertFile string
	KeyFile  string
	DHFiles  []string

	// Password supplies the passphrase of an encrypted private key.
	Password func() string

	MinVersion uint16
}

// Context is the immutable server-wide TLS configuration.
type Context struct {
	config   *tls.Config
	dhParams int
}

// NewContext loads the certificate chain, the private key and the DH
// parameter files.
func NewContext(opts Options) (*Context, error) {
	if opts.CertFile == "" {
		return nil, ErrNoCertificate
	}

	certPEM, err := os.ReadFile(opts.CertFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	keyPEM, err = decryptKey(keyPEM, opts.Password)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	dh := 0
	for _, path := range opts.DHFiles {
		if path == "" {
			continue
		}
		if err := checkDHParams(path); err != nil {
			return nil, err
		}
		dh++
	}

	minVersion := opts.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	ctx := &Context{dhParams: dh}
	ctx.config = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			if c, ok := hello.Conn.(*memConn); ok && c.session != nil {
				c.session.renegotiations.Add(1)
			}
			return nil, nil
		},
	}

	return ctx, nil
}

// decryptKey returns the PEM key with legacy RFC 1423 encryption removed.
func decryptKey(keyPEM []byte, password func() string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, ErrBadKey
	}
	//lint:ignore SA1019 encrypted PEM keys are part of the configuration format
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	if password == nil {
		return nil, fmt.Errorf("%w: key is encrypted and no password is configured", ErrBadKey)
	}
	//lint:ignore SA1019 see above
	der, err := x509.DecryptPEMBlock(block, []byte(password()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

// checkDHParams validates a "DH PARAMETERS" PEM file. crypto/tls only
// negotiates ECDHE, so the parameters are checked but not used.
func checkDHParams(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadDHParams, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "DH PARAMETERS" {
		return fmt.Errorf("%w: %s", ErrBadDHParams, path)
	}
	return nil
}

// Config returns the shared tls.Config.
func (c *Context) Config() *tls.Config {
	return c.config
}

// DHParams is the number of DH parameter files that were validated.
func (c *Context) DHParams() int {
	return c.dhParams
}

var (
	globalMu  sync.Mutex
	globalCtx *Context
)

// Init installs the process-wide TLS context. It must run before any TLS
// session is created; later calls return the installed context.
func Init(opts Options) (*Context, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalCtx != nil {
		return globalCtx, nil
	}
	ctx, err := NewContext(opts)
	if err != nil {
		return nil, err
	}
	globalCtx = ctx
	log.Printf("🔒 TLS context ready (cert %s, %d DH parameter file(s))", opts.CertFile, ctx.dhParams)
	return ctx, nil
}

// Default returns the installed context.
func Default() (*Context, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCtx == nil {
		return nil, ErrNotInitialized
	}
	return globalCtx, nil
}

// Cleanup drops the process-wide context. Sessions already created keep
// working; new ones fail until Init runs again.
func Cleanup() {
	globalMu.Lock()
	globalCtx = nil
	globalMu.Unlock()
}
