//go:build linux

// Package static maps request paths to files under the public root and
// turns them into full, ranged or multi-range responses.
package static

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrNotFound    = errors.New("static: file not found")
	ErrOutsideRoot = errors.New("static: path escapes the public root")
)

// DefaultMIME is used when neither the configured map nor the built-in
// table knows an extension.
const DefaultMIME = "application/octet-stream"

// File is an opened static file. The response that serves it owns F.
type File struct {
	F       *os.File
	Name    string
	Ext     string
	MIME    string
	Size    int64
	ModTime time.Time
	ETag    string
}

// Close closes the underlying file.
func (f *File) Close() error {
	if f.F == nil {
		return nil
	}
	err := f.F.Close()
	f.F = nil
	return err
}

// Resolver locates files under a public root.
type Resolver struct {
	root        string
	mimeTypes   map[string]string
	defaultMIME string
}

// NewResolver creates a resolver for root. mimeTypes maps extensions
// without the dot to content types and takes precedence over the built-in
// table.
func NewResolver(root string, mimeTypes map[string]string, defaultMIME string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("static root %q: %w", root, err)
	}
	if st, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("static root: %w", err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("static root %q is not a directory", abs)
	}
	if defaultMIME == "" {
		defaultMIME = DefaultMIME
	}
	return &Resolver{root: abs, mimeTypes: mimeTypes, defaultMIME: defaultMIME}, nil
}

// Root is the absolute public root.
func (r *Resolver) Root() string {
	return r.root
}

// Open resolves a request path and opens the regular file behind it.
func (r *Resolver) Open(path string) (*File, error) {
	local := filepath.Join(r.root, filepath.FromSlash(path))
	if local != r.root && !strings.HasPrefix(local, r.root+string(filepath.Separator)) {
		return nil, ErrOutsideRoot
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, ErrNotFound
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFREG {
		f.Close()
		return nil, ErrNotFound
	}

	name := filepath.Base(local)
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return &File{
		F:       f,
		Name:    name,
		Ext:     ext,
		MIME:    r.mimeType(ext),
		Size:    st.Size,
		ModTime: time.Unix(st.Mtim.Unix()),
		ETag:    ETag(st.Ino, st.Size, st.Mtim.Sec),
	}, nil
}

func (r *Resolver) mimeType(ext string) string {
	if ext == "" {
		return r.defaultMIME
	}
	if t, ok := r.mimeTypes[ext]; ok {
		return t
	}
	if t, ok := builtinTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return r.defaultMIME
}

// ETag derives a validator from the inode, size and modification time.
func ETag(ino uint64, size, mtime int64) string {
	return fmt.Sprintf(`"%08x-%08x-%08x"`, uint32(ino), uint32(size), uint32(mtime))
}

var builtinTypes = map[string]string{
	"html": "text/html; charset=utf-8",
	"htm":  "text/html; charset=utf-8",
	"css":  "text/css; charset=utf-8",
	"js":   "application/javascript; charset=utf-8",
	"json": "application/json; charset=utf-8",
	"xml":  "application/xml; charset=utf-8",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"ico":  "image/x-icon",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"txt":  "text/plain; charset=utf-8",
}
