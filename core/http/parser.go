package http

import (
	"bytes"
	"mime"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/searchktools/xg-server/core/pools"
)

const (
	readBufferSize = 4 << 10

	// DefaultMaxPathLen bounds the path part of the request URI.
	DefaultMaxPathLen = 1024
)

// Alias rewrites a request path. A Target beginning with "/" replaces the
// path, any other Target is a permanent redirect, and a non-zero Status
// fails the request with that code.
type Alias struct {
	Target string
	Status int
}

// Limits bound what the parser accepts.
type Limits struct {
	MaxHeadSize    int
	MaxPostSize    int64
	MaxUploadSize  int64
	MaxPathLen     int
	DirectoryIndex string
	Aliases        map[string]Alias
}

// DefaultLimits returns the server defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxHeadSize:    64 << 10,
		MaxPostSize:    1 << 20,
		MaxUploadSize:  512 << 10,
		MaxPathLen:     DefaultMaxPathLen,
		DirectoryIndex: "index.php",
	}
}

// ReadBuf returns the free tail of the read buffer, growing it when full.
// Bytes copied into it are accounted for with Advance.
func (r *Request) ReadBuf() []byte {
	if r.data == nil {
		r.data = pools.GetBytes(readBufferSize)
	}
	if len(r.data) == cap(r.data) {
		r.data = pools.Grow(r.data, 2*cap(r.data))
	}
	return r.data[len(r.data):cap(r.data)]
}

// Feed copies p into the read buffer and parses it. It is the buffered
// counterpart of ReadBuf plus Advance.
func (r *Request) Feed(p []byte, lim *Limits) bool {
	for len(p) > 0 && !r.done {
		buf := r.ReadBuf()
		n := copy(buf, p)
		p = p[n:]
		r.Advance(n, lim)
	}
	return r.done
}

// Advance accounts for n bytes read into the slice returned by ReadBuf and
// parses as far as possible. It reports whether the request is finished;
// Status tells whether it finished with an error.
func (r *Request) Advance(n int, lim *Limits) bool {
	if r.done {
		return true
	}
	r.data = r.data[:len(r.data)+n]

	if !r.inBody {
		if !r.parseHead(lim) {
			return r.done
		}
		if r.done {
			return true
		}
	}
	return r.parseBody()
}

// parseHead consumes complete lines. It returns true once the blank line
// ending the header section was seen.
func (r *Request) parseHead(lim *Limits) bool {
	for {
		rest := r.data[r.lineStart:]
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			if len(r.data) > lim.MaxHeadSize {
				r.Fail(StatusEntityTooLarge)
			}
			return false
		}
		next := r.lineStart + i + 1
		if next > lim.MaxHeadSize {
			r.Fail(StatusEntityTooLarge)
			return false
		}

		line := rest[:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		if len(line) == 0 {
			if r.lineNo == 0 {
				r.Fail(StatusBadRequest)
				return false
			}
			r.inBody = true
			r.bodyStart = next
			r.finishHead(lim)
			return true
		}

		var code int
		if r.lineNo == 0 {
			code = r.parseRequestLine(line, lim)
			if code == 0 {
				code = r.applyAlias(lim)
			}
		} else {
			code = r.parseHeaderLine(line)
		}
		if code != 0 {
			r.Fail(code)
			return false
		}

		r.lineStart = next
		r.lineNo++
	}
}

func (r *Request) parseRequestLine(line []byte, lim *Limits) int {
	var rest []byte
	switch {
	case bytes.HasPrefix(line, []byte("GET ")):
		r.Method = MethodGet
		rest = line[4:]
	case bytes.HasPrefix(line, []byte("POST ")):
		r.Method = MethodPost
		rest = line[5:]
	default:
		return StatusNotImplemented
	}

	if len(rest) == 0 || rest[0] != '/' {
		return StatusBadRequest
	}
	sp := bytes.IndexFunc(rest, isSpace)
	if sp < 0 || rest[sp] != ' ' {
		return StatusBadRequest
	}
	if code := r.parseURI(rest[:sp], lim); code != 0 {
		return code
	}

	proto := rest[sp+1:]
	if !bytes.HasPrefix(proto, []byte("HTTP")) {
		return StatusBadRequest
	}
	switch {
	case bytes.HasPrefix(proto[4:], []byte("/1.0")):
		r.Version = Version10
	case bytes.HasPrefix(proto[4:], []byte("/1.1")):
		r.Version = Version11
	default:
		return StatusVersionNotSupported
	}
	return 0
}

func isSpace(c rune) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	}
	return false
}

// parseURI splits the URI into path, query and fragment.
func (r *Request) parseURI(uri []byte, lim *Limits) int {
	end := bytes.IndexAny(uri, "?#")
	if end < 0 {
		end = len(uri)
	}
	path := uri[:end]

	for i, c := range path {
		if c < 32 || c >= 127 {
			return StatusBadRequest
		}
		if i+1 < len(path) {
			switch string(path[i : i+2]) {
			case "..", "./", "/.", "//":
				return StatusBadRequest
			}
		}
	}
	maxLen := lim.MaxPathLen
	if maxLen <= 0 {
		maxLen = DefaultMaxPathLen
	}
	if len(path) > maxLen {
		return StatusURITooLong
	}

	r.URI = string(uri)
	if path[len(path)-1] == '/' {
		r.Path = string(path) + lim.DirectoryIndex
	} else {
		r.Path = string(path)
	}

	tail := uri[end:]
	if len(tail) > 0 && tail[0] == '?' {
		tail = tail[1:]
		q := tail
		if h := bytes.IndexByte(q, '#'); h >= 0 {
			q = q[:h]
		}
		r.RawQuery = string(q)
		tail = tail[len(q):]
	}
	if len(tail) > 0 && tail[0] == '#' {
		r.Fragment = string(tail[1:])
	}
	return 0
}

func (r *Request) applyAlias(lim *Limits) int {
	a, ok := lim.Aliases[r.Path]
	if !ok {
		return 0
	}
	switch {
	case a.Status != 0:
		return a.Status
	case strings.HasPrefix(a.Target, "/"):
		r.Path = a.Target
	case a.Target != "":
		r.Location = a.Target
		return StatusMovedPermanently
	}
	return 0
}

func (r *Request) parseHeaderLine(line []byte) int {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return StatusBadRequest
	}
	key := string(line[:colon])
	if !httpguts.ValidHeaderFieldName(key) {
		return StatusBadRequest
	}
	value := string(bytes.Trim(line[colon+1:], " \t"))
	if !httpguts.ValidHeaderFieldValue(value) {
		return StatusBadRequest
	}

	if r.Headers == nil {
		r.Headers = make(map[string]string, 8)
	}
	r.Headers[textproto.CanonicalMIMEHeaderKey(key)] = value
	return 0
}

// finishHead turns the raw header map into request fields and enforces the
// method specific rules.
func (r *Request) finishHead(lim *Limits) {
	if code := r.headersToFields(lim); code != 0 {
		r.Fail(code)
		return
	}
	if r.Method != MethodPost {
		r.done = true
		return
	}
	if r.ContentLength > 0 {
		r.data = pools.Grow(r.data, r.bodyStart+int(r.ContentLength)+1)
	}
}

func (r *Request) headersToFields(lim *Limits) int {
	if v, ok := r.Headers["Content-Length"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return StatusBadRequest
		}
		if r.Method != MethodPost && n > 0 {
			return StatusBadRequest
		}
		if n > lim.MaxPostSize {
			return StatusEntityTooLarge
		}
		r.ContentLength = n
	}

	if v, ok := r.Headers["Content-Type"]; ok {
		r.ContentType = v
		media, params, err := mime.ParseMediaType(v)
		switch {
		case err == nil && media == "multipart/form-data":
			if params["boundary"] == "" {
				return StatusBadRequest
			}
			r.PostEncoding = PostMultipart
			r.Boundary = params["boundary"]
		case err == nil && media == "application/x-www-form-urlencoded":
			r.PostEncoding = PostURLEncoded
		case r.Method == MethodPost:
			return StatusBadRequest
		}
	}

	if v, ok := r.Headers["Cookie"]; ok {
		r.Cookies = parseCookies(r.Cookies, v)
	}

	if v, ok := r.Headers["Range"]; ok && strings.HasPrefix(v, "bytes=") {
		ranges, err := ParseRanges(v[len("bytes="):])
		if err != nil {
			return StatusRangeNotSatisfiable
		}
		r.Ranges = ranges
	}

	if v := r.Headers["X-Requested-With"]; len(v) >= 14 && strings.EqualFold(v[:14], "XMLHttpRequest") {
		r.AJAX = true
	}

	if v := r.Headers["Host"]; v != "" {
		r.Host = stripPort(v)
	}
	r.IfNoneMatch = r.Headers["If-None-Match"]
	r.UserAgent = r.Headers["User-Agent"]
	r.Referer = r.Headers["Referer"]

	if r.Host == "" {
		return StatusBadRequest
	}
	if r.Method == MethodPost {
		if r.ContentLength < 0 {
			return StatusLengthRequired
		}
		if r.PostEncoding == PostUndefined {
			return StatusBadRequest
		}
	}
	return 0
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if i := strings.IndexByte(host, ']'); i > 0 {
			return host[:i+1]
		}
		return host
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

func (r *Request) parseBody() bool {
	if r.done {
		return true
	}
	got := int64(len(r.data) - r.bodyStart)
	switch {
	case got == r.ContentLength:
		r.done = true
	case got > r.ContentLength:
		r.Fail(StatusEntityTooLarge)
	}
	return r.done
}
