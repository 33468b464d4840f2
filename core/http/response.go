package http

import (
	"net/textproto"
	"sync"
	"time"

	"github.com/searchktools/xg-server/core/chunk"
	"github.com/searchktools/xg-server/core/pools"
)

const (
	// TimeFormat is the layout of Date, Last-Modified and Expires values.
	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

	// DefaultContentType is sent when a handler sets none.
	DefaultContentType = "text/html; charset=UTF-8"
)

type field struct {
	key   string
	value string
}

// Response collects the status, headers, cookies and body chunks of one
// reply. Build renders the header block; the body streams from Body.
type Response struct {
	Status  int
	Version Version
	Body    *chunk.Queue

	headers []field
	cookies []*Cookie
	head    *[]byte
}

var responsePool = sync.Pool{
	New: func() any {
		return &Response{Status: StatusOK, Body: chunk.NewQueue()}
	},
}

// AcquireResponse returns an empty response from the idle list.
func AcquireResponse() *Response {
	return responsePool.Get().(*Response)
}

// ReleaseResponse frees the body chunks and returns resp to the idle list.
func ReleaseResponse(resp *Response) {
	resp.Reset()
	responsePool.Put(resp)
}

// Reset drops headers, cookies and body so the response can be rebuilt.
func (r *Response) Reset() {
	r.Status = StatusOK
	r.Version = Version11
	r.Body.Free()
	clear(r.headers)
	r.headers = r.headers[:0]
	clear(r.cookies)
	r.cookies = r.cookies[:0]
	if r.head != nil {
		pools.Buffers().Put(r.head)
		r.head = nil
	}
}

// SetHeader sets a header, replacing any value with the same name.
func (r *Response) SetHeader(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for i := range r.headers {
		if r.headers[i].key == key {
			r.headers[i].value = value
			return
		}
	}
	r.headers = append(r.headers, field{key, value})
}

// Header returns a header set on the response.
func (r *Response) Header(key string) string {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for _, f := range r.headers {
		if f.key == key {
			return f.value
		}
	}
	return ""
}

// DelHeader removes a header.
func (r *Response) DelHeader(key string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for i, f := range r.headers {
		if f.key == key {
			r.headers = append(r.headers[:i], r.headers[i+1:]...)
			return
		}
	}
}

// SetCookie adds or replaces a cookie by name.
func (r *Response) SetCookie(c *Cookie) {
	for i, old := range r.cookies {
		if old.Name == c.Name {
			r.cookies[i] = c
			return
		}
	}
	r.cookies = append(r.cookies, c)
}

// Redirect answers with 301, or 302 when temporary, and a Location header.
func (r *Response) Redirect(location string, temporary bool) {
	r.Status = StatusMovedPermanently
	if temporary {
		r.Status = StatusFound
	}
	r.SetHeader("Location", location)
}

// Write copies p into a pooled heap chunk.
func (r *Response) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := pools.GetBytes(len(p))
	buf = append(buf, p...)
	r.Body.AddHeap(buf)
	return len(p), nil
}

// WriteString queues s without copying it.
func (r *Response) WriteString(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	if err := r.Body.AddString(s, 0, 0); err != nil {
		return 0, err
	}
	return len(s), nil
}

// Build renders the status line and headers into the header buffer.
func (r *Response) Build(server string, now time.Time) {
	if r.head == nil {
		r.head = pools.Buffers().Header()
	}
	b := (*r.head)[:0]

	b = append(b, r.Version.String()...)
	b = append(b, ' ')
	b = appendStatusCode(b, r.Status)
	b = append(b, ' ')
	b = append(b, StatusText(r.Status)...)
	b = append(b, "\r\n"...)

	b = appendHeader(b, "Server", orDefault(r.Header("Server"), server))
	if date := r.Header("Date"); date != "" {
		b = appendHeader(b, "Date", date)
	} else {
		b = append(b, "Date: "...)
		b = now.UTC().AppendFormat(b, TimeFormat)
		b = append(b, "\r\n"...)
	}
	b = appendHeader(b, "Content-Type", orDefault(r.Header("Content-Type"), DefaultContentType))
	if cl := r.Header("Content-Length"); cl != "" {
		b = appendHeader(b, "Content-Length", cl)
	} else {
		b = append(b, "Content-Length: "...)
		b = appendInt(b, r.Body.Len())
		b = append(b, "\r\n"...)
	}
	b = appendHeader(b, "Connection", "close")

	for _, f := range r.headers {
		switch f.key {
		case "Server", "Date", "Content-Type", "Content-Length", "Connection":
			continue
		}
		b = appendHeader(b, f.key, f.value)
	}
	for _, c := range r.cookies {
		b = appendSetCookie(b, c)
	}
	b = append(b, "\r\n"...)

	*r.head = b
}

// Head is the header block rendered by the last Build.
func (r *Response) Head() []byte {
	if r.head == nil {
		return nil
	}
	return *r.head
}

// PrependHead puts the header block in front of the body chunks and rewinds
// the queue so the whole response is transmitted from the start.
func (r *Response) PrependHead() error {
	head := r.Head()
	if len(head) == 0 {
		return nil
	}
	c, err := chunk.NewBuffer(head, 0, 0)
	if err != nil {
		return err
	}
	r.Body.AddFirst(c)
	r.Body.Reset()
	return nil
}

func appendHeader(b []byte, key, value string) []byte {
	b = append(b, key...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, "\r\n"...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
