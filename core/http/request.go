package http

import (
	"net/textproto"
	"net/url"
	"sync"

	"github.com/searchktools/xg-server/core/pools"
)

// Method is the request method. Only GET and POST are served.
type Method uint8

const (
	MethodUndefined Method = iota
	MethodGet
	MethodPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	}
	return "UNDEFINED"
}

// Version is the protocol version of the request line.
type Version uint8

const (
	Version11 Version = iota
	Version10
)

func (v Version) String() string {
	if v == Version10 {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

// PostEncoding is the body encoding declared by Content-Type.
type PostEncoding uint8

const (
	PostUndefined PostEncoding = iota
	PostURLEncoded
	PostMultipart
)

// File is an uploaded multipart file.
type File struct {
	Filename string
	MIME     string
	Content  []byte
}

// Request is the parsed state of one HTTP request. The parser fills it
// incrementally from the bytes read off the connection.
type Request struct {
	Method   Method
	Version  Version
	URI      string
	Path     string
	RawQuery string
	Fragment string

	Headers map[string]string
	Get     url.Values
	Post    url.Values
	Cookies map[string]string
	Files   map[string]*File
	Ranges  []Range

	Host          string
	IfNoneMatch   string
	UserAgent     string
	Referer       string
	ContentLength int64
	ContentType   string
	PostEncoding  PostEncoding
	Boundary      string
	AJAX          bool

	// Status stays 200 unless parsing, an alias or a timeout failed the
	// request; Location is set when an alias redirects.
	Status   int
	Location string

	data      []byte
	inBody    bool
	done      bool
	lineStart int
	lineNo    int
	bodyStart int
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{Status: StatusOK, ContentLength: -1}
	},
}

// AcquireRequest returns an empty request from the idle list.
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// ReleaseRequest resets req and returns it to the idle list.
func ReleaseRequest(req *Request) {
	req.Reset()
	requestPool.Put(req)
}

// Reset clears the request for reuse and hands the read buffer back.
func (r *Request) Reset() {
	if r.data != nil {
		pools.PutBytes(r.data)
	}
	*r = Request{
		Status:        StatusOK,
		ContentLength: -1,
		Headers:       clearMap(r.Headers),
		Cookies:       clearMap(r.Cookies),
	}
}

func clearMap[V any](m map[string]V) map[string]V {
	for k := range m {
		delete(m, k)
	}
	return m
}

// Header returns a request header by case-insensitive name.
func (r *Request) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[textproto.CanonicalMIMEHeaderKey(key)]
}

// Value looks name up in the query ('g'), the POST form ('p') and the
// cookies ('c') in the order given. An empty order means "gpc".
func (r *Request) Value(name, order string) string {
	if order == "" {
		order = "gpc"
	}
	for i := 0; i < len(order); i++ {
		switch order[i] {
		case 'g', 'G':
			if v, ok := r.Get[name]; ok && len(v) > 0 {
				return v[0]
			}
		case 'p', 'P':
			if v, ok := r.Post[name]; ok && len(v) > 0 {
				return v[0]
			}
		case 'c', 'C':
			if v, ok := r.Cookies[name]; ok {
				return v
			}
		}
	}
	return ""
}

// File returns an uploaded file by form field name.
func (r *Request) File(name string) *File {
	if r.Method != MethodPost || r.PostEncoding != PostMultipart {
		return nil
	}
	return r.Files[name]
}

// Body is the request body received so far. It aliases the read buffer.
func (r *Request) Body() []byte {
	if !r.inBody || r.bodyStart > len(r.data) {
		return nil
	}
	return r.data[r.bodyStart:]
}

// Buffered is the number of raw bytes received for this request.
func (r *Request) Buffered() int {
	return len(r.data)
}

// Done reports whether the request is complete or failed.
func (r *Request) Done() bool {
	return r.done
}

// Fail marks the request as finished with an error status.
func (r *Request) Fail(status int) {
	r.Status = status
	r.done = true
}
