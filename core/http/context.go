package http

import (
	"encoding/json"
	"sync"
	"time"
)

// HandlerFunc handles a routed request. A returned error turns the reply
// into a 500 error page.
type HandlerFunc func(ctx Context) error

// Context defines the HTTP request context interface
type Context interface {
	// Request information
	Method() string
	Path() string
	Param(key string) string
	SetParam(key, value string)
	Query(key string) string
	PostValue(key string) string
	Value(name, order string) string
	Cookie(name string) string
	File(name string) *File
	Header(key string) string
	Body() []byte
	RemoteAddr() string
	IsAJAX() bool
	ConnID() uint64

	Request() *Request
	Response() *Response
	Ajax() *Ajax

	// Response methods
	String(code int, s string)
	HTML(code int, s string)
	JSON(code int, v any) error
	Data(code int, contentType string, data []byte)
	Redirect(location string, temporary bool)
	SetHeader(key, value string)
	SetCookie(c *Cookie)
	Error(code int)

	// Binding
	Bind(v any) error
}

// StandardContext is the standard context implementation
type StandardContext struct {
	paramKeys   [4]string
	paramValues [4]string
	paramCount  int

	// Map overflow for more than 4 parameters
	paramMapOverflow map[string]string

	request  *Request
	response *Response
	ajax     *Ajax
	remote   string
	connID   uint64
	now      time.Time
}

var contextPool = sync.Pool{
	New: func() any {
		return &StandardContext{}
	},
}

// AcquireContext binds a pooled context to one request/response pair.
func AcquireContext(req *Request, resp *Response, remote string, connID uint64, now time.Time) *StandardContext {
	ctx := contextPool.Get().(*StandardContext)
	ctx.request = req
	ctx.response = resp
	ctx.remote = remote
	ctx.connID = connID
	ctx.now = now
	return ctx
}

// ReleaseContext returns ctx to the pool. The request and response are not
// touched; they belong to the connection.
func ReleaseContext(ctx *StandardContext) {
	ctx.request = nil
	ctx.response = nil
	ctx.ajax = nil
	ctx.remote = ""
	ctx.paramCount = 0
	for k := range ctx.paramMapOverflow {
		delete(ctx.paramMapOverflow, k)
	}
	contextPool.Put(ctx)
}

// SetParam sets a path parameter (zero-allocation optimized)
func (c *StandardContext) SetParam(key, value string) {
	if c.paramCount < 4 {
		c.paramKeys[c.paramCount] = key
		c.paramValues[c.paramCount] = value
		c.paramCount++
		return
	}
	if c.paramMapOverflow == nil {
		c.paramMapOverflow = make(map[string]string)
	}
	c.paramMapOverflow[key] = value
}

// Param gets a path parameter
func (c *StandardContext) Param(key string) string {
	for i := 0; i < c.paramCount; i++ {
		if c.paramKeys[i] == key {
			return c.paramValues[i]
		}
	}
	return c.paramMapOverflow[key]
}

func (c *StandardContext) Method() string           { return c.request.Method.String() }
func (c *StandardContext) Path() string             { return c.request.Path }
func (c *StandardContext) Header(key string) string { return c.request.Header(key) }
func (c *StandardContext) Body() []byte             { return c.request.Body() }
func (c *StandardContext) RemoteAddr() string       { return c.remote }
func (c *StandardContext) IsAJAX() bool             { return c.request.AJAX }
func (c *StandardContext) ConnID() uint64           { return c.connID }
func (c *StandardContext) Request() *Request        { return c.request }
func (c *StandardContext) Response() *Response      { return c.response }

// Query gets a query parameter
func (c *StandardContext) Query(key string) string {
	return c.request.Value(key, "g")
}

// PostValue gets a POST form field
func (c *StandardContext) PostValue(key string) string {
	return c.request.Value(key, "p")
}

// Value searches query, form and cookies in the given order ("gpc" when
// empty).
func (c *StandardContext) Value(name, order string) string {
	return c.request.Value(name, order)
}

// Cookie gets a request cookie
func (c *StandardContext) Cookie(name string) string {
	return c.request.Cookies[name]
}

// File gets an uploaded file
func (c *StandardContext) File(name string) *File {
	return c.request.File(name)
}

// Ajax returns the envelope sent back to AJAX requests, creating it on
// first use.
func (c *StandardContext) Ajax() *Ajax {
	if c.ajax == nil {
		c.ajax = NewAjax(c.request, c.now)
	}
	return c.ajax
}

// AjaxUsed reports whether the handler touched the envelope.
func (c *StandardContext) AjaxUsed() bool {
	return c.ajax != nil
}

// Bind binds the JSON body to a struct
func (c *StandardContext) Bind(v any) error {
	return json.Unmarshal(c.request.Body(), v)
}

// String sends a text response
func (c *StandardContext) String(code int, s string) {
	c.Data(code, "text/plain; charset=UTF-8", nil)
	c.response.WriteString(s)
}

// HTML sends an HTML response
func (c *StandardContext) HTML(code int, s string) {
	c.Data(code, DefaultContentType, nil)
	c.response.WriteString(s)
}

// JSON sends a JSON response
func (c *StandardContext) JSON(code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Data(code, "application/json; charset=UTF-8", data)
	return nil
}

// Data sends raw data with the given content type
func (c *StandardContext) Data(code int, contentType string, data []byte) {
	c.response.Status = code
	c.response.SetHeader("Content-Type", contentType)
	c.response.Write(data)
}

// Redirect answers with a 301 or 302
func (c *StandardContext) Redirect(location string, temporary bool) {
	c.response.Redirect(location, temporary)
}

// SetHeader sets a response header
func (c *StandardContext) SetHeader(key, value string) {
	c.response.SetHeader(key, value)
}

// SetCookie sets a response cookie
func (c *StandardContext) SetCookie(cookie *Cookie) {
	c.response.SetCookie(cookie)
}

// Error replaces the reply with the error page for code
func (c *StandardContext) Error(code int) {
	c.response.ErrorPage(code, c.request.AJAX)
}
