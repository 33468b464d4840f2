package http

import (
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// AjaxStatus is the outcome reported to the client script.
type AjaxStatus uint8

const (
	AjaxNone AjaxStatus = iota
	AjaxSuccess
	AjaxError
	AjaxRelogin
)

func (s AjaxStatus) String() string {
	switch s {
	case AjaxSuccess:
		return "success"
	case AjaxError:
		return "error"
	case AjaxRelogin:
		return "relogin"
	}
	return "none"
}

// Message is a notice shown by the client script. Type is one of
// success|error|warning|info, Display one of none|window|hint.
type Message struct {
	ID      string
	Title   string
	Text    string
	Type    string
	Display string
}

type ajaxContent struct {
	parent, html, mode string
}

type ajaxRequired struct {
	url, call string
}

type ajaxPost struct {
	location string
	data     map[string]any
	callback string
}

// Ajax is the JSON envelope returned to AJAX requests.
type Ajax struct {
	Status   AjaxStatus
	Title    string
	Location string
	Callback string

	document  string
	ruid      string
	action    string
	timestamp time.Time

	data     map[string]any
	stack    map[string]any
	messages []Message
	content  []ajaxContent
	required []ajaxRequired
	post     *ajaxPost
}

// NewAjax starts an envelope for req. The document path, the client's
// request id ("ruid") and the requested action are echoed back.
func NewAjax(req *Request, now time.Time) *Ajax {
	return &Ajax{
		document:  req.Path,
		ruid:      req.Value("ruid", "pg"),
		action:    req.Value("action", "pg"),
		timestamp: now,
	}
}

// Action is the action requested by the client.
func (a *Ajax) Action() string { return a.action }

// SetData stores a result value under key. v must be representable in a
// structpb.Value.
func (a *Ajax) SetData(key string, v any) {
	if a.data == nil {
		a.data = make(map[string]any)
	}
	a.data[key] = v
}

// Push stores application data that is processed regardless of Status.
func (a *Ajax) Push(key string, v any) {
	if a.stack == nil {
		a.stack = make(map[string]any)
	}
	a.stack[key] = v
}

// AddMessage queues a notice for the client.
func (a *Ajax) AddMessage(m Message) {
	a.messages = append(a.messages, m)
}

// AddContent inserts html into the element with id parent. mode is one of
// set|begin|end|before|after.
func (a *Ajax) AddContent(parent, html, mode string) {
	a.content = append(a.content, ajaxContent{parent, html, mode})
}

// AddRequired asks the client to load a script or stylesheet and call call
// once it is loaded.
func (a *Ajax) AddRequired(url, call string) {
	a.required = append(a.required, ajaxRequired{url, call})
}

// ClearRequired drops every queued required file.
func (a *Ajax) ClearRequired() {
	a.required = a.required[:0]
}

// PostTo asks the client to POST data to location and run callback after.
func (a *Ajax) PostTo(location string, data map[string]any, callback string) {
	a.post = &ajaxPost{location, data, callback}
}

// Struct builds the envelope document.
func (a *Ajax) Struct() (*structpb.Struct, error) {
	doc := map[string]any{
		"status":    a.Status.String(),
		"timestamp": a.timestamp.Unix(),
		"document":  a.document,
		"ruid":      a.ruid,
		"action":    a.action,
	}
	if a.Title != "" {
		doc["title"] = a.Title
	}
	if a.Location != "" {
		doc["location"] = a.Location
	}
	if a.Callback != "" {
		doc["callback"] = a.Callback
	}
	if a.data != nil {
		doc["data"] = a.data
	}
	if a.stack != nil {
		doc["stack"] = a.stack
	}
	if len(a.messages) > 0 {
		list := make([]any, 0, len(a.messages))
		for _, m := range a.messages {
			list = append(list, map[string]any{
				"id":      m.ID,
				"title":   m.Title,
				"text":    m.Text,
				"type":    m.Type,
				"display": m.Display,
			})
		}
		doc["messages"] = list
	}
	if len(a.content) > 0 {
		list := make([]any, 0, len(a.content))
		for _, c := range a.content {
			list = append(list, map[string]any{"parent": c.parent, "content": c.html, "append": c.mode})
		}
		doc["content"] = list
	}
	if len(a.required) > 0 {
		list := make([]any, 0, len(a.required))
		for _, r := range a.required {
			list = append(list, map[string]any{"url": r.url, "call": r.call})
		}
		doc["required"] = list
	}
	if a.post != nil {
		doc["post"] = map[string]any{
			"location": a.post.location,
			"data":     orEmpty(a.post.data),
			"callback": a.post.callback,
		}
	}
	return structpb.NewStruct(doc)
}

// Marshal renders the envelope as JSON.
func (a *Ajax) Marshal() ([]byte, error) {
	doc, err := a.Struct()
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(doc)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
