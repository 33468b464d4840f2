package http

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/xg-server/core/pools"
)

// ErrorPage replaces the response with the error document for status. AJAX
// requests get a JSON body, everyone else HTML; 304 has no body. Cookies are
// kept, as is Location on redirects.
func (r *Response) ErrorPage(status int, ajax bool) {
	location := r.Header("Location")

	r.Status = status
	r.Body.Free()
	clear(r.headers)
	r.headers = r.headers[:0]
	if location != "" && (status == StatusMovedPermanently || status == StatusFound) {
		r.SetHeader("Location", location)
	}
	r.SetHeader("Content-Type", DefaultContentType)

	if status == StatusNotModified {
		return
	}

	var body []byte
	if ajax {
		body = errorJSON(status)
	}
	if body == nil {
		body = errorHTML(status)
	}
	r.Body.AddHeap(body)
}

func errorHTML(status int) []byte {
	text := StatusText(status)
	b := pools.GetBytes(128)
	b = append(b, "<html><head><title>"...)
	b = appendStatusCode(b, status)
	b = append(b, ": "...)
	b = append(b, text...)
	b = append(b, "</title></head><body><h1>"...)
	b = appendStatusCode(b, status)
	b = append(b, ": "...)
	b = append(b, text...)
	return append(b, "</h1></body></html>"...)
}

func errorJSON(status int) []byte {
	doc, err := structpb.NewStruct(map[string]any{
		"status": "error",
		"einfo": map[string]any{
			"type": "http",
			"code": status,
			"desc": StatusText(status),
		},
	})
	if err != nil {
		return nil
	}
	out, err := protojson.Marshal(doc)
	if err != nil {
		return nil
	}
	b := pools.GetBytes(len(out))
	return append(b, out...)
}
