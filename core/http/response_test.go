package http

import (
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/xg-server/core/socket"
)

// drain reads every window of the body queue without a socket.
func drain(t *testing.T, resp *Response) string {
	t.Helper()
	var sb strings.Builder
	for {
		win, res, err := resp.Body.Read()
		if res == socket.EOF {
			return sb.String()
		}
		if res != socket.OK {
			t.Fatalf("queue read: %v %v", res, err)
		}
		sb.Write(win)
		resp.Body.Commit(len(win))
	}
}

func TestResponseBuild(t *testing.T) {
	resp := AcquireResponse()
	defer ReleaseResponse(resp)

	resp.SetHeader("x-trace", "1")
	resp.SetHeader("X-Trace", "2")
	resp.SetCookie(&Cookie{Name: "sid", Value: "a b", Path: "/", HTTPOnly: true})
	resp.SetCookie(&Cookie{Name: "lang", Value: "en", Expires: time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), Secure: true, Domain: "example.com"})
	resp.WriteString("hello ")
	resp.Write([]byte("world"))

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	resp.Build("XGServer/test", now)
	head := string(resp.Head())

	want := "HTTP/1.1 200 OK\r\n" +
		"Server: XGServer/test\r\n" +
		"Date: Mon, 19 Oct 2026 12:00:00 GMT\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"Content-Length: 11\r\n" +
		"Connection: close\r\n" +
		"X-Trace: 2\r\n" +
		"Set-Cookie: sid=a+b; Path=/; HttpOnly\r\n" +
		"Set-Cookie: lang=en; Expires=Wed, 02 Jan 2030 03:04:05 GMT; Domain=example.com; Secure\r\n" +
		"\r\n"
	if head != want {
		t.Fatalf("head mismatch:\n%s\nwant:\n%s", head, want)
	}

	if err := resp.PrependHead(); err != nil {
		t.Fatalf("PrependHead: %v", err)
	}
	if got := drain(t, resp); got != want+"hello world" {
		t.Fatalf("stream = %q", got)
	}
}

func TestResponseVersionAndRedirect(t *testing.T) {
	resp := AcquireResponse()
	defer ReleaseResponse(resp)

	resp.Version = Version10
	resp.Redirect("/login", true)
	resp.Build("s", time.Unix(0, 0))
	head := string(resp.Head())
	if !strings.HasPrefix(head, "HTTP/1.0 302 Moved Temporarily\r\n") {
		t.Errorf("status line: %q", head)
	}
	if !strings.Contains(head, "Location: /login\r\n") {
		t.Errorf("no Location: %q", head)
	}

	resp.DelHeader("location")
	if resp.Header("Location") != "" {
		t.Error("DelHeader kept Location")
	}
}

func TestErrorPageHTML(t *testing.T) {
	resp := AcquireResponse()
	defer ReleaseResponse(resp)

	resp.SetHeader("X-Drop", "1")
	resp.WriteString("partial")
	resp.ErrorPage(StatusNotFound, false)

	want := "<html><head><title>404: Not Found</title></head><body><h1>404: Not Found</h1></body></html>"
	if got := drain(t, resp); got != want {
		t.Fatalf("body = %q", got)
	}
	if resp.Header("X-Drop") != "" {
		t.Error("custom header survived the error page")
	}
	if resp.Header("Content-Type") != DefaultContentType {
		t.Errorf("content type = %q", resp.Header("Content-Type"))
	}
}

func TestErrorPageKeepsLocation(t *testing.T) {
	resp := AcquireResponse()
	defer ReleaseResponse(resp)

	resp.SetHeader("Location", "https://example.com/")
	resp.ErrorPage(StatusMovedPermanently, false)
	if resp.Header("Location") != "https://example.com/" {
		t.Error("301 lost its Location")
	}

	resp.SetHeader("Location", "/x")
	resp.ErrorPage(StatusBadRequest, false)
	if resp.Header("Location") != "" {
		t.Error("400 kept a Location")
	}
}

func TestErrorPageNotModified(t *testing.T) {
	resp := AcquireResponse()
	defer ReleaseResponse(resp)

	resp.ErrorPage(StatusNotModified, false)
	if resp.Body.Len() != 0 {
		t.Fatalf("304 has a %d byte body", resp.Body.Len())
	}
	resp.Build("s", time.Now())
	if !strings.Contains(string(resp.Head()), "Content-Length: 0\r\n") {
		t.Errorf("head: %q", resp.Head())
	}
}

func TestErrorPageAjax(t *testing.T) {
	resp := AcquireResponse()
	defer ReleaseResponse(resp)

	resp.ErrorPage(StatusRequestTimeout, true)
	body := drain(t, resp)

	var doc structpb.Struct
	if err := protojson.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	m := doc.AsMap()
	if m["status"] != "error" {
		t.Errorf("status = %v", m["status"])
	}
	einfo, _ := m["einfo"].(map[string]any)
	if einfo["type"] != "http" || einfo["code"] != float64(408) || einfo["desc"] != "Request Timeout" {
		t.Errorf("einfo = %v", einfo)
	}
}

func TestStatusText(t *testing.T) {
	if StatusText(413) != "Request Entity Too Large" {
		t.Error(StatusText(413))
	}
	if StatusText(799) != "Undefined HTTP error" {
		t.Error(StatusText(799))
	}
	if got := string(appendStatusCode(nil, 799)); got != "000" {
		t.Errorf("unknown code renders %q", got)
	}
}

func TestParseRanges(t *testing.T) {
	tests := []struct {
		in   string
		want []Range
		err  error
	}{
		{"0-499", []Range{{Start: 0, Length: 500}}, nil},
		{"9500-", []Range{{Start: 9500, Length: -1}}, nil},
		{"-500", []Range{{Length: 500, Suffix: true}}, nil},
		{"0-0, -1", []Range{{Start: 0, Length: 1}, {Length: 1, Suffix: true}}, nil},
		{"500-600,601-999", []Range{{Start: 500, Length: 101}, {Start: 601, Length: 399}}, nil},
		{"5-1", nil, ErrMalformedRange},
		{"-0", nil, ErrMalformedRange},
		{"-", nil, ErrMalformedRange},
		{"abc", nil, ErrMalformedRange},
		{"1-2x", nil, ErrMalformedRange},
		{"", nil, ErrMalformedRange},
		{"99999999999999999999-", nil, ErrMalformedRange},
		{strings.Repeat("0-1,", 10) + "0-1", nil, ErrTooManyRanges},
	}
	for _, tt := range tests {
		got, err := ParseRanges(tt.in)
		if err != tt.err {
			t.Errorf("%q: err = %v, want %v", tt.in, err, tt.err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q[%d]: got %+v, want %+v", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestResolveRanges(t *testing.T) {
	const size = 100
	tests := []struct {
		name  string
		in    []Range
		want  []Span
		whole bool
		err   error
	}{
		{"single", []Range{{Start: 10, Length: 10}}, []Span{{10, 10}}, false, nil},
		{"open", []Range{{Start: 90, Length: -1}}, []Span{{90, 10}}, false, nil},
		{"suffix", []Range{{Length: 5, Suffix: true}}, []Span{{95, 5}}, false, nil},
		{"multi", []Range{{Start: 0, Length: 1}, {Length: 1, Suffix: true}}, []Span{{0, 1}, {99, 1}}, false, nil},
		{"overlap degrades", []Range{{Start: 0, Length: 60}, {Start: 40, Length: 60}}, []Span{{0, 100}}, true, nil},
		{"start past end", []Range{{Start: 100, Length: -1}}, nil, false, ErrRangeNotSatisfiable},
		{"end past end", []Range{{Start: 50, Length: 60}}, nil, false, ErrRangeNotSatisfiable},
		{"suffix too long", []Range{{Length: 101, Suffix: true}}, nil, false, ErrRangeNotSatisfiable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, whole, err := ResolveRanges(tt.in, size)
			if err != tt.err || whole != tt.whole {
				t.Fatalf("err=%v whole=%v, want %v %v", err, whole, tt.err, tt.whole)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("spans = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
	if (Span{Start: 10, Length: 10}).End() != 19 {
		t.Error("Span.End")
	}
}
