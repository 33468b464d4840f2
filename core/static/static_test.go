//go:build linux

package static

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/socket"
)

func newRoot(t *testing.T) *Resolver {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "css"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"index.html":   "0123456789",
		"css/site.css": "body{}",
		"data.bin":     "x",
		"README":       "plain",
		"empty.txt":    "",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	r, err := NewResolver(dir, map[string]string{"bin": "application/x-custom"}, "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	var sb strings.Builder
	for {
		win, res, err := resp.Body.Read()
		if res == socket.EOF {
			return sb.String()
		}
		if res != socket.OK {
			t.Fatalf("read: %v %v", res, err)
		}
		sb.Write(win)
		resp.Body.Commit(len(win))
	}
}

func TestOpen(t *testing.T) {
	r := newRoot(t)

	tests := []struct {
		path, mime string
	}{
		{"/index.html", "text/html; charset=utf-8"},
		{"/css/site.css", "text/css; charset=utf-8"},
		{"/data.bin", "application/x-custom"},
		{"/README", "text/plain"},
	}
	for _, tt := range tests {
		f, err := r.Open(tt.path)
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if f.MIME != tt.mime {
			t.Errorf("%s: mime %q, want %q", tt.path, f.MIME, tt.mime)
		}
		if !strings.HasPrefix(f.ETag, `"`) || len(f.ETag) != 28 {
			t.Errorf("%s: etag %q", tt.path, f.ETag)
		}
		f.Close()
	}

	if _, err := r.Open("/missing.html"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: %v", err)
	}
	if _, err := r.Open("/css"); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory: %v", err)
	}
	if _, err := r.Open("/../../etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("escape: %v", err)
	}
}

func TestETagStable(t *testing.T) {
	r := newRoot(t)
	a, _ := r.Open("/index.html")
	defer a.Close()
	b, _ := r.Open("/index.html")
	defer b.Close()
	if a.ETag != b.ETag {
		t.Fatalf("etag changed: %s %s", a.ETag, b.ETag)
	}
	if ETag(1, 2, 3) != `"00000001-00000002-00000003"` {
		t.Fatal(ETag(1, 2, 3))
	}
}

func respond(t *testing.T, r *Resolver, path, rangeSpec string) (*http.Response, error) {
	t.Helper()
	f, err := r.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	var ranges []http.Range
	if rangeSpec != "" {
		if ranges, err = http.ParseRanges(rangeSpec); err != nil {
			t.Fatal(err)
		}
	}
	resp := http.AcquireResponse()
	t.Cleanup(func() { http.ReleaseResponse(resp) })
	return resp, Respond(resp, f, ranges)
}

func TestRespondWhole(t *testing.T) {
	r := newRoot(t)
	resp, err := respond(t, r, "/index.html", "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 || resp.Header("ETag") == "" || resp.Header("Content-Length") != "10" {
		t.Errorf("status=%d etag=%q len=%q", resp.Status, resp.Header("ETag"), resp.Header("Content-Length"))
	}
	if resp.Header("Accept-Ranges") != "bytes" || resp.Header("Last-Modified") == "" {
		t.Error("missing Accept-Ranges or Last-Modified")
	}
	if got := body(t, resp); got != "0123456789" {
		t.Errorf("body = %q", got)
	}
}

func TestRespondEmpty(t *testing.T) {
	r := newRoot(t)
	resp, err := respond(t, r, "/empty.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 || resp.Header("Content-Length") != "0" {
		t.Errorf("status=%d len=%q", resp.Status, resp.Header("Content-Length"))
	}
}

func TestRespondSingleRange(t *testing.T) {
	r := newRoot(t)
	resp, err := respond(t, r, "/index.html", "2-4")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 206 || resp.Header("Content-Range") != "bytes 2-4/10" || resp.Header("ETag") != "" {
		t.Errorf("status=%d range=%q", resp.Status, resp.Header("Content-Range"))
	}
	if got := body(t, resp); got != "234" {
		t.Errorf("body = %q", got)
	}
}

func TestRespondMultiRange(t *testing.T) {
	r := newRoot(t)
	resp, err := respond(t, r, "/index.html", "0-1,-2")
	if err != nil {
		t.Fatal(err)
	}
	ct := resp.Header("Content-Type")
	boundary, ok := strings.CutPrefix(ct, "multipart/byteranges; boundary=")
	if resp.Status != 206 || !ok || boundary == "" {
		t.Fatalf("status=%d type=%q", resp.Status, ct)
	}

	want := "\r\n--" + boundary + "\r\nContent-Type: text/html; charset=utf-8\r\nContent-Range: bytes 0-1/10\r\n\r\n01" +
		"\r\n--" + boundary + "\r\nContent-Type: text/html; charset=utf-8\r\nContent-Range: bytes 8-9/10\r\n\r\n89" +
		"\r\n--" + boundary + "--\r\n"
	if got := body(t, resp); got != want {
		t.Errorf("body mismatch:\n%q\nwant\n%q", got, want)
	}
	if resp.Header("Content-Length") != strconv.Itoa(len(want)) {
		t.Errorf("content length %q, want %d", resp.Header("Content-Length"), len(want))
	}
}

func TestRespondRangeDegradesToWhole(t *testing.T) {
	r := newRoot(t)
	resp, err := respond(t, r, "/index.html", "0-7,2-9")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 || resp.Header("Content-Range") != "" {
		t.Errorf("status=%d range=%q", resp.Status, resp.Header("Content-Range"))
	}
	if got := body(t, resp); got != "0123456789" {
		t.Errorf("body = %q", got)
	}
}

func TestRespondUnsatisfiable(t *testing.T) {
	r := newRoot(t)
	f, _ := r.Open("/index.html")
	resp := http.AcquireResponse()
	defer http.ReleaseResponse(resp)

	err := Respond(resp, f, []http.Range{{Start: 20, Length: -1}})
	if !errors.Is(err, http.ErrRangeNotSatisfiable) {
		t.Fatalf("err = %v", err)
	}
	if f.F != nil {
		t.Error("file left open after a failed response")
	}
}
