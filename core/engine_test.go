//go:build linux

package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/xg-server/core/http"
)

// startEngine runs an engine on an ephemeral loopback port until the test
// ends. setup runs before Run and may register routes or tweak fields.
func startEngine(t *testing.T, opts Options, setup func(e *Engine)) *Engine {
	t.Helper()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	if opts.MaxConnections == 0 {
		opts.MaxConnections = 64
	}
	if opts.WorkerThreads == 0 {
		opts.WorkerThreads = 2
	}

	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if setup != nil {
		setup(e)
	}

	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()

	select {
	case <-e.Ready():
	case err := <-errc:
		t.Fatalf("Run: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine not ready")
	}

	t.Cleanup(func() {
		e.Stop()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return e
}

func dial(t *testing.T, e *Engine) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(e.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return conn
}

// roundTrip sends raw and reads one response. The server must close the
// connection after it.
func roundTrip(t *testing.T, e *Engine, raw string) (*nethttp.Response, string) {
	t.Helper()
	return exchange(t, dial(t, e), raw)
}

// exchange is roundTrip over an established connection.
func exchange(t *testing.T, conn net.Conn, raw string) (*nethttp.Response, string) {
	t.Helper()
	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	br := bufio.NewReader(conn)
	resp, err := nethttp.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if n, err := br.Read(make([]byte, 1)); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("connection still open after response: n=%d err=%v", n, err)
	}
	return resp, string(body)
}

func get(path string, headers ...string) string {
	var b strings.Builder
	b.WriteString("GET " + path + " HTTP/1.1\r\nHost: test\r\n")
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

func TestEngineRoutes(t *testing.T) {
	e := startEngine(t, Options{}, func(e *Engine) {
		e.GET("/index", func(ctx http.Context) error {
			ctx.String(http.StatusOK, "hello")
			return nil
		})
		e.GET("/user/:id", func(ctx http.Context) error {
			ctx.String(http.StatusOK, "user "+ctx.Param("id"))
			return nil
		})
		e.GET("/fail", func(ctx http.Context) error {
			return errors.New("boom")
		})
		e.GET("/panic", func(ctx http.Context) error {
			panic("handler bug")
		})
	})

	resp, body := roundTrip(t, e, get("/index"))
	if resp.StatusCode != 200 || body != "hello" {
		t.Fatalf("GET /index: %d %q", resp.StatusCode, body)
	}
	// ReadResponse folds the Connection header into resp.Close.
	if !resp.Close {
		t.Error("response does not announce Connection: close")
	}
	if resp.Header.Get("Pragma") != "no-cache" || !strings.HasPrefix(resp.Header.Get("Cache-Control"), "no-store") {
		t.Errorf("no-cache headers missing: %v", resp.Header)
	}
	if resp.Header.Get("Server") != "xg-server" || resp.Header.Get("Date") == "" {
		t.Errorf("server headers: %v", resp.Header)
	}

	if _, body := roundTrip(t, e, get("/user/42")); body != "user 42" {
		t.Errorf("param route body %q", body)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/missing", 404},
		{"/fail", 500},
		{"/panic", 500},
	}
	for _, tt := range tests {
		if resp, _ := roundTrip(t, e, get(tt.path)); resp.StatusCode != tt.want {
			t.Errorf("GET %s: status %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}

	if s := e.Stats(); s.Accepted < 5 || s.Completed < 5 {
		t.Errorf("stats: %+v", s)
	}
}

func TestEngineAjaxEnvelope(t *testing.T) {
	e := startEngine(t, Options{}, func(e *Engine) {
		e.ANY("/data", func(ctx http.Context) error {
			a := ctx.Ajax()
			a.Status = http.AjaxSuccess
			a.SetData("answer", 42)
			return nil
		})
	})

	resp, body := roundTrip(t, e, get("/data?ajax=1&ruid=r1"))
	if resp.StatusCode != 200 || !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Cache-Control"), "pre-check=0") {
		t.Errorf("AJAX cache control %q", resp.Header.Get("Cache-Control"))
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("envelope %q: %v", body, err)
	}
	if doc["status"] != "success" || doc["ruid"] != "r1" || doc["document"] != "/data" {
		t.Errorf("envelope %v", doc)
	}

	// Unrouted AJAX requests are not served from disk.
	if resp, _ := roundTrip(t, e, get("/nothing?ajax=1")); resp.StatusCode != 400 {
		t.Errorf("unrouted AJAX status %d, want 400", resp.StatusCode)
	}
}

func TestEnginePostTooLarge(t *testing.T) {
	var called atomic.Int32
	lim := http.DefaultLimits()
	lim.MaxPostSize = 16

	e := startEngine(t, Options{Limits: lim}, func(e *Engine) {
		e.POST("/submit", func(ctx http.Context) error {
			called.Add(1)
			return nil
		})
	})

	raw := "POST /submit HTTP/1.1\r\nHost: test\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\nContent-Length: 1000\r\n\r\n"
	if resp, _ := roundTrip(t, e, raw); resp.StatusCode != 413 {
		t.Errorf("status %d, want 413", resp.StatusCode)
	}

	body := "a=1&b=two"
	raw = "POST /submit HTTP/1.1\r\nHost: test\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	if resp, _ := roundTrip(t, e, raw); resp.StatusCode != 200 {
		t.Errorf("small POST status %d", resp.StatusCode)
	}
	if called.Load() != 1 {
		t.Errorf("handler called %d times, want 1", called.Load())
	}
}

func TestEngineStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "digits.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := startEngine(t, Options{PublicHTML: dir}, nil)

	resp, body := roundTrip(t, e, get("/digits.txt"))
	if resp.StatusCode != 200 || body != "0123456789" {
		t.Fatalf("whole file: %d %q", resp.StatusCode, body)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" || resp.Header.Get("Accept-Ranges") != "bytes" {
		t.Errorf("headers %v", resp.Header)
	}

	resp, body = roundTrip(t, e, get("/digits.txt", "Range: bytes=2-4"))
	if resp.StatusCode != 206 || body != "234" || resp.Header.Get("Content-Range") != "bytes 2-4/10" {
		t.Errorf("single range: %d %q %q", resp.StatusCode, body, resp.Header.Get("Content-Range"))
	}

	// Overlapping ranges asking for more than the file degrade to 200.
	resp, body = roundTrip(t, e, get("/digits.txt", "Range: bytes=0-5,3-9"))
	if resp.StatusCode != 200 || body != "0123456789" {
		t.Errorf("degraded range: %d %q", resp.StatusCode, body)
	}

	resp, body = roundTrip(t, e, get("/digits.txt", "Range: bytes=0-1,4-5"))
	if resp.StatusCode != 206 || !strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/byteranges") ||
		!strings.Contains(body, "Content-Range: bytes 4-5/10") {
		t.Errorf("multi range: %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	tests := []struct {
		name    string
		path    string
		headers []string
		want    int
	}{
		{"not modified", "/digits.txt", []string{"If-None-Match: " + etag}, 304},
		{"unsatisfiable", "/digits.txt", []string{"Range: bytes=20-30"}, 416},
		{"missing", "/nope.txt", nil, 404},
		{"dot segment", "/../digits.txt", nil, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp, _ := roundTrip(t, e, get(tt.path, tt.headers...)); resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestEngineSilentClientClosed(t *testing.T) {
	e := startEngine(t, Options{}, func(e *Engine) {
		e.acceptTimeout = 100 * time.Millisecond
	})

	conn := dial(t, e)
	n, err := conn.Read(make([]byte, 1))
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("silent client: n=%d err=%v, want EOF", n, err)
	}
}

func TestEngineReadIdleTimeout(t *testing.T) {
	e := startEngine(t, Options{MaxReadIdle: 200 * time.Millisecond}, nil)

	conn := dial(t, e)
	io.WriteString(conn, "GET /slow HTTP/1.1\r\n")

	resp, err := nethttp.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 408 {
		t.Errorf("status %d, want 408", resp.StatusCode)
	}
	if e.Stats().Timeouts == 0 {
		t.Error("timeout not counted")
	}
}

func TestEngineRejectsWhenFull(t *testing.T) {
	e := startEngine(t, Options{MaxConnections: 1}, nil)

	dial(t, e)
	deadline := time.Now().Add(5 * time.Second)
	for e.Stats().Active != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first connection never accepted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := dial(t, e)
	if n, err := second.Read(make([]byte, 1)); n != 0 || err == nil {
		t.Errorf("second connection served: n=%d err=%v", n, err)
	}
	if e.Stats().Rejected == 0 {
		t.Error("rejection not counted")
	}
}

func TestEngineAcceptPause(t *testing.T) {
	e, err := NewEngine(Options{Host: "127.0.0.1", MaxConnections: 4, WorkerThreads: 1})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		e.workers.Close(time.Second)
		e.teardown()
	})

	e.pauseAccept(unix.EMFILE)
	if !e.acceptPaused {
		t.Fatal("listener not paused")
	}

	conn := dial(t, e)
	defer conn.Close()
	if n, err := e.poller.Wait(200); n != 0 || err != nil {
		t.Errorf("paused listener reported %d events (err %v)", n, err)
	}

	e.resumeAccept()
	if e.acceptPaused {
		t.Fatal("listener still paused")
	}
	n, err := e.poller.Wait(2000)
	if n < 1 || err != nil {
		t.Fatalf("resumed listener: %d events (err %v)", n, err)
	}
	seen := false
	for fd := range e.poller.Ready() {
		seen = seen || fd == e.lfd
	}
	if !seen {
		t.Error("pending connection not reported after resume")
	}
}

func TestEngineLifecycle(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Hook {
		return func(*Engine) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	e, err := NewEngine(Options{Host: "127.0.0.1", MaxConnections: 8, WorkerThreads: 1})
	if err != nil {
		t.Fatal(err)
	}
	e.OnInit(record("init"))
	e.OnStart(record("start"))
	e.OnStop(record("stop"))

	ticked := make(chan struct{}, 1)
	e.Every("tick", time.Second, func(context.Context) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	<-e.Ready()

	if err := e.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run: %v", err)
	}

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Error("periodic job never ran")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-e.Done()

	mu.Lock()
	got := strings.Join(order, ",")
	mu.Unlock()
	if got != "init,start,stop" {
		t.Errorf("hooks ran as %s", got)
	}

	if err := e.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Run after stop: %v", err)
	}
}

func TestNewEngineBadOptions(t *testing.T) {
	if _, err := NewEngine(Options{Port: 70000}); !errors.Is(err, ErrBadOptions) {
		t.Errorf("port 70000: %v", err)
	}
	if _, err := NewEngine(Options{PublicHTML: "/does/not/exist/xg"}); err == nil {
		t.Error("missing public root accepted")
	}
}
