package router

import (
	"errors"
	"testing"

	"github.com/searchktools/xg-server/core/http"
)

// tagged returns a handler whose identity can be checked by calling it.
func tagged(name string) http.HandlerFunc {
	err := errors.New(name)
	return func(http.Context) error { return err }
}

func tagOf(h http.HandlerFunc) string {
	if h == nil {
		return ""
	}
	return h(nil).Error()
}

// TestRadixRouterBasic tests basic static routing
func TestRadixRouterBasic(t *testing.T) {
	router := NewRadixRouter()

	router.Add(GET, "/", tagged("root"))
	router.Add(GET, "/hello", tagged("hello"))
	router.Add(GET, "/hello/world", tagged("world"))
	router.Add(GET, "/help", tagged("help"))

	tests := []struct {
		path string
		want string
	}{
		{"/", "root"},
		{"/hello", "hello"},
		{"/hello/world", "world"},
		{"/help", "help"},
		{"/hel", ""},
		{"/hello/", ""},
		{"/notfound", ""},
	}

	for _, frozen := range []bool{false, true} {
		if frozen {
			router.Freeze()
		}
		for _, tt := range tests {
			h, _ := router.Find(GET, tt.path)
			if got := tagOf(h); got != tt.want {
				t.Errorf("frozen=%v path %s: got %q, want %q", frozen, tt.path, got, tt.want)
			}
		}
	}
}

// TestRadixRouterPriority tests route priority (exact > param)
func TestRadixRouterPriority(t *testing.T) {
	router := NewRadixRouter()

	router.Add(GET, "/user/admin", tagged("exact"))
	router.Add(GET, "/user/:id", tagged("param"))
	router.Add(GET, "/user/:id/posts/:post", tagged("post"))
	router.Freeze()

	tests := []struct {
		path   string
		want   string
		params Params
	}{
		{"/user/admin", "exact", nil},
		{"/user/123", "param", Params{{"id", "123"}}},
		// shares a prefix with the static child
		{"/user/adm", "param", Params{{"id", "adm"}}},
		{"/user/administrator", "param", Params{{"id", "administrator"}}},
		{"/user/admin/posts/7", "post", Params{{"id", "admin"}, {"post", "7"}}},
		{"/user/", "", nil},
		{"/user/1/posts", "", nil},
	}

	for _, tt := range tests {
		h, params := router.Find(GET, tt.path)
		if got := tagOf(h); got != tt.want {
			t.Errorf("path %s: got %q, want %q", tt.path, got, tt.want)
			continue
		}
		if len(params) != len(tt.params) {
			t.Errorf("path %s: params %v, want %v", tt.path, params, tt.params)
			continue
		}
		for i := range params {
			if params[i] != tt.params[i] {
				t.Errorf("path %s: params %v, want %v", tt.path, params, tt.params)
			}
		}
	}
}

func TestRadixRouterCatchAll(t *testing.T) {
	router := NewRadixRouter()
	router.Add(GET, "/files/*path", tagged("files"))
	router.Add(GET, "/files/index", tagged("index"))

	h, ps := router.Find(GET, "/files/css/site.css")
	if tagOf(h) != "files" || ps.Get("path") != "css/site.css" {
		t.Errorf("got %q %v", tagOf(h), ps)
	}
	h, _ = router.Find(GET, "/files/index")
	if tagOf(h) != "index" {
		t.Errorf("static sibling: got %q", tagOf(h))
	}
	if h, _ := router.Find(GET, "/files/"); h != nil {
		t.Error("empty catch-all should not match")
	}
}

func TestRadixRouterMethods(t *testing.T) {
	router := NewRadixRouter()
	router.Add(ANY, "/form", tagged("form"))
	router.Add(POST, "/submit", tagged("submit"))
	router.Freeze()

	if router.Routes() != 3 {
		t.Errorf("Routes() = %d, want 3", router.Routes())
	}
	for _, m := range []string{GET, POST} {
		if h, _ := router.Find(m, "/form"); tagOf(h) != "form" {
			t.Errorf("%s /form not routed", m)
		}
	}
	if h, _ := router.Find(GET, "/submit"); h != nil {
		t.Error("GET /submit should not match a POST route")
	}
	if h, _ := router.Find(POST, "/submit"); tagOf(h) != "submit" {
		t.Error("POST /submit not routed")
	}
}

func TestRadixRouterInvalid(t *testing.T) {
	h := tagged("x")
	cases := []struct {
		name   string
		method string
		path   string
	}{
		{"relative", GET, "user"},
		{"unnamed param", GET, "/user/:"},
		{"two wildcards", GET, "/user/:a:b"},
		{"mid segment", GET, "/user:id"},
		{"catch-all not last", GET, "/files/*p/more"},
		{"param conflict", GET, "/user/:name"},
		{"text after param", GET, "/user/:id-x"},
		{"method", "PUT", "/put"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRadixRouter()
			router.Add(GET, "/user/:id", h)
			defer func() {
				if recover() == nil {
					t.Errorf("Add(%s, %s) did not panic", tc.method, tc.path)
				}
			}()
			router.Add(tc.method, tc.path, h)
		})
	}
}

func TestRadixRouterFrozen(t *testing.T) {
	router := NewRadixRouter()
	router.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("Add after Freeze did not panic")
		}
	}()
	router.Add(GET, "/late", tagged("late"))
}

// Benchmarks
func BenchmarkRadixRouterStatic(b *testing.B) {
	router := NewRadixRouter()
	router.Add(GET, "/hello/world", tagged("h"))
	router.Freeze()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.Find(GET, "/hello/world")
	}
}

func BenchmarkRadixRouterParam(b *testing.B) {
	router := NewRadixRouter()
	router.Add(GET, "/user/:id", tagged("h"))
	router.Freeze()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.Find(GET, "/user/123")
	}
}
