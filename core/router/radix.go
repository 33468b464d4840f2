// Package router maps method and path to request handlers.
package router

import (
	"strings"
	"sync/atomic"

	"github.com/searchktools/xg-server/core/http"
)

// Methods accepted by Add. ANY registers the handler for GET and POST.
const (
	GET  = "GET"
	POST = "POST"
	ANY  = "ANY"
)

// Param is one captured path parameter.
type Param struct {
	Key   string
	Value string
}

// Params holds captured parameters in path order.
type Params []Param

// Get returns the value of the first parameter named key.
func (ps Params) Get(key string) string {
	for _, p := range ps {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// RadixRouter is a Radix tree based router with parameter support.
// Routes are added during setup; after Freeze the tree is read-only and
// lookups may run concurrently.
type RadixRouter struct {
	root   *node
	frozen atomic.Bool
	routes int

	// Paths without wildcards, filled by Freeze: path -> method -> handler
	staticRoutes map[string]map[string]http.HandlerFunc
}

type nodeType uint8

const (
	static   nodeType = iota // default
	param                    // :param
	catchAll                 // *param
)

type node struct {
	path      string
	indices   string
	children  []*node // static children, aligned with indices
	wild      *node   // the :param or *param child
	handlers  map[string]http.HandlerFunc
	nType     nodeType
	paramName string
}

// NewRadixRouter creates a new router
func NewRadixRouter() *RadixRouter {
	return &RadixRouter{root: &node{}}
}

// Add adds a route. Invalid patterns and additions after Freeze panic.
func (r *RadixRouter) Add(method, path string, handler http.HandlerFunc) {
	if r.frozen.Load() {
		panic("router: route added after the server started")
	}
	if path == "" || path[0] != '/' {
		panic("router: path must begin with '/'")
	}
	if handler == nil {
		panic("router: nil handler for " + path)
	}

	switch method {
	case ANY:
		r.root.addRoute(GET, path, handler)
		r.root.addRoute(POST, path, handler)
		r.routes += 2
	case GET, POST:
		r.root.addRoute(method, path, handler)
		r.routes++
	default:
		panic("router: unsupported method " + method)
	}
}

// Freeze makes the table read-only and indexes the static paths.
func (r *RadixRouter) Freeze() {
	if r.frozen.Swap(true) {
		return
	}
	r.staticRoutes = make(map[string]map[string]http.HandlerFunc)
	r.root.collectStatic("", r.staticRoutes)
}

// Routes is the number of method/path pairs registered.
func (r *RadixRouter) Routes() int {
	return r.routes
}

// Find finds a handler for the given method and path
func (r *RadixRouter) Find(method, path string) (http.HandlerFunc, Params) {
	if methods, ok := r.staticRoutes[path]; ok {
		if h := methods[method]; h != nil {
			return h, nil
		}
	}
	var ps Params
	h := r.root.match(method, path, &ps)
	if h == nil {
		return nil, nil
	}
	return h, ps
}

func (n *node) collectStatic(prefix string, out map[string]map[string]http.HandlerFunc) {
	full := prefix + n.path
	if len(n.handlers) > 0 {
		out[full] = n.handlers
	}
	for _, c := range n.children {
		c.collectStatic(full, out)
	}
}

func (n *node) setHandler(method string, handler http.HandlerFunc) {
	if n.handlers == nil {
		n.handlers = make(map[string]http.HandlerFunc, 2)
	}
	n.handlers[method] = handler
}

// split cuts the node's path at i and moves everything below into a child.
func (n *node) split(i int) {
	child := &node{
		path:     n.path[i:],
		indices:  n.indices,
		children: n.children,
		wild:     n.wild,
		handlers: n.handlers,
		nType:    static,
	}
	n.path = n.path[:i]
	n.indices = child.path[:1]
	n.children = []*node{child}
	n.wild = nil
	n.handlers = nil
}

func (n *node) addRoute(method, path string, handler http.HandlerFunc) {
	for {
		if n.nType == static {
			i := longestCommonPrefix(path, n.path)
			if i < len(n.path) {
				n.split(i)
			}
			path = path[i:]
		}

		if path == "" {
			n.setHandler(method, handler)
			return
		}

		if c := path[0]; c == ':' || c == '*' {
			n = n.addWild(path)
			path = path[len(n.path):]
			continue
		}

		if n.nType == param && path[0] != '/' {
			panic("router: a parameter must end its path segment")
		}

		if idx := strings.IndexByte(n.indices, path[0]); idx >= 0 {
			n = n.children[idx]
			continue
		}

		end := strings.IndexAny(path, ":*")
		if end < 0 {
			end = len(path)
		}
		child := &node{path: path[:end]}
		n.indices += path[:1]
		n.children = append(n.children, child)
		n = child
	}
}

// addWild returns the wildcard child for the wildcard at the start of path,
// creating it when absent.
func (n *node) addWild(path string) *node {
	wildcard, valid := findWildcard(path)
	if !valid {
		panic("router: only one wildcard per path segment is allowed")
	}
	if len(wildcard) < 2 {
		panic("router: wildcards must be named")
	}
	if n.nType != static || !strings.HasSuffix(n.path, "/") {
		panic("router: a wildcard must start a path segment")
	}

	nType := param
	if wildcard[0] == '*' {
		nType = catchAll
		if len(wildcard) != len(path) {
			panic("router: catch-all routes are only allowed at the end of the path")
		}
	}

	if n.wild != nil {
		if n.wild.path != wildcard {
			panic("router: wildcard " + wildcard + " conflicts with " + n.wild.path)
		}
		return n.wild
	}
	n.wild = &node{
		path:      wildcard,
		nType:     nType,
		paramName: wildcard[1:],
	}
	return n.wild
}

// match walks the tree, preferring static children and falling back to the
// wildcard child when the static branch has no handler.
func (n *node) match(method, path string, ps *Params) http.HandlerFunc {
	switch n.nType {
	case param:
		end := strings.IndexByte(path, '/')
		if end < 0 {
			end = len(path)
		}
		if end == 0 {
			return nil
		}
		*ps = append(*ps, Param{Key: n.paramName, Value: path[:end]})
		if h := n.next(method, path[end:], ps); h != nil {
			return h
		}
		*ps = (*ps)[:len(*ps)-1]
		return nil

	case catchAll:
		h := n.handlers[method]
		if h == nil || path == "" {
			return nil
		}
		*ps = append(*ps, Param{Key: n.paramName, Value: path})
		return h
	}

	if !strings.HasPrefix(path, n.path) {
		return nil
	}
	return n.next(method, path[len(n.path):], ps)
}

func (n *node) next(method, path string, ps *Params) http.HandlerFunc {
	if path == "" {
		return n.handlers[method]
	}
	if idx := strings.IndexByte(n.indices, path[0]); idx >= 0 {
		if h := n.children[idx].match(method, path, ps); h != nil {
			return h
		}
	}
	if n.wild != nil {
		return n.wild.match(method, path, ps)
	}
	return nil
}

// findWildcard returns the wildcard at the start of path and whether it is
// well formed.
func findWildcard(path string) (string, bool) {
	for end, c := range []byte(path[1:]) {
		switch c {
		case '/':
			return path[:1+end], true
		case ':', '*':
			return path[:1+end], false
		}
	}
	return path, true
}

func longestCommonPrefix(a, b string) int {
	i, n := 0, min(len(a), len(b))
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
