package middleware

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/searchktools/xg-server/core/http"
)

// Middleware wraps a handler. It may act before and after calling next, or
// answer on its own and skip next.
type Middleware func(next http.HandlerFunc) http.HandlerFunc

// Pipeline is an ordered middleware chain. The first middleware added is
// the outermost one.
type Pipeline struct {
	handlers []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]Middleware, 0, 16),
	}
}

// Use adds a middleware to the pipeline
func (p *Pipeline) Use(m Middleware) *Pipeline {
	p.handlers = append(p.handlers, m)
	return p
}

// Len is the number of middlewares in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.handlers)
}

// Then wraps final with every middleware. Routes are wrapped once when the
// server starts, so the per-request cost is plain function calls.
func (p *Pipeline) Then(final http.HandlerFunc) http.HandlerFunc {
	h := final
	for i := len(p.handlers) - 1; i >= 0; i-- {
		h = p.handlers[i](h)
	}
	return h
}

// Common middleware implementations

// Recovery turns a handler panic into an error, which the server answers
// with a 500 page.
func Recovery() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(ctx http.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️  Panic recovered in %s %s: %v\n%s", ctx.Method(), ctx.Path(), r, debug.Stack())
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx)
		}
	}
}

// Logger logs one line per request with its status and duration.
func Logger() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(ctx http.Context) error {
			start := time.Now()
			err := next(ctx)
			status := ctx.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
			}
			log.Printf("[%s] %s %d %v (conn %d)", ctx.Method(), ctx.Path(), status, time.Since(start), ctx.ConnID())
			return err
		}
	}
}

// RequestID adds a unique request ID
func RequestID() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(ctx http.Context) error {
			ctx.SetHeader("X-Request-ID", uuid.NewString())
			return next(ctx)
		}
	}
}

// RateLimiter allows requestsPerSecond handler calls per second and answers
// the rest with 503.
func RateLimiter(requestsPerSecond int) Middleware {
	var (
		tokens     = requestsPerSecond
		lastRefill = time.Now()
		mu         sync.Mutex
	)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(ctx http.Context) error {
			mu.Lock()
			now := time.Now()
			if now.Sub(lastRefill) > time.Second {
				tokens = requestsPerSecond
				lastRefill = now
			}
			allowed := tokens > 0
			if allowed {
				tokens--
			}
			mu.Unlock()

			if !allowed {
				ctx.Error(http.StatusServiceUnavailable)
				return nil
			}
			return next(ctx)
		}
	}
}
