/*
Package xgserver is a single-process HTTP/HTTPS server built around one I/O
goroutine and a fixed pool of workers.

The I/O goroutine owns the listener, the event poller and every socket
lifecycle decision. Workers parse requests, run route handlers and stream
responses from a zero-copy chunk queue. Every response closes its
connection.

Features

  - epoll or poll(2) event loop with an eventfd waker
  - HTTP and HTTPS on the same port, detected from the first byte
  - HTTP/1.0 and 1.1 requests with URL-encoded and multipart forms, cookies
    and byte ranges
  - Static files with ETag, Last-Modified and multipart/byteranges
  - Radix tree routing for GET and POST with path parameters
  - JSON envelope for AJAX requests
  - Accept, handshake, read idle and request time limits
  - Middleware pipeline, per-route metrics, lifecycle hooks and periodic jobs

Quick Start

	package main

	import (
	    "github.com/searchktools/xg-server/app"
	    "github.com/searchktools/xg-server/config"
	    "github.com/searchktools/xg-server/core/http"
	)

	func main() {
	    application, err := app.New(config.New())
	    if err != nil {
	        panic(err)
	    }

	    engine := application.Engine()
	    engine.GET("/hello", func(ctx http.Context) error {
	        ctx.String(200, "Hello, World!")
	        return nil
	    })

	    application.Main()
	}

Modules

  - app: process lifecycle and signal handling
  - config: flags, JSON file and XG_ environment settings
  - core: connection slots, state machine and main loop
  - core/socket: non-blocking socket calls
  - core/secure: TLS over non-blocking sockets
  - core/poller: epoll and poll backends
  - core/chunk: output chunk queue
  - core/pools: idle lists, worker pool and GC tuning
  - core/http: request parser and response builder
  - core/router: radix tree router
  - core/static: static file lookup
  - core/middleware: handler pipeline
  - core/observability: per-route metrics
*/
package xgserver
