/*
Package h1 is a small HTTP/1.1 server core that serves one request per
connection with minimal copying.

Each accepted connection reads a single request into a pooled buffer,
parses it in place, runs the middleware chain, dispatches to the handler
registered for "/{METHOD}/{path}" and writes one response before closing.

Features

  - Buffer pool: request buffers are checked out per connection and reused
  - Incremental framing: the parser runs only once the header block is complete
  - Zero-copy requests: method, path, headers and body are views into the buffer
  - Routing: static, ":param" and "*catchAll" segments keyed by method
  - Middleware: an ordered chain that can abort a request with an error
  - Encoding: status line, Server, Content-Length and Date headers, then the body
  - Supervision: admission limit, deadlines, panic recovery and graceful shutdown
  - Observability: zap logging, OpenTelemetry spans and per-route latency stats

Quick Start

	package main

	import (
	    "context"

	    "github.com/searchktools/h1/app"
	    "github.com/searchktools/h1/core"
	    "github.com/searchktools/h1/core/http"
	    "github.com/searchktools/h1/core/router"
	)

	func main() {
	    app.New(func(s *core.Server) {
	        s.GET("/plaintext", func(context.Context, *http.Request, router.Params) (*http.Response, error) {
	            return http.NewResponse().Body("Hello, World!"), nil
	        })
	    }).Run()
	}

Modules

  - app: fx application wiring config, logging, tracing and the server
  - config: environment and flag configuration
  - core: connection supervisor and server
  - core/http: request parser, frame reader and response encoder
  - core/router: method-keyed segment tree
  - core/middleware: middleware chain and built-in middleware
  - core/codec: JSON and protobuf body codecs
  - core/pools: buffer pool and GC tuning
  - core/observability: per-route latency monitor
*/
package h1
