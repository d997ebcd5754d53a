package middleware

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/core/http"
)

// Middleware runs before routing. It may inspect the request or attach
// headers to it; returning an error aborts the request.
type Middleware interface {
	Call(ctx context.Context, req *http.Request) error
}

// Func adapts an ordinary function to Middleware.
type Func func(ctx context.Context, req *http.Request) error

// Call calls f(ctx, req).
func (f Func) Call(ctx context.Context, req *http.Request) error { return f(ctx, req) }

// Chain is an ordered list of middleware
type Chain struct {
	mws []Middleware
}

// NewChain creates a chain running mws in order.
func NewChain(mws ...Middleware) *Chain {
	c := &Chain{mws: make([]Middleware, 0, 16)} // Pre-allocate for 16 middlewares
	return c.Use(mws...)
}

// Use appends middleware to the chain
func (c *Chain) Use(mws ...Middleware) *Chain {
	for _, mw := range mws {
		if mw == nil {
			panic("middleware: nil middleware")
		}
		c.mws = append(c.mws, mw)
	}
	return c
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int { return len(c.mws) }

// Compile trims the chain's backing array once registration is done.
func (c *Chain) Compile() *Chain {
	if len(c.mws) == cap(c.mws) {
		return c
	}
	compiled := make([]Middleware, len(c.mws))
	copy(compiled, c.mws)
	c.mws = compiled
	return c
}

// Run calls every middleware in registration order and stops at the first
// error, which is returned annotated with the middleware's position.
func (c *Chain) Run(ctx context.Context, req *http.Request) error {
	for i, mw := range c.mws {
		if err := mw.Call(ctx, req); err != nil {
			return errors.Wrapf(err, "middleware %d", i)
		}
	}
	return nil
}
