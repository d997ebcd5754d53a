package core

import (
	"context"

	"github.com/searchktools/h1/core/http"
	"github.com/searchktools/h1/core/router"
)

// Handler produces the response for a routed request. It is called at most
// once per request. The request and params alias the connection buffer and
// must not be retained after Serve returns.
type Handler interface {
	Serve(ctx context.Context, req *http.Request, params router.Params) (*http.Response, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, req *http.Request, params router.Params) (*http.Response, error)

// Serve calls f(ctx, req, params).
func (f HandlerFunc) Serve(ctx context.Context, req *http.Request, params router.Params) (*http.Response, error) {
	return f(ctx, req, params)
}

// route is what the table stores: the handler and the name it is reported
// under in stats and traces.
type route struct {
	handler Handler
	name    string
}
