package core

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderAccept        = "Accept"
	HeaderConnection    = "Connection"
)

// Content types used by the built-in responses and examples
const (
	MIMETextPlain       = "text/plain"
	MIMEApplicationJSON = "application/json"
)

// Labels for requests without a route in stats and traces
const (
	routeNotFound = "NOT_FOUND"
	routeRejected = "REJECTED"
)
