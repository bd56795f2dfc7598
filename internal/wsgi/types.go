package wsgi

import "io"

// Header is one (name, value) pair as the transport or application sees it.
type Header struct {
	Name  string
	Value string
}

// Request is the transport-side view of one FastCGI request.
type Request interface {
	// Headers returns the request parameters in transport order.
	Headers() []Header
	// Header returns the value for name, or "" when absent.
	Header(name string) string
	Body() io.Reader
}

// Response is the transport-side sink for one reply. SetStatus only stages
// status and headers; the transport commits them before the first body byte.
type Response interface {
	SetStatus(status string, headers []Header)
	Write(p []byte) (int, error)
	Committed() bool
}
