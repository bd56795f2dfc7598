// Package wsgi adapts FastCGI requests to a WSGI-style Starlark application.
//
// Ownership boundary:
// - environment construction
// - start_response capture
// - application load and shutdown
// - application calls and body streaming
//
// The transport (record parsing, header flushing, connection handling) is
// reached only through the Request and Response interfaces.
package wsgi
