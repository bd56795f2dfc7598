// Package transport binds the wsgi core to net/http/fcgi.
//
// Ownership boundary:
// - FastCGI parameter reconstruction
// - status/header commit before the first body byte
// - generic failure responses
package transport
