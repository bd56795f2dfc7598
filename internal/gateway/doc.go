// Package gateway runs the FastCGI responder process around one hosted
// application.
//
// Ownership boundary:
// - gateway lifecycle (created -> loaded -> serving -> draining -> stopped)
// - FastCGI and admin listeners
// - in-flight request accounting and bounded drain
// - application bootstrap and shutdown
package gateway
