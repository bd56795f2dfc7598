package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the admin request id. An incoming value is kept so
// callers can correlate their own logs.
const RequestIDHeader = "X-Request-Id"

const requestIDKey = "fcgiwsgi.request_id"

// RequestID returns the id AdminRequestLogger assigned to c, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AdminRequestLogger tags every admin request with the gateway name and a
// request id. The id is echoed on the response and in the log line.
func AdminRequestLogger(logger zerolog.Logger, gateway string) gin.HandlerFunc {
	logger = logger.With().Str("gateway", gateway).Logger()
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Str("remote", c.ClientIP()).
			Msg("gateway.admin request")
	}
}

// AdminMetrics records every admin request under the gateway label.
func AdminMetrics(gateway string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(gateway, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// routeOf prefers the registered route so unknown paths do not explode the
// label set.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
