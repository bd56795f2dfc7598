package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/fcgiwsgi/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func adminEngine(buf *bytes.Buffer, gateway string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(AdminRequestLogger(zerolog.New(buf).Level(zerolog.DebugLevel), gateway))
	r.Use(AdminMetrics(gateway))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, RequestID(c))
	})
	return r
}

func TestAdminRequestLoggerAssignsRequestID(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := adminEngine(&buf, "gw.assign")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	id := rec.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatalf("expected %s on the response", RequestIDHeader)
	}
	if rec.Body.String() != id {
		t.Fatalf("handler saw id %q, response carries %q", rec.Body.String(), id)
	}
	line := buf.String()
	for _, want := range []string{`"gateway":"gw.assign"`, `"request_id":"` + id + `"`, `"route":"/health"`, `"status":200`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}
}

func TestAdminRequestLoggerKeepsIncomingID(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := adminEngine(&buf, "gw.incoming")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "caller-42" {
		t.Fatalf("incoming id not echoed: %q", got)
	}
	if !strings.Contains(buf.String(), `"request_id":"caller-42"`) {
		t.Fatalf("log line missing incoming id: %s", buf.String())
	}
}

func TestAdminMetricsCollapsesUnknownRoutes(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := adminEngine(&buf, "gw.unmatched")

	for _, path := range []string{"/nope", "/also/nope"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("gw.unmatched", "GET", "unmatched", "404")); got != 2 {
		t.Fatalf("unexpected unmatched count: %v", got)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("404 should log at warn: %s", buf.String())
	}
}
