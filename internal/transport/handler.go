package transport

import (
	"context"
	"net/http"

	"github.com/danmuck/fcgiwsgi/internal/wsgi"
	"github.com/rs/zerolog/log"
)

// Server is the per-request entry point of the hosted application.
type Server interface {
	Serve(ctx context.Context, req wsgi.Request, res wsgi.Response) bool
}

// Handler serves FastCGI requests through App.
type Handler struct {
	App Server
}

func NewHandler(app Server) *Handler {
	return &Handler{App: app}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := NewRequest(r)
	res := NewResponse(w)

	if !h.App.Serve(r.Context(), req, res) {
		fail(w, res, r, "application failed")
		return
	}
	if !res.Staged() && !res.Committed() {
		fail(w, res, r, "application never called start_response")
		return
	}
	res.Finish()
}

// fail answers with a generic 500 unless the body already started, in
// which case the response is simply cut short.
func fail(w http.ResponseWriter, res *Response, r *http.Request, reason string) {
	log.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Bool("committed", res.Committed()).
		Int64("bytes", res.Written()).
		Msg("transport.Handler " + reason)
	if res.Committed() {
		return
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
