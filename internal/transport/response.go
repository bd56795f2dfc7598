package transport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danmuck/fcgiwsgi/internal/wsgi"
)

// Response stages the application's status and headers and commits them
// to the ResponseWriter right before the first body byte.
type Response struct {
	w         http.ResponseWriter
	status    string
	headers   []wsgi.Header
	staged    bool
	committed bool
	written   int64
}

var _ wsgi.Response = (*Response)(nil)

func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w}
}

func (r *Response) SetStatus(status string, headers []wsgi.Header) {
	if r.committed {
		return
	}
	r.status = status
	r.headers = headers
	r.staged = true
}

func (r *Response) Write(p []byte) (int, error) {
	r.commit()
	n, err := r.w.Write(p)
	r.written += int64(n)
	if err != nil {
		return n, err
	}
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, nil
}

func (r *Response) Committed() bool {
	return r.committed
}

// Staged reports whether start_response provided a status.
func (r *Response) Staged() bool {
	return r.staged
}

func (r *Response) Written() int64 {
	return r.written
}

// Finish commits status and headers for a response with no body.
func (r *Response) Finish() {
	r.commit()
}

func (r *Response) commit() {
	if r.committed {
		return
	}
	r.committed = true
	h := r.w.Header()
	for _, hdr := range r.headers {
		h.Add(hdr.Name, hdr.Value)
	}
	r.w.WriteHeader(statusCode(r.status))
}

// statusCode parses "404 Not Found"; unparseable lines map to 500.
func statusCode(status string) int {
	if status == "" {
		return http.StatusOK
	}
	code, _, _ := strings.Cut(status, " ")
	n, err := strconv.Atoi(code)
	if err != nil || n < 100 || n > 999 {
		return http.StatusInternalServerError
	}
	return n
}
