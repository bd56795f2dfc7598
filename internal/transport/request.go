package transport

import (
	"io"
	"net"
	"net/http"
	"net/http/fcgi"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/fcgiwsgi/internal/wsgi"
)

// Request presents an *http.Request decoded by net/http/fcgi as the
// FastCGI parameter set the web server sent.
type Request struct {
	r       *http.Request
	params  map[string]string
	headers []wsgi.Header
}

var _ wsgi.Request = (*Request)(nil)

func NewRequest(r *http.Request) *Request {
	params := make(map[string]string)
	for k, v := range fcgi.ProcessEnv(r) {
		params[k] = v
	}
	for k, v := range derivedParams(r) {
		if _, ok := params[k]; !ok {
			params[k] = v
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([]wsgi.Header, 0, len(names))
	for _, name := range names {
		headers = append(headers, wsgi.Header{Name: name, Value: params[name]})
	}
	return &Request{r: r, params: params, headers: headers}
}

func (r *Request) Headers() []wsgi.Header {
	return r.headers
}

func (r *Request) Header(name string) string {
	return r.params[name]
}

func (r *Request) Body() io.Reader {
	if r.r.Body == nil {
		return http.NoBody
	}
	return r.r.Body
}

// derivedParams rebuilds the parameters net/http/fcgi folds into
// http.Request fields and strips from ProcessEnv.
func derivedParams(r *http.Request) map[string]string {
	p := map[string]string{
		"REQUEST_METHOD":  r.Method,
		"REQUEST_URI":     r.RequestURI,
		"QUERY_STRING":    r.URL.RawQuery,
		"SERVER_PROTOCOL": r.Proto,
	}
	if p["REQUEST_URI"] == "" {
		p["REQUEST_URI"] = r.URL.RequestURI()
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		p["CONTENT_TYPE"] = ct
	}
	if r.ContentLength >= 0 {
		p["CONTENT_LENGTH"] = strconv.FormatInt(r.ContentLength, 10)
	}
	if host, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		p["REMOTE_ADDR"] = host
		p["REMOTE_PORT"] = port
	} else if r.RemoteAddr != "" {
		p["REMOTE_ADDR"] = r.RemoteAddr
	}
	scheme := "http"
	if r.TLS != nil {
		p["HTTPS"] = "on"
		scheme = "https"
	}
	p[wsgi.ParamRequestScheme] = scheme
	if r.Host != "" {
		p["HTTP_HOST"] = r.Host
	}
	for name, values := range r.Header {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if key == "HTTP_CONTENT_TYPE" || key == "HTTP_CONTENT_LENGTH" {
			continue
		}
		p[key] = strings.Join(values, ", ")
	}
	return p
}
