package wsgi

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/danmuck/fcgiwsgi/internal/interp"
	"go.starlark.net/starlark"
)

type fakeRequest struct {
	headers []Header
	body    io.Reader
}

func newFakeRequest(body string, headers ...Header) *fakeRequest {
	return &fakeRequest{headers: headers, body: strings.NewReader(body)}
}

func (r *fakeRequest) Headers() []Header { return r.headers }

func (r *fakeRequest) Header(name string) string {
	value := ""
	for _, h := range r.headers {
		if h.Name == name {
			value = h.Value
		}
	}
	return value
}

func (r *fakeRequest) Body() io.Reader { return r.body }

var errClientGone = errors.New("client went away")

type fakeResponse struct {
	mu              sync.Mutex
	guard           *interp.Guard
	status          string
	headers         []Header
	staged          int
	writes          []string
	committed       bool
	failAt          int
	delay           time.Duration
	heldDuringWrite bool
}

func (r *fakeResponse) SetStatus(status string, headers []Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.headers = headers
	r.staged++
}

func (r *fakeResponse) Write(p []byte) (int, error) {
	if r.guard != nil && r.guard.Holders() != 0 {
		r.mu.Lock()
		r.heldDuringWrite = true
		r.mu.Unlock()
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.writes)+1 >= r.failAt {
		return 0, errClientGone
	}
	r.committed = true
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func (r *fakeResponse) Committed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

func (r *fakeResponse) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.writes, "")
}

func newTestRuntime(files map[string]string, predeclared starlark.StringDict) *interp.Runtime {
	fsys := fstest.MapFS{}
	for name, src := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(src)}
	}
	rt := interp.NewRuntime(fsys)
	rt.Guard = interp.NewGuard()
	rt.Predeclared = predeclared
	return rt
}

func newTestApp(t *testing.T, src string, predeclared starlark.StringDict) (*Application, *interp.Runtime) {
	t.Helper()
	rt := newTestRuntime(map[string]string{"app.star": src}, predeclared)
	app, err := Initialize(rt, DefaultConfig())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(app.Shutdown)
	return app, rt
}
