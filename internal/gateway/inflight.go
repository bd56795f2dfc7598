package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/fcgiwsgi/internal/observability"
	"github.com/rs/zerolog/log"
)

// inFlight counts requests inside the wrapped handler so shutdown can wait
// for them. After stopAdmitting, new requests are answered 503 without
// reaching the application; after abort, running requests see their
// context canceled.
type inFlight struct {
	next http.Handler

	mu       sync.Mutex
	draining bool
	active   int64
	idle     chan struct{}
	closed   bool

	count    atomic.Int64
	total    atomic.Uint64
	rejected atomic.Uint64

	hard  context.Context
	abort context.CancelFunc
}

func newInFlight(next http.Handler) *inFlight {
	hard, abort := context.WithCancel(context.Background())
	return &inFlight{next: next, idle: make(chan struct{}), hard: hard, abort: abort}
}

func (f *inFlight) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !f.admit() {
		f.rejected.Add(1)
		log.Debug().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Msg("gateway.inFlight rejected while draining")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	observability.AddInFlight(1)
	defer func() {
		observability.AddInFlight(-1)
		f.release()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(f.hard, cancel)
	defer stop()

	f.next.ServeHTTP(w, r.WithContext(ctx))
}

func (f *inFlight) admit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining {
		return false
	}
	f.active++
	f.count.Add(1)
	f.total.Add(1)
	return true
}

func (f *inFlight) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	f.count.Add(-1)
	f.signalIdle()
}

// stopAdmitting turns every later request away. It is idempotent.
func (f *inFlight) stopAdmitting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draining = true
	f.signalIdle()
}

// signalIdle requires f.mu.
func (f *inFlight) signalIdle() {
	if f.draining && f.active == 0 && !f.closed {
		f.closed = true
		close(f.idle)
	}
}

func (f *inFlight) Count() int64 {
	return f.count.Load()
}

func (f *inFlight) Total() uint64 {
	return f.total.Load()
}

func (f *inFlight) Rejected() uint64 {
	return f.rejected.Load()
}

// drain stops admission and waits up to timeout for running requests. If
// some remain, their contexts are canceled and drain waits up to grace
// more for them to unwind. inTime reports the first wait succeeded;
// settled reports nothing is running any more, so the application may be
// shut down.
func (f *inFlight) drain(timeout, grace time.Duration) (inTime, settled bool) {
	f.stopAdmitting()
	if f.waitIdle(timeout) {
		return true, true
	}
	f.abort()
	return false, f.waitIdle(grace)
}

func (f *inFlight) waitIdle(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.idle:
		return true
	case <-timer.C:
		return false
	}
}
