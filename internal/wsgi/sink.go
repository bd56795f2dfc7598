package wsgi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/fcgiwsgi/internal/interp"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

// Sink is the start_response callback handed to the application for one
// request. It records the status line and headers and stages them on the
// response.
type Sink struct {
	res     Response
	logger  zerolog.Logger
	status  string
	headers []Header
	set     bool
	calls   int
	written int

	startResponse *starlark.Builtin
	write         *starlark.Builtin
}

func NewSink(res Response, logger zerolog.Logger) *Sink {
	s := &Sink{res: res, logger: logger}
	s.startResponse = starlark.NewBuiltin("start_response", s.start)
	s.write = starlark.NewBuiltin("write", s.writeBody)
	return s
}

// Callable is the value passed to the application as start_response.
func (s *Sink) Callable() starlark.Callable {
	return s.startResponse
}

func (s *Sink) Status() (string, bool) {
	return s.status, s.set
}

func (s *Sink) Headers() []Header {
	out := make([]Header, len(s.headers))
	copy(out, s.headers)
	return out
}

// Calls counts start_response invocations, rejected ones included.
func (s *Sink) Calls() int {
	return s.calls
}

// Written counts bytes sent through the legacy write() callable.
func (s *Sink) Written() int {
	return s.written
}

func (s *Sink) start(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	s.calls++

	var (
		status  string
		headers starlark.Iterable
		excInfo starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"status", &status,
		"response_headers", &headers,
		"exc_info?", &excInfo,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartResponseArgs, err)
	}
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	parsed, err := parseHeaders(headers)
	if err != nil {
		return nil, err
	}

	hasExc := excInfo != starlark.None
	if s.set {
		switch {
		case hasExc && s.res.Committed():
			return nil, fmt.Errorf("%w: %s", ErrHeadersSent, excInfo.String())
		case s.res.Committed():
			s.logger.Warn().
				Str("sent", s.status).
				Str("status", status).
				Int("calls", s.calls).
				Msg("wsgi.Sink start_response after commit; new status not sent")
			return s.write, nil
		case hasExc:
			s.logger.Debug().
				Str("previous", s.status).
				Str("status", status).
				Msg("wsgi.Sink start_response override on error")
		default:
			s.logger.Warn().
				Str("previous", s.status).
				Str("status", status).
				Int("calls", s.calls).
				Msg("wsgi.Sink duplicate start_response without exc_info")
		}
	}

	s.status = status
	s.headers = parsed
	s.set = true
	s.res.SetStatus(status, parsed)
	return s.write, nil
}

// writeBody is the write(data) callable returned by start_response.
func (s *Sink) writeBody(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
		return nil, err
	}
	chunk, ok := data.(starlark.Bytes)
	if !ok {
		return nil, fmt.Errorf("%s: want bytes, got %s", b.Name(), data.Type())
	}
	body := []byte(chunk)
	err := interp.HeldFrom(thread).Unlocked(func() error {
		_, err := s.res.Write(body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	s.written += len(body)
	return starlark.None, nil
}

// validateStatus accepts "NNN reason" with a three digit code.
func validateStatus(status string) error {
	code, _, _ := strings.Cut(status, " ")
	if len(code) != 3 {
		return fmt.Errorf("%w: status %q", ErrStartResponseArgs, status)
	}
	if _, err := strconv.Atoi(code); err != nil {
		return fmt.Errorf("%w: status %q", ErrStartResponseArgs, status)
	}
	return nil
}

func parseHeaders(v starlark.Iterable) ([]Header, error) {
	iter := v.Iterate()
	defer iter.Done()

	var (
		out  []Header
		item starlark.Value
	)
	for iter.Next(&item) {
		pair, ok := item.(starlark.Indexable)
		if _, isStr := item.(starlark.String); isStr || !ok || pair.Len() != 2 {
			return nil, fmt.Errorf("%w: header %s is not a (name, value) pair", ErrStartResponseArgs, item.String())
		}
		name, ok := starlark.AsString(pair.Index(0))
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: header name %s", ErrStartResponseArgs, pair.Index(0).String())
		}
		value, ok := starlark.AsString(pair.Index(1))
		if !ok {
			return nil, fmt.Errorf("%w: header %s value %s", ErrStartResponseArgs, name, pair.Index(1).String())
		}
		out = append(out, Header{Name: name, Value: value})
	}
	return out, nil
}
