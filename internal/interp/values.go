package interp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

var ErrGenerateAtLoad = errors.New("interp: generate() is only available while serving a request")

// generate(fn) returns a lazy iterable calling fn() once per step until it
// returns None. The generator steps on the request thread that built it, so
// module top level may not call it.
func generate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if loading(thread) {
		return nil, fmt.Errorf("%s: %w", b.Name(), ErrGenerateAtLoad)
	}
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	return &Generator{thread: thread, fn: fn}, nil
}

// Generator is a single-pass lazy sequence driven by a Starlark callable.
type Generator struct {
	thread *starlark.Thread
	fn     starlark.Callable
}

var _ starlark.Iterable = (*Generator)(nil)

func (g *Generator) String() string        { return fmt.Sprintf("<generator %s>", g.fn.Name()) }
func (g *Generator) Type() string          { return "generator" }
func (g *Generator) Freeze()               {}
func (g *Generator) Truth() starlark.Bool  { return starlark.True }
func (g *Generator) Hash() (uint32, error) { return 0, errors.New("unhashable type: generator") }

func (g *Generator) Iterate() starlark.Iterator {
	return &generatorIterator{g: g}
}

type generatorIterator struct {
	g    *Generator
	err  error
	done bool
}

func (it *generatorIterator) Next(p *starlark.Value) bool {
	if it.done {
		return false
	}
	v, err := starlark.Call(it.g.thread, it.g.fn, nil, nil)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if v == starlark.None {
		it.done = true
		return false
	}
	*p = v
	return true
}

func (it *generatorIterator) Done() {
	it.done = true
}

// Err reports the failure that ended the sequence early, if any.
func (it *generatorIterator) Err() error {
	return it.err
}

// InputStream exposes a request body to Starlark as a file-like object.
// Every body read releases the guard held by the bound thread.
type InputStream struct {
	r      *bufio.Reader
	thread *starlark.Thread
}

var (
	_ starlark.HasAttrs = (*InputStream)(nil)
	_ starlark.Iterable = (*InputStream)(nil)
)

func NewInputStream(r io.Reader) *InputStream {
	if r == nil {
		r = eofReader{}
	}
	return &InputStream{r: bufio.NewReader(r)}
}

// Bind sets the request thread whose guard iteration releases around reads.
// Method calls use the calling thread instead.
func (s *InputStream) Bind(thread *starlark.Thread) *InputStream {
	s.thread = thread
	return s
}

func (s *InputStream) String() string        { return "<wsgi.input>" }
func (s *InputStream) Type() string          { return "wsgi.input" }
func (s *InputStream) Freeze()               {}
func (s *InputStream) Truth() starlark.Bool  { return starlark.True }
func (s *InputStream) Hash() (uint32, error) { return 0, errors.New("unhashable type: wsgi.input") }

var inputMethods = map[string]*starlark.Builtin{
	"read":      starlark.NewBuiltin("read", inputRead),
	"readline":  starlark.NewBuiltin("readline", inputReadline),
	"readlines": starlark.NewBuiltin("readlines", inputReadlines),
}

func (s *InputStream) Attr(name string) (starlark.Value, error) {
	if m, ok := inputMethods[name]; ok {
		return m.BindReceiver(s), nil
	}
	return nil, nil
}

func (s *InputStream) AttrNames() []string {
	return sortedKeys(inputMethods)
}

// Iterate yields lines.
func (s *InputStream) Iterate() starlark.Iterator {
	return &lineIterator{s: s}
}

type lineIterator struct {
	s *InputStream
}

func (it *lineIterator) Next(p *starlark.Value) bool {
	var (
		line []byte
		err  error
	)
	_ = HeldFrom(it.s.thread).Unlocked(func() error {
		line, err = readLine(it.s.r, -1)
		return nil
	})
	if len(line) == 0 || (err != nil && !errors.Is(err, io.EOF)) {
		return false
	}
	*p = starlark.Bytes(line)
	return true
}

func (it *lineIterator) Done() {}

func inputRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	size := -1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &size); err != nil {
		return nil, err
	}
	s := b.Receiver().(*InputStream)

	var data []byte
	err := HeldFrom(thread).Unlocked(func() error {
		var err error
		if size < 0 {
			data, err = io.ReadAll(s.r)
			return err
		}
		data = make([]byte, size)
		n, err := io.ReadFull(s.r, data)
		data = data[:n]
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.Bytes(data), nil
}

func inputReadline(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	size := -1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &size); err != nil {
		return nil, err
	}
	s := b.Receiver().(*InputStream)

	var line []byte
	err := HeldFrom(thread).Unlocked(func() error {
		var err error
		line, err = readLine(s.r, size)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.Bytes(line), nil
}

func inputReadlines(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	hint := -1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &hint); err != nil {
		return nil, err
	}
	s := b.Receiver().(*InputStream)

	var lines []starlark.Value
	err := HeldFrom(thread).Unlocked(func() error {
		total := 0
		for {
			line, err := readLine(s.r, -1)
			if len(line) > 0 {
				lines = append(lines, starlark.Bytes(line))
				total += len(line)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if hint > 0 && total >= hint {
				return nil
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.NewList(lines), nil
}

// readLine reads through the next newline, or at most size bytes when
// size is not negative.
func readLine(r *bufio.Reader, size int) ([]byte, error) {
	if size < 0 {
		return r.ReadBytes('\n')
	}
	line := make([]byte, 0, size)
	for len(line) < size {
		c, err := r.ReadByte()
		if err != nil {
			return line, err
		}
		line = append(line, c)
		if c == '\n' {
			break
		}
	}
	return line, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// ErrorStream is wsgi.errors: application diagnostics land in the log.
type ErrorStream struct {
	logger zerolog.Logger
}

var _ starlark.HasAttrs = (*ErrorStream)(nil)

func NewErrorStream(logger zerolog.Logger) *ErrorStream {
	return &ErrorStream{logger: logger}
}

func (s *ErrorStream) String() string        { return "<wsgi.errors>" }
func (s *ErrorStream) Type() string          { return "wsgi.errors" }
func (s *ErrorStream) Freeze()               {}
func (s *ErrorStream) Truth() starlark.Bool  { return starlark.True }
func (s *ErrorStream) Hash() (uint32, error) { return 0, errors.New("unhashable type: wsgi.errors") }

var errorMethods = map[string]*starlark.Builtin{
	"write":      starlark.NewBuiltin("write", errorsWrite),
	"writelines": starlark.NewBuiltin("writelines", errorsWritelines),
	"flush":      starlark.NewBuiltin("flush", errorsFlush),
}

func (s *ErrorStream) Attr(name string) (starlark.Value, error) {
	if m, ok := errorMethods[name]; ok {
		return m.BindReceiver(s), nil
	}
	return nil, nil
}

func (s *ErrorStream) AttrNames() []string {
	return sortedKeys(errorMethods)
}

func errorsWrite(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	text, ok := textOf(msg)
	if !ok {
		return nil, fmt.Errorf("%s: want string or bytes, got %s", b.Name(), msg.Type())
	}
	b.Receiver().(*ErrorStream).emit(text)
	return starlark.None, nil
}

func errorsWritelines(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lines starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &lines); err != nil {
		return nil, err
	}
	s := b.Receiver().(*ErrorStream)
	iter := lines.Iterate()
	defer iter.Done()
	var v starlark.Value
	for iter.Next(&v) {
		text, ok := textOf(v)
		if !ok {
			return nil, fmt.Errorf("%s: want string or bytes, got %s", b.Name(), v.Type())
		}
		s.emit(text)
	}
	return starlark.None, nil
}

func errorsFlush(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (s *ErrorStream) emit(text string) {
	s.logger.Warn().Str("msg", text).Msg("wsgi.errors")
}

func textOf(v starlark.Value) (string, bool) {
	switch v := v.(type) {
	case starlark.String:
		return string(v), true
	case starlark.Bytes:
		return string(v), true
	}
	return "", false
}

func sortedKeys(m map[string]*starlark.Builtin) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
