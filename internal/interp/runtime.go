package interp

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
)

var (
	ErrNotInitialized = errors.New("interp: runtime not initialized")
	ErrModuleNotFound = errors.New("interp: module not found")
	ErrModuleInvalid  = errors.New("interp: module failed to load")
	ErrModuleName     = errors.New("interp: invalid module name")
)

const (
	heldLocal    = "fcgiwsgi.held"
	loadingLocal = "fcgiwsgi.loading"
)

// Runtime is the single Starlark execution context of the process. All
// methods expect the caller to hold Guard.
type Runtime struct {
	// FS holds module sources; module "pkg.app" lives at "pkg/app.star".
	FS fs.FS
	// Predeclared is merged over the host builtins.
	Predeclared starlark.StringDict
	// Guard defaults to Global().
	Guard *Guard

	initialized bool
	predeclared starlark.StringDict
	modules     map[string]*moduleEntry
	live        atomic.Int64
}

type moduleEntry struct {
	globals starlark.StringDict
	err     error
	loading bool
	refs    int
}

func NewRuntime(fsys fs.FS) *Runtime {
	return &Runtime{FS: fsys}
}

// ExecGuard returns the guard serializing this runtime.
func (r *Runtime) ExecGuard() *Guard {
	if r.Guard == nil {
		r.Guard = Global()
	}
	return r.Guard
}

// Init prepares the runtime. Calling it again is a no-op.
func (r *Runtime) Init() {
	if r.initialized {
		return
	}
	r.predeclared = starlark.StringDict{
		"generate": starlark.NewBuiltin("generate", generate),
	}
	for name, v := range r.Predeclared {
		r.predeclared[name] = v
	}
	r.predeclared.Freeze()
	r.modules = make(map[string]*moduleEntry)
	r.initialized = true
	log.Debug().Int("predeclared", len(r.predeclared)).Msg("interp.Runtime.Init")
}

func (r *Runtime) Initialized() bool {
	return r.initialized
}

// LoadModule executes the named module once and returns an owned reference
// to its frozen globals.
func (r *Runtime) LoadModule(name string) (*Owned[starlark.StringDict], error) {
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	file, err := modulePath(name)
	if err != nil {
		return nil, err
	}
	globals, err := r.exec(file)
	if err != nil {
		return nil, err
	}
	entry := r.modules[file]
	entry.refs++
	r.live.Add(1)
	return NewOwned(globals, func(starlark.StringDict) {
		entry.refs--
		r.live.Add(-1)
	}), nil
}

// Own wraps a value borrowed from a loaded module so its lifetime is
// tracked alongside module references.
func (r *Runtime) Own(v starlark.Value) *Owned[starlark.Value] {
	r.live.Add(1)
	return NewOwned(v, func(starlark.Value) {
		r.live.Add(-1)
	})
}

// Live reports owned references not yet released.
func (r *Runtime) Live() int64 {
	return r.live.Load()
}

// NewThread builds a thread for one unit of work; print goes to the log.
func (r *Runtime) NewThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name:  name,
		Load:  r.load,
		Print: printToLog,
	}
}

// Finalize drops the module cache. Owned references still live are
// reported.
func (r *Runtime) Finalize() {
	if !r.initialized {
		return
	}
	if live := r.live.Load(); live != 0 {
		log.Warn().Int64("live", live).Msg("interp.Runtime.Finalize leaked references")
	}
	r.modules = nil
	r.predeclared = nil
	r.initialized = false
	log.Debug().Msg("interp.Runtime.Finalize")
}

func (r *Runtime) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	file, err := modulePath(module)
	if err != nil {
		return nil, err
	}
	return r.exec(file)
}

func (r *Runtime) exec(file string) (starlark.StringDict, error) {
	if entry, ok := r.modules[file]; ok {
		if entry.loading {
			return nil, fmt.Errorf("%w: cycle in load graph at %s", ErrModuleInvalid, file)
		}
		return entry.globals, entry.err
	}
	if r.FS == nil {
		return nil, fmt.Errorf("%w: %s: no module filesystem", ErrModuleNotFound, file)
	}

	src, err := fs.ReadFile(r.FS, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, file)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleInvalid, file, err)
	}

	entry := &moduleEntry{loading: true}
	r.modules[file] = entry
	thread := r.NewThread("load " + file)
	thread.SetLocal(loadingLocal, true)
	globals, err := starlark.ExecFile(thread, file, src, r.predeclared)
	entry.loading = false
	if err != nil {
		entry.err = fmt.Errorf("%w: %s", ErrModuleInvalid, Describe(err))
		return nil, entry.err
	}
	entry.globals = globals
	log.Info().Str("module", file).Int("globals", len(globals)).Msg("interp.Runtime module loaded")
	return globals, nil
}

// modulePath maps "pkg.app" to "pkg/app.star". Names already ending in
// ".star" (load statements) are used as paths.
func modulePath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrModuleName)
	}
	if strings.HasSuffix(name, ".star") {
		clean := path.Clean(name)
		if !fs.ValidPath(clean) {
			return "", fmt.Errorf("%w: %q", ErrModuleName, name)
		}
		return clean, nil
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if !isIdent(part) {
			return "", fmt.Errorf("%w: %q", ErrModuleName, name)
		}
	}
	return path.Join(parts...) + ".star", nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isAlpha := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isAlpha && !(isDigit && i > 0) {
			return false
		}
	}
	return true
}

// Describe renders a runtime error with its Starlark backtrace when one
// is available.
func Describe(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}

// SetHeld binds the guard acquisition owning thread so host values can
// release it around I/O.
func SetHeld(thread *starlark.Thread, held *Held) {
	thread.SetLocal(heldLocal, held)
}

// HeldFrom returns the acquisition bound by SetHeld, or nil.
func HeldFrom(thread *starlark.Thread) *Held {
	if thread == nil {
		return nil
	}
	held, _ := thread.Local(heldLocal).(*Held)
	return held
}

// loading reports whether thread is executing module top level.
func loading(thread *starlark.Thread) bool {
	if thread == nil {
		return false
	}
	v, _ := thread.Local(loadingLocal).(bool)
	return v
}

func printToLog(thread *starlark.Thread, msg string) {
	log.Info().Str("thread", thread.Name).Str("msg", msg).Msg("interp print")
}
