package wsgi

import (
	"fmt"

	"github.com/danmuck/fcgiwsgi/internal/interp"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

// Transport parameters the environment derives synthetic keys from.
const (
	ParamDocumentURI   = "DOCUMENT_URI"
	ParamRequestScheme = "REQUEST_SCHEME"
)

// Environment keys fixed by the protocol.
const (
	KeyPathInfo     = "PATH_INFO"
	KeyVersion      = "wsgi.version"
	KeyURLScheme    = "wsgi.url_scheme"
	KeyMultithread  = "wsgi.multithread"
	KeyMultiprocess = "wsgi.multiprocess"
	KeyRunOnce      = "wsgi.run_once"
	KeyInput        = "wsgi.input"
	KeyErrors       = "wsgi.errors"
)

// SyntheticKeys lists every key BuildEnvironment adds beyond the headers.
var SyntheticKeys = []string{
	KeyPathInfo, KeyVersion, KeyURLScheme, KeyMultithread,
	KeyMultiprocess, KeyRunOnce, KeyInput, KeyErrors,
}

// NewVersion returns the frozen (1, 0) protocol version tuple.
func NewVersion() starlark.Tuple {
	v := starlark.Tuple{starlark.MakeInt(1), starlark.MakeInt(0)}
	v.Freeze()
	return v
}

// BuildEnvironment returns a fresh environment dict for req served on
// thread. The caller must hold the execution guard.
func BuildEnvironment(thread *starlark.Thread, req Request, version starlark.Tuple, logger zerolog.Logger) *starlark.Dict {
	headers := req.Headers()
	env := starlark.NewDict(len(headers) + len(SyntheticKeys))

	for _, h := range headers {
		setEnv(env, h.Name, starlark.String(h.Value))
	}
	setEnv(env, KeyPathInfo, starlark.String(req.Header(ParamDocumentURI)))

	setEnv(env, KeyVersion, version)
	setEnv(env, KeyURLScheme, starlark.String(req.Header(ParamRequestScheme)))
	setEnv(env, KeyMultithread, starlark.False)
	setEnv(env, KeyMultiprocess, starlark.False)
	setEnv(env, KeyRunOnce, starlark.False)
	setEnv(env, KeyInput, interp.NewInputStream(req.Body()).Bind(thread))
	setEnv(env, KeyErrors, interp.NewErrorStream(logger))
	return env
}

// setEnv cannot fail on a fresh unfrozen dict with string keys.
func setEnv(env *starlark.Dict, key string, v starlark.Value) {
	if err := env.SetKey(starlark.String(key), v); err != nil {
		panic(fmt.Sprintf("wsgi: environment %s: %v", key, err))
	}
}
