package wsgi

import (
	"sort"
	"testing"

	"github.com/danmuck/fcgiwsgi/internal/interp"
	"github.com/danmuck/fcgiwsgi/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

func envKeys(env *starlark.Dict) []string {
	keys := make([]string, 0, env.Len())
	for _, k := range env.Keys() {
		keys = append(keys, string(k.(starlark.String)))
	}
	sort.Strings(keys)
	return keys
}

func envGet(t *testing.T, env *starlark.Dict, key string) starlark.Value {
	t.Helper()
	v, found, err := env.Get(starlark.String(key))
	if err != nil || !found {
		t.Fatalf("missing %s (err=%v)", key, err)
	}
	return v
}

func TestBuildEnvironmentHeadersAndSyntheticKeys(t *testing.T) {
	testlog.Start(t)
	req := newFakeRequest("",
		Header{Name: "REQUEST_METHOD", Value: "GET"},
		Header{Name: "DOCUMENT_URI", Value: "/index"},
		Header{Name: "REQUEST_SCHEME", Value: "https"},
		Header{Name: "HTTP_ACCEPT", Value: "text/html"},
		Header{Name: "HTTP_ACCEPT", Value: "*/*"},
	)
	env := BuildEnvironment(nil, req, NewVersion(), zerolog.Nop())

	want := []string{"DOCUMENT_URI", "HTTP_ACCEPT", "REQUEST_METHOD", "REQUEST_SCHEME"}
	want = append(want, SyntheticKeys...)
	sort.Strings(want)
	if diff := cmp.Diff(want, envKeys(env)); diff != "" {
		t.Fatalf("unexpected environment keys (-want +got):\n%s", diff)
	}

	if got := envGet(t, env, "HTTP_ACCEPT"); got != starlark.String("*/*") {
		t.Fatalf("expected last duplicate header to win, got %v", got)
	}
	if got := envGet(t, env, KeyPathInfo); got != starlark.String("/index") {
		t.Fatalf("unexpected PATH_INFO: %v", got)
	}
	if got := envGet(t, env, KeyURLScheme); got != starlark.String("https") {
		t.Fatalf("unexpected url scheme: %v", got)
	}
	if got := envGet(t, env, KeyInput); got.Type() != "wsgi.input" {
		t.Fatalf("unexpected wsgi.input: %v", got)
	}
	if got := envGet(t, env, KeyErrors); got.Type() != "wsgi.errors" {
		t.Fatalf("unexpected wsgi.errors: %v", got)
	}
}

func TestBuildEnvironmentFixedValues(t *testing.T) {
	testlog.Start(t)
	requests := []*fakeRequest{
		newFakeRequest(""),
		newFakeRequest("body", Header{Name: "wsgi.multithread", Value: "yes"}, Header{Name: "HTTPS", Value: "on"}),
	}
	for _, req := range requests {
		env := BuildEnvironment(nil, req, NewVersion(), zerolog.Nop())

		version, ok := envGet(t, env, KeyVersion).(starlark.Tuple)
		if !ok || version.Len() != 2 {
			t.Fatalf("unexpected version: %v", envGet(t, env, KeyVersion))
		}
		major, _ := starlark.AsInt32(version[0])
		minor, _ := starlark.AsInt32(version[1])
		if major != 1 || minor != 0 {
			t.Fatalf("unexpected version: %d.%d", major, minor)
		}
		for _, key := range []string{KeyMultithread, KeyMultiprocess, KeyRunOnce} {
			if envGet(t, env, key) != starlark.False {
				t.Fatalf("expected %s to be the False singleton", key)
			}
		}
	}
}

func TestBuildEnvironmentPathInfoFallsBackToEmpty(t *testing.T) {
	testlog.Start(t)
	req := newFakeRequest("", Header{Name: "PATH_INFO", Value: "/from-server"})
	env := BuildEnvironment(nil, req, NewVersion(), zerolog.Nop())

	if got := envGet(t, env, KeyPathInfo); got != starlark.String("") {
		t.Fatalf("expected PATH_INFO derived from DOCUMENT_URI only, got %v", got)
	}
	if got := envGet(t, env, KeyURLScheme); got != starlark.String("") {
		t.Fatalf("expected empty url scheme, got %v", got)
	}
}

func TestBuildEnvironmentInputReadsBody(t *testing.T) {
	testlog.Start(t)
	env := BuildEnvironment(nil, newFakeRequest("payload"), NewVersion(), zerolog.Nop())
	input := envGet(t, env, KeyInput).(*interp.InputStream)

	read, _ := input.Attr("read")
	got, err := starlark.Call(&starlark.Thread{Name: "test"}, read, nil, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != starlark.Bytes("payload") {
		t.Fatalf("unexpected body: %v", got)
	}
}
