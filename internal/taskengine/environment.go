package taskengine

import (
	"os"
	"strconv"
	"strings"
)

// Environment is the per-request application-invocation mapping
// (spec.md §3 "Environment", §4.6 "EnvironmentBuilder", §6 "Application
// protocol"). Keys are the fixed strings the gateway interface defines;
// values are whatever concrete type that key calls for (mostly string).
type Environment map[string]interface{}

// preservedHeaderNames carries through to the environment unprefixed,
// per spec.md §4.6; every other request header gets an HTTP_ prefix.
var preservedHeaderNames = map[string]bool{
	"CONTENT_LENGTH": true,
	"CONTENT_TYPE":   true,
}

// WriteFunc is the value start_response returns: the same body-write
// path as Task.Write.
type WriteFunc func([]byte) error

// StartResponseFunc is the start_response callable handed to the
// application (spec.md §4.4). excInfo is non-nil on a re-invocation
// that wants to replace a previously failed attempt.
type StartResponseFunc func(status string, headers [][2]string, excInfo error) (WriteFunc, error)

// Application is the hosted synchronous callable. It returns either a
// *FileBuffer or a ChunkIterator (spec.md §9's sum type), or an error
// if invocation itself failed before producing either.
type Application func(env Environment, start StartResponseFunc) (interface{}, error)

// ChunkIterator is the generic half of the sum type: an iterable of
// byte chunks with an optional close capability (spec.md §9). Next
// returns ok=false once exhausted; Close is always called exactly
// once by WSGITask.execute, never on the file-wrapper fast path.
type ChunkIterator interface {
	Next() (chunk []byte, ok bool, err error)
	Close() error
}

// LenReporter is an optional capability a ChunkIterator may implement
// to report its total chunk count, letting WSGITask.execute synthesise
// a content length from a single-chunk response (spec.md §4.4 step 5).
type LenReporter interface {
	Len() int
}

// FileBuffer is a read-only, size-known, file-backed payload honoring
// the file-wrapper fast path (spec.md §4.4 step 4, §9 "File buffer").
type FileBuffer struct {
	file *os.File
	size int64
}

// NewFileBuffer stats f once and caches its size. It is the value
// installed at Environment["wsgi.file_wrapper"] so the application can
// opt into the zero-copy send path.
func NewFileBuffer(f *os.File) (*FileBuffer, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &FileBuffer{file: f, size: fi.Size()}, nil
}

func (f *FileBuffer) Size() int64   { return f.size }
func (f *FileBuffer) File() *os.File { return f.file }

var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func containsCRLF(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// normalizePath collapses a run of leading slashes to one, per
// spec.md §4.6.
func normalizePath(path string) string {
	if len(path) == 0 || path[0] != '/' {
		return path
	}
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	return "/" + path[i:]
}

// splitScriptPath applies url_prefix, returning SCRIPT_NAME/PATH_INFO
// per spec.md §4.6's three cases.
func splitScriptPath(path, prefix string) (scriptName, pathInfo string) {
	if prefix == "" {
		return "", path
	}
	switch {
	case path == prefix:
		return prefix, ""
	case strings.HasPrefix(path, prefix+"/"):
		return prefix, path[len(prefix):]
	default:
		return "", path
	}
}

// buildEnvironment realizes spec.md §4.6: it is called exactly once
// per WSGITask and the result is cached on the task. A non-nil error
// is a malformed proxy header (spec.md §4.7); the caller renders it as
// a 500-class response.
func buildEnvironment(t *Task) (Environment, error) {
	req := t.Request
	path := normalizePath(req.Path)
	scriptName, pathInfo := splitScriptPath(path, t.Adj.URLPrefix)

	env := make(Environment, 32+len(req.Headers))
	env["REQUEST_METHOD"] = strings.ToUpper(req.Method)
	env["SERVER_PORT"] = strconv.Itoa(t.Server.EffectivePort())
	env["SERVER_NAME"] = t.Server.ServerName()
	env["SERVER_SOFTWARE"] = t.Adj.Ident
	env["SERVER_PROTOCOL"] = "HTTP/" + req.Version
	env["SCRIPT_NAME"] = scriptName
	env["PATH_INFO"] = pathInfo
	env["QUERY_STRING"] = req.Query

	peerHost := t.Channel.PeerHost()
	env["REMOTE_ADDR"] = peerHost
	env["REMOTE_HOST"] = peerHost

	for name, value := range req.Headers {
		v := strings.TrimSpace(value)
		if preservedHeaderNames[name] {
			env[name] = v
		} else {
			env["HTTP_"+name] = v
		}
	}

	env["wsgi.version"] = [2]int{1, 0}
	scheme := req.URLScheme
	if scheme == "" {
		scheme = t.Adj.URLScheme
	}
	env["wsgi.url_scheme"] = scheme
	env["wsgi.errors"] = os.Stderr
	env["wsgi.multithread"] = true
	env["wsgi.multiprocess"] = false
	env["wsgi.run_once"] = false
	env["wsgi.input"] = req.Body
	env["wsgi.file_wrapper"] = NewFileBuffer
	env["wsgi.input_terminated"] = true

	trusted := peerHost == t.Adj.TrustedProxy || t.Server.TrustedProxy()
	if trusted {
		if err := resolveProxyHeaders(t, env); err != nil {
			return env, err
		}
	} else {
		env["REMOTE_PORT"] = t.Channel.PeerPort()
	}

	return env, nil
}
