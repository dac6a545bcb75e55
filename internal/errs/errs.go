// Package errs defines the task engine's error taxonomy, following the
// namespaced-sentinel-plus-wrapping-type style used by
// ygrebnov-workers/errors.go and error_tagging.go.
package errs

import "errors"

const Namespace = "taskengine"

var (
	// ErrBodyBeforeComplete: write() called before complete was set
	// (spec.md §3 invariant, §4.2 write() step 1).
	ErrBodyBeforeComplete = errors.New(Namespace + ": response body written before task was marked complete")

	// ErrStartResponseCalledTwice: start_response invoked a second time
	// without exc_info (spec.md §4.4).
	ErrStartResponseCalledTwice = errors.New(Namespace + ": start_response called more than once without exc_info")

	// ErrHopByHopHeader: the application supplied a hop-by-hop header.
	ErrHopByHopHeader = errors.New(Namespace + ": hop-by-hop header supplied by application")

	// ErrInvalidStatusOrHeader: status/header text contained CR/LF or
	// was not textual.
	ErrInvalidStatusOrHeader = errors.New(Namespace + ": status or header is not a valid CRLF-free string")

	// ErrInvalidForwarded: a Forwarded "for" element failed to parse.
	ErrInvalidForwarded = errors.New(Namespace + ": invalid Forwarded header value")

	// ErrInvalidProto: a forwarded proto was not http/https.
	ErrInvalidProto = errors.New(Namespace + ": invalid forwarded proto, want http or https")

	// ErrInvalidAppIterable: the application returned neither a
	// *FileBuffer nor a ChunkIterator (spec.md §9 sum type).
	ErrInvalidAppIterable = errors.New(Namespace + ": application returned neither a file buffer nor a chunk iterable")
)

// ProgrammerError marks a contract violation by the hosted application:
// it is always a bug in the application, never a transient condition.
type ProgrammerError struct {
	Err error
}

func (e *ProgrammerError) Error() string { return e.Err.Error() }
func (e *ProgrammerError) Unwrap() error { return e.Err }

// NewProgrammerError wraps err (normally one of the sentinels above) as
// a ProgrammerError.
func NewProgrammerError(err error) error {
	if err == nil {
		return nil
	}
	return &ProgrammerError{Err: err}
}

// ProxyHeaderError marks a malformed Forwarded/X-Forwarded-* value; the
// layer above the core turns this into a 500-class ErrorTask (spec.md §7).
type ProxyHeaderError struct {
	Err   error
	Value string
}

func (e *ProxyHeaderError) Error() string {
	return e.Err.Error() + ": " + e.Value
}

func (e *ProxyHeaderError) Unwrap() error { return e.Err }

// NewProxyHeaderError wraps err with the offending raw value.
func NewProxyHeaderError(err error, value string) error {
	return &ProxyHeaderError{Err: err, Value: value}
}
