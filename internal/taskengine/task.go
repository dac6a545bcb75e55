// Package taskengine implements the request-processing core: the Task
// state machine (start/execute/finish, chunked framing, connection
// lifecycle), the ResponseBuilder, the EnvironmentBuilder and the
// ProxyHeaderResolver. It is the spec-correct, wire-level half of the
// server; internal/dispatcher supplies the worker pool that runs a
// Task's Service method, and internal/channel supplies the concrete
// Channel this package only consumes as an interface.
package taskengine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/badu/taskengine/internal/errs"
	"github.com/badu/taskengine/internal/settings"
)

// Channel is the per-connection collaborator a Task writes through
// (spec.md §6 "Channel interface consumed"). payload is either []byte
// or *FileBuffer.
type Channel interface {
	WriteSoon(payload interface{}) (int, error)
	PeerHost() string
	PeerPort() string
}

// Server is the server-wide collaborator a Task reads identity and
// trust settings from (spec.md §6 "Server interface consumed").
type Server interface {
	ServerName() string
	EffectivePort() int
	TrustedProxy() bool
}

// Task is the common state machine shared by WSGITask and ErrorTask
// (spec.md §3 "Task"). The zero value is not usable; build one with
// newTask.
type Task struct {
	Channel Channel
	Server  Server
	Request *Request
	Adj     *settings.Settings
	Log     zerolog.Logger

	Status              string
	WroteHeader         bool
	StartTime           time.Time
	ContentLength       *int64
	ContentBytesWritten int64
	CloseOnFinish       bool
	Complete            bool
	ChunkedResponse     bool
	ResponseHeaders     [][2]string

	loggedWriteExcess       bool
	loggedWriteNoBody       bool
	loggedMultiProxyHeaders bool

	// execute is the variant-specific step of Service: WSGITask and
	// ErrorTask each supply their own closure over this same Task.
	execute func() error

	// forceClose marks an ErrorTask, whose connection-lifecycle
	// announcement rules differ from the general table (spec.md §4.5).
	forceClose bool

	// Done, if set by the channel, is closed once Service returns so a
	// connection's read loop can wait for its in-flight task to finish
	// before deciding whether to read the next pipelined request.
	Done chan struct{}
}

func newTask(ch Channel, srv Server, req *Request, adj *settings.Settings, log zerolog.Logger) *Task {
	return &Task{
		Channel: ch,
		Server:  srv,
		Request: req,
		Adj:     adj,
		Log:     log,
		Status:  "200 OK",
	}
}

// AddHeader appends a response header, preserving duplicate insertion
// order (spec.md §3 response_headers).
func (t *Task) AddHeader(name, value string) {
	t.ResponseHeaders = append(t.ResponseHeaders, [2]string{name, value})
}

// Defer runs on the enqueuing goroutine before the task is made
// visible to any worker. The core Task has no accounting hooks of its
// own; it exists so Task satisfies dispatcher.Task.
func (t *Task) Defer() error { return nil }

// Cancel is invoked instead of Service when the task never runs
// (spec.md §3 lifecycle). It performs no I/O.
func (t *Task) Cancel() {
	t.CloseOnFinish = true
	if t.Done != nil {
		close(t.Done)
	}
}

// Service runs start, the variant's execute, then finish, exactly
// once, on whichever worker dequeued this task. If execute fails,
// finish is skipped (no prologue or chunk terminator is flushed on the
// task's behalf) and the connection is marked to close.
func (t *Task) Service() error {
	t.start()
	err := t.execute()
	if err == nil {
		err = t.finish()
	} else {
		t.CloseOnFinish = true
	}
	if t.Done != nil {
		close(t.Done)
	}
	return err
}

func (t *Task) start() {
	t.StartTime = time.Now()
}

// finish guarantees the prologue is flushed even for a zero-byte
// response, and emits the chunked terminator when applicable
// (spec.md §4.2).
func (t *Task) finish() error {
	if !t.WroteHeader {
		if err := t.Write(nil); err != nil {
			return err
		}
	}
	if t.ChunkedResponse {
		if _, err := t.Channel.WriteSoon([]byte("0\r\n\r\n")); err != nil {
			t.CloseOnFinish = true
			if t.Adj.LogSocketErrors {
				return err
			}
		}
	}
	return nil
}

// Write implements spec.md §4.2's write(data): the body-accounting,
// chunk-framing and content-length-truncation rules shared by every
// task variant.
func (t *Task) Write(data []byte) error {
	if !t.Complete {
		return errs.NewProgrammerError(errs.ErrBodyBeforeComplete)
	}

	if !t.WroteHeader {
		if err := t.writeHeader(); err != nil {
			return err
		}
	}

	hasBody := bodyAllowedForStatus(t.Status)
	if !hasBody {
		if len(data) > 0 && !t.loggedWriteNoBody {
			t.loggedWriteNoBody = true
			t.Log.Warn().Str("status", t.Status).Msg("taskengine: body bytes dropped, status forbids a body")
		}
		t.ContentBytesWritten += int64(len(data))
		return nil
	}

	if len(data) == 0 {
		return nil
	}

	toWrite := data
	if t.ContentLength != nil {
		remaining := *t.ContentLength - t.ContentBytesWritten
		if remaining < 0 {
			remaining = 0
		}
		if int64(len(toWrite)) > remaining {
			if !t.loggedWriteExcess {
				t.loggedWriteExcess = true
				t.Log.Warn().Int64("content_length", *t.ContentLength).Msg("taskengine: application wrote past declared content length")
			}
			toWrite = toWrite[:remaining]
		}
	}
	t.ContentBytesWritten += int64(len(toWrite))
	if len(toWrite) == 0 {
		return nil
	}

	var payload []byte
	if t.ChunkedResponse {
		payload = make([]byte, 0, len(toWrite)+16)
		payload = append(payload, fmt.Sprintf("%X\r\n", len(toWrite))...)
		payload = append(payload, toWrite...)
		payload = append(payload, "\r\n"...)
	} else {
		payload = toWrite
	}

	if _, err := t.Channel.WriteSoon(payload); err != nil {
		t.CloseOnFinish = true
		if t.Adj.LogSocketErrors {
			return err
		}
	}
	return nil
}

func (t *Task) writeHeader() error {
	t.WroteHeader = true

	reqConnection := ""
	if t.Request != nil {
		reqConnection = lowerASCII(t.Request.Header("CONNECTION"))
	}
	version := "1.0"
	if t.Request != nil {
		version = t.Request.Version
	}

	prologue, closeOnFinish, chunked, synthesized := buildResponse(
		version, reqConnection, t.ResponseHeaders, t.Status, t.ContentLength, t.Adj.Ident, t.StartTime, t.forceClose,
	)
	if closeOnFinish {
		t.CloseOnFinish = true
	}
	t.ChunkedResponse = chunked
	if synthesized != nil {
		t.ContentLength = synthesized
	}

	if _, err := t.Channel.WriteSoon(prologue); err != nil {
		t.CloseOnFinish = true
		if t.Adj.LogSocketErrors {
			return err
		}
	}
	return nil
}

func lowerASCII(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
