package taskengine

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/badu/taskengine/internal/errs"
	"github.com/badu/taskengine/internal/settings"
)

// NewWSGITask builds a Task whose execute step drives app through the
// streaming response protocol of spec.md §4.4.
func NewWSGITask(ch Channel, srv Server, req *Request, adj *settings.Settings, log zerolog.Logger, app Application) *Task {
	t := newTask(ch, srv, req, adj, log)
	t.execute = func() error { return wsgiExecute(t, app) }
	return t
}

func wsgiExecute(t *Task, app Application) error {
	env, err := buildEnvironment(t)
	if err != nil {
		return renderError(t, 500, "Internal Server Error", err.Error())
	}

	result, err := app(env, makeStartResponse(t))
	if err != nil {
		return err
	}

	switch v := result.(type) {
	case *FileBuffer:
		return serveFileBuffer(t, v)
	case ChunkIterator:
		return iterateChunks(t, v)
	default:
		return errs.NewProgrammerError(errs.ErrInvalidAppIterable)
	}
}

func serveFileBuffer(t *Task, fb *FileBuffer) error {
	size := fb.Size()
	stripContentLengthHeaders(t)
	t.ContentLength = &size

	if err := t.Write(nil); err != nil {
		return err
	}
	if _, err := t.Channel.WriteSoon(fb); err != nil {
		t.CloseOnFinish = true
		if t.Adj.LogSocketErrors {
			return err
		}
	}
	return nil
}

func iterateChunks(t *Task, it ChunkIterator) error {
	defer it.Close()

	lr, hasLen := it.(LenReporter)
	firstNonEmpty := true

	for {
		chunk, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if len(chunk) == 0 {
			continue
		}
		if firstNonEmpty && t.ContentLength == nil && hasLen && lr.Len() == 1 {
			n := int64(len(chunk))
			t.ContentLength = &n
		}
		firstNonEmpty = false
		if err := t.Write(chunk); err != nil {
			return err
		}
	}

	if t.ContentLength != nil && t.ContentBytesWritten < *t.ContentLength && !strings.EqualFold(t.Request.Method, "HEAD") {
		t.Log.Warn().
			Int64("content_length", *t.ContentLength).
			Int64("written", t.ContentBytesWritten).
			Msg("taskengine: application wrote fewer bytes than declared")
		t.CloseOnFinish = true
	}
	return nil
}

func stripContentLengthHeaders(t *Task) {
	kept := t.ResponseHeaders[:0]
	for _, kv := range t.ResponseHeaders {
		if strings.EqualFold(kv[0], "Content-Length") {
			continue
		}
		kept = append(kept, kv)
	}
	t.ResponseHeaders = kept
}

// makeStartResponse implements spec.md §4.4's start_response contract.
func makeStartResponse(t *Task) StartResponseFunc {
	var calledOnce bool

	return func(status string, headers [][2]string, excInfo error) (WriteFunc, error) {
		if calledOnce && excInfo == nil {
			return nil, errs.NewProgrammerError(errs.ErrStartResponseCalledTwice)
		}
		if excInfo != nil {
			if t.WroteHeader {
				return nil, excInfo
			}
			t.ResponseHeaders = nil
		}

		if containsCRLF(status) {
			return nil, errs.NewProgrammerError(errs.ErrInvalidStatusOrHeader)
		}
		for _, kv := range headers {
			if containsCRLF(kv[0]) || containsCRLF(kv[1]) {
				return nil, errs.NewProgrammerError(errs.ErrInvalidStatusOrHeader)
			}
			if hopByHop[strings.ToLower(kv[0])] {
				return nil, errs.NewProgrammerError(errs.ErrHopByHopHeader)
			}
		}

		for _, kv := range headers {
			if strings.EqualFold(kv[0], "Content-Length") {
				if n, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64); err == nil {
					t.ContentLength = &n
				}
			}
		}

		t.Status = status
		for _, kv := range headers {
			t.AddHeader(kv[0], kv[1])
		}
		t.Complete = true
		calledOnce = true
		return t.Write, nil
	}
}
