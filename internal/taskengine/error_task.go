package taskengine

import (
	"strconv"

	"github.com/rs/zerolog"

	"github.com/badu/taskengine/internal/settings"
)

// NewErrorTask builds a Task that renders a parser- or core-detected
// failure as a plain-text response (spec.md §4.5). complete is true
// from construction; execute only has to write the body.
func NewErrorTask(ch Channel, srv Server, req *Request, adj *settings.Settings, log zerolog.Logger, code int, reason, body string) *Task {
	t := newTask(ch, srv, req, adj, log)
	t.execute = func() error { return renderError(t, code, reason, body) }
	return t
}

// renderError implements spec.md §4.5's body template and header set.
// It is also used by WSGITask.execute when proxy-header parsing fails
// (spec.md §7: "surfacing as a 500-class ErrorTask at the layer above
// the core").
func renderError(t *Task, code int, reason, body string) error {
	full := reason + "\r\n\r\n" + body + "\r\n\r\n(generated by waitress)"

	t.forceClose = true
	t.Status = strconv.Itoa(code) + " " + reason
	n := int64(len(full))
	t.ContentLength = &n
	t.AddHeader("Content-Type", "text/plain")
	t.Complete = true

	return t.Write([]byte(full))
}
