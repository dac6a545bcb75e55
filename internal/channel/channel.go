package channel

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/badu/taskengine/internal/taskengine"
)

// Channel owns one accepted net.Conn (spec.md glossary "Channel").
// writeSoon is the only way a Task touches the wire.
type Channel struct {
	conn   net.Conn
	srv    *Server
	reader *bufio.Reader
	writer *bufio.Writer

	peerHost string
	peerPort string
}

func newChannel(conn net.Conn, srv *Server) *Channel {
	host, port := splitAddr(conn.RemoteAddr().String())
	return &Channel{
		conn:     conn,
		srv:      srv,
		reader:   bufio.NewReaderSize(conn, srv.Adj.RecvBytes),
		writer:   bufio.NewWriterSize(conn, srv.Adj.SendBytes),
		peerHost: host,
		peerPort: port,
	}
}

func splitAddr(addr string) (host, port string) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return h, p
}

func (c *Channel) PeerHost() string { return c.peerHost }
func (c *Channel) PeerPort() string { return c.peerPort }

// WriteSoon implements spec.md §6's write_soon: []byte goes through
// the buffered writer; a *taskengine.FileBuffer is flushed through
// first, then io.Copy'd straight from its *os.File to the net.Conn so
// Go's runtime can take the sendfile(2) fast path via io.ReaderFrom
// (spec.md §9/SPEC_FULL.md §4.8). Per spec.md §4.4 step 7, handing a
// FileBuffer to write_soon transfers ownership of its file to the
// channel, so the channel closes it once the copy finishes.
func (c *Channel) WriteSoon(payload interface{}) (int, error) {
	switch v := payload.(type) {
	case []byte:
		n, err := c.writer.Write(v)
		if err != nil {
			return n, err
		}
		return n, c.writer.Flush()
	case *taskengine.FileBuffer:
		if err := c.writer.Flush(); err != nil {
			return 0, err
		}
		n, err := io.Copy(c.conn, v.File())
		closeErr := v.File().Close()
		if err == nil {
			err = closeErr
		}
		return int(n), err
	default:
		return 0, nil
	}
}

// serve runs the per-connection read/dispatch loop: parse one request,
// build the matching Task variant, hand it to the dispatcher, wait for
// it to finish, then either read the next pipelined request or close,
// per task.CloseOnFinish (spec.md §3 lifecycle).
func (c *Channel) serve() {
	defer c.conn.Close()

	for {
		if d := c.srv.Adj.ChannelTimeout; d > 0 {
			c.conn.SetReadDeadline(time.Now().Add(time.Duration(d) * time.Second))
		}

		req, parseErr := readRequest(c.reader, c.srv.Adj)
		if parseErr == io.EOF {
			return
		}

		var task *taskengine.Task
		if req.Error != nil {
			task = taskengine.NewErrorTask(c, c.srv, req, c.srv.Adj, c.srv.Log, req.Error.Code, req.Error.Reason, req.Error.Body)
		} else {
			task = taskengine.NewWSGITask(c, c.srv, req, c.srv.Adj, c.srv.Log, c.srv.App)
		}

		task.Done = make(chan struct{})

		if err := c.srv.Dispatcher.AddTask(task); err != nil {
			c.srv.Log.Error().Err(err).Msg("channel: enqueue failed")
			return
		}
		<-task.Done

		if task.CloseOnFinish {
			return
		}
	}
}
