// Package channel realizes the task engine's external Channel and
// Server collaborators (spec.md §6): TCP accept loop, per-connection
// buffered I/O, request parsing, and handing completed requests to the
// dispatcher as Tasks. The buffered-writer-plus-sendfile-fast-path
// shape is grounded on the teacher's conn.go/response_server.go; the
// accept-loop-with-keep-alive-listener shape is grounded on its
// tcp_keep_alive_listener.go.
package channel

import (
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/badu/taskengine/internal/dispatcher"
	"github.com/badu/taskengine/internal/settings"
	"github.com/badu/taskengine/internal/taskengine"
)

// Server is the long-lived, read-mostly server context every Channel
// and Task reads identity and trust settings from (spec.md §6 "Server
// interface consumed").
type Server struct {
	Name           string
	Port           int
	TrustedProxyOn bool
	Adj            *settings.Settings
	App            taskengine.Application
	Dispatcher     *dispatcher.Dispatcher
	Log            zerolog.Logger
}

func (s *Server) ServerName() string   { return s.Name }
func (s *Server) EffectivePort() int   { return s.Port }
func (s *Server) TrustedProxy() bool   { return s.TrustedProxyOn }

// tcpKeepAliveListener wraps a *net.TCPListener to set keep-alive
// periods on every accepted connection, same shape as the teacher's
// tcp_keep_alive_listener.go.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// Serve accepts connections until ln.Accept fails (for example because
// ln was closed), running each connection's read/dispatch loop on its own
// goroutine (spec.md §5: the accept loop and the worker pool are
// different goroutines; handoff is exactly dispatcher.AddTask).
func (s *Server) Serve(ln net.Listener) error {
	if tl, ok := ln.(*net.TCPListener); ok {
		ln = tcpKeepAliveListener{tl}
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		ch := newChannel(conn, s)
		go ch.serve()
	}
}

// ListenAndServe binds host:port and calls Serve.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.Adj.Host, strconv.Itoa(s.Adj.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}
