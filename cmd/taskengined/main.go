// Command taskengined runs the task engine behind a plain TCP
// listener: flag parsing, YAML config load, zerolog setup, listener
// bring-up, and signal-driven graceful shutdown, grounded on the
// flag-based CLI shape used across the example pack's cmd/ entries.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/badu/taskengine/internal/channel"
	"github.com/badu/taskengine/internal/dispatcher"
	"github.com/badu/taskengine/internal/settings"
	"github.com/badu/taskengine/internal/taskengine"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML settings file (defaults used if empty)")
		verbose    = flag.Bool("verbose", false, "enable debug-level logging")
		shutdownS  = flag.Int("shutdown-timeout", 30, "seconds to wait for in-flight tasks to drain on shutdown")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	adj, err := settings.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("taskengined: loading settings")
	}

	disp := dispatcher.New(log, nil)
	disp.SetThreadCount(adj.Threads)

	srv := &channel.Server{
		Name:           adj.Ident,
		Port:           adj.Port,
		TrustedProxyOn: false,
		Adj:            adj,
		App:            helloApplication,
		Dispatcher:     disp,
		Log:            log,
	}

	addr := net.JoinHostPort(adj.Host, strconv.Itoa(adj.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("taskengined: listen")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info().Str("addr", addr).Int("threads", adj.Threads).Msg("taskengined: serving")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("taskengined: listener stopped")
	case <-ctx.Done():
		log.Info().Msg("taskengined: shutdown signal received")
	}

	ln.Close()
	if ok := disp.Shutdown(true, time.Duration(*shutdownS)*time.Second); !ok {
		log.Warn().Msg("taskengined: shutdown timed out with tasks still in flight")
	}
}

// helloApplication is the default hosted callable when none is wired
// in through embedding this module; it exists so the binary is
// runnable standalone. Real deployments replace App with their own
// taskengine.Application.
func helloApplication(env taskengine.Environment, start taskengine.StartResponseFunc) (interface{}, error) {
	body := []byte(fmt.Sprintf("hello from %v %v\n", env["REQUEST_METHOD"], env["PATH_INFO"]))
	write, err := start("200 OK", [][2]string{{"Content-Type", "text/plain"}}, nil)
	if err != nil {
		return nil, err
	}
	if err := write(body); err != nil {
		return nil, err
	}
	return &staticChunks{}, nil
}

// staticChunks is an already-exhausted ChunkIterator: helloApplication
// writes directly through the WriteFunc returned by start_response, so
// the iterable WSGITask.execute drains afterward is empty.
type staticChunks struct{}

func (s *staticChunks) Next() ([]byte, bool, error) { return nil, false, nil }
func (s *staticChunks) Close() error                { return nil }
