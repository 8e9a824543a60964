package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"example.com/gciserve/internal/config"
	"example.com/gciserve/internal/logger"
	"example.com/gciserve/internal/util"
)

// ErrServerClosed is returned by Serve after Shutdown has been called.
var ErrServerClosed = errors.New("server closed")

// Server owns the listening socket and runs one detached goroutine per
// accepted connection. Nothing bounds the number of goroutines unless
// server.max_connections is set.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	handler ConnHandler

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	conns    sync.WaitGroup
	active   atomic.Int64

	shutdownOnce sync.Once
	doneChan     chan struct{}
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, lg *logger.Logger, handler ConnHandler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("connection handler cannot be nil")
	}
	if cfg.Server == nil || cfg.Server.Address == nil {
		return nil, fmt.Errorf("server listen address (server.address) is not configured")
	}
	return &Server{
		cfg:      cfg,
		log:      lg,
		handler:  handler,
		doneChan: make(chan struct{}),
	}, nil
}

// Start listens on the configured address and serves until SIGINT or SIGTERM
// triggers a graceful shutdown. SIGHUP reopens file log targets.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	maxConns := 0
	if s.cfg.Server.MaxConnections != nil {
		maxConns = *s.cfg.Server.MaxConnections
	}
	ln, err := util.CreateListener(*s.cfg.Server.Address, maxConns)
	if err != nil {
		if util.IsAddrInUse(err) {
			s.log.Error("Listen address already in use", logger.LogFields{"address": *s.cfg.Server.Address})
		}
		return err
	}
	s.log.Info("Listening", logger.LogFields{"address": ln.Addr().String(), "max_connections": maxConns})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	stopSignals := make(chan struct{})
	shutdownDone := make(chan error, 1)
	go s.handleSignals(sigs, stopSignals, shutdownDone)

	err = s.Serve(ln)
	close(stopSignals)
	if errors.Is(err, ErrServerClosed) {
		select {
		case shutdownErr := <-shutdownDone:
			return shutdownErr
		default:
			// Shutdown was called directly rather than through a signal.
			return nil
		}
	}
	return err
}

func (s *Server) handleSignals(sigs <-chan os.Signal, stop <-chan struct{}, shutdownDone chan<- error) {
	for {
		select {
		case <-stop:
			return
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				} else {
					s.log.Info("Reopened log files", nil)
				}
				continue
			}
			s.log.Info("Shutdown signal received", logger.LogFields{"signal": sig.String()})
			ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
			err := s.Shutdown(ctx)
			cancel()
			shutdownDone <- err
			return
		}
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.GracefulShutdownTimeout != nil {
		return s.cfg.Server.GracefulShutdownTimeout.Duration
	}
	return config.DefaultGracefulShutdownTimeout
}

// Serve accepts connections on ln until the listener fails permanently or
// Shutdown is called. Each connection is handed to the ConnHandler on its own
// goroutine and closed once the handler returns.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			if util.IsTemporaryAcceptError(err) {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.log.Warn("Accept failed; retrying", logger.LogFields{"error": err.Error(), "retry_in": backoff.String()})
				time.Sleep(backoff)
				continue
			}
			s.log.Error("Accept failed permanently", logger.LogFields{"error": err.Error()})
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
		backoff = 0

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.conns.Add(1)
		s.mu.Unlock()

		go s.serveConn(conn)
	}
}

// serveConn is the per-connection execution context. A panic in the handler
// is contained here so that neither the accept loop nor other connections
// are affected.
func (s *Server) serveConn(conn net.Conn) {
	s.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Panic while serving connection", logger.LogFields{
				"remote_addr": conn.RemoteAddr().String(),
				"panic":       fmt.Sprint(r),
				"stack":       string(debug.Stack()),
			})
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("Error closing connection", logger.LogFields{"remote_addr": conn.RemoteAddr().String(), "error": err.Error()})
		}
		s.active.Add(-1)
		s.conns.Done()
	}()
	s.handler.ServeConn(conn)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Addr returns the listener's address, or nil before Serve has been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections reports how many connections are currently being served.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Shutdown stops accepting, then waits for in-flight connections to finish or
// for ctx to expire. Connections still running when ctx expires are left to
// finish on their own; nothing cancels them.
func (s *Server) Shutdown(ctx context.Context) error {
	var closeErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		ln := s.listener
		s.mu.Unlock()
		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				closeErr = fmt.Errorf("failed to close listener: %w", err)
			}
		}
		go func() {
			s.conns.Wait()
			close(s.doneChan)
		}()
	})
	if closeErr != nil {
		return closeErr
	}

	select {
	case <-s.doneChan:
		s.log.Info("All connections finished", nil)
		return nil
	case <-ctx.Done():
		s.log.Warn("Shutdown timed out with connections still active", logger.LogFields{"active": s.ActiveConnections()})
		return ctx.Err()
	}
}
