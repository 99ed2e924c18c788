// Package server constructs and runs the leaf-proxy host: the HTTP server plus
// the startup hooks that launch the TCP relays in the background.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StartupHook runs once, on its own goroutine, after the HTTP listener is
// bound. It should block until ctx is cancelled. A non-nil error stops the
// whole host.
type StartupHook func(ctx context.Context) error

// CreateServer creates and configures an HTTP server with the specified
// address, handler and timeouts.
func CreateServer(cfg HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Host runs an HTTP server and its startup hooks as one unit.
type Host struct {
	srv             *http.Server
	log             *zap.Logger
	shutdownTimeout time.Duration

	mu      sync.Mutex
	hooks   []StartupHook
	started bool
	addr    net.Addr
	ready   chan struct{}
}

// NewHost wraps srv.
func NewHost(srv *http.Server, shutdownTimeout time.Duration, log *zap.Logger) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{
		srv:             srv,
		log:             log.Named("host"),
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan struct{}),
	}
}

// OnStartup registers hook to run when the host becomes ready to serve.
// Hooks registered after Run has started are ignored.
func (h *Host) OnStartup(hook StartupHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		h.log.Warn("Ignoring startup hook registered after start")
		return
	}
	h.hooks = append(h.hooks, hook)
}

// Ready is closed once the HTTP listener is bound and the hooks are launched.
func (h *Host) Ready() <-chan struct{} { return h.ready }

// Addr returns the bound HTTP address, or nil before Ready.
func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Run binds the HTTP listener, launches every startup hook and serves until
// ctx is cancelled or a hook or the server fails. It may only be called once.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("host already started")
	}
	h.started = true
	hooks := append([]StartupHook(nil), h.hooks...)
	h.mu.Unlock()

	ln, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.srv.Addr, err)
	}

	h.mu.Lock()
	h.addr = ln.Addr()
	h.mu.Unlock()
	h.log.Info("Server listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, hook := range hooks {
		hook := hook
		g.Go(func() error { return hook(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return ShutdownServer(h.srv, h.shutdownTimeout, h.log)
	})

	close(h.ready)
	return g.Wait()
}

// ShutdownServer gracefully shuts down the HTTP server, waiting for active
// requests until the timeout is reached. Requests still running after the
// timeout are cut off and do not count as a failure.
func ShutdownServer(server *http.Server, timeout time.Duration, log *zap.Logger) error {
	log.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("HTTP server shutdown timed out, closing remaining connections",
				zap.Duration("timeout", timeout))
			if err := server.Close(); err != nil {
				log.Warn("HTTP server close error", zap.Error(err))
			}
			return nil
		}
		log.Warn("HTTP server shutdown error", zap.Error(err))
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
