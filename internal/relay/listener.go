package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PortPolicy decides what a Listener does when its port is already bound.
type PortPolicy string

const (
	// PortPolicyRetry moves to the next port and tries again.
	PortPolicyRetry PortPolicy = "retry"
	// PortPolicyFixed fails immediately. Use it behind a reverse proxy that
	// targets a pre-configured port.
	PortPolicyFixed PortPolicy = "fixed"
)

const maxPort = 65535

// ParsePortPolicy validates a configured policy name.
func ParsePortPolicy(s string) (PortPolicy, error) {
	switch p := PortPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PortPolicyRetry, PortPolicyFixed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown port policy %q", s)
	}
}

// ListenerConfig describes one relay endpoint.
type ListenerConfig struct {
	Name           string
	Host           string
	Port           int
	Policy         PortPolicy
	Mode           Mode
	ReadBufferSize int
	WriteTimeout   time.Duration
	ExcludeSender  bool
}

type bindState int

const (
	stateBinding bindState = iota
	stateConflictRetry
	stateBound
	stateFatal
)

func (s bindState) String() string {
	switch s {
	case stateBinding:
		return "binding"
	case stateConflictRetry:
		return "conflict-retry"
	case stateBound:
		return "bound"
	case stateFatal:
		return "fatal"
	}
	return "unknown"
}

// Listener binds one relay endpoint and hands every accepted connection to a
// new handler goroutine. There is no bound on concurrent connections.
type Listener struct {
	cfg      ListenerConfig
	log      *zap.Logger
	metrics  *Metrics
	registry *Registry
	handler  *Handler

	mu        sync.Mutex
	port      int
	ln        net.Listener
	conns     map[*Conn]struct{}
	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
}

// NewListener validates cfg and prepares a listener. Nothing is bound until
// Start.
func NewListener(cfg ListenerConfig, log *zap.Logger, metrics *Metrics) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Mode)
	}
	if cfg.Port < 0 || cfg.Port > maxPort {
		return nil, fmt.Errorf("relay %q: port %d out of range", cfg.Name, cfg.Port)
	}
	if _, err := ParsePortPolicy(string(cfg.Policy)); err != nil {
		return nil, fmt.Errorf("relay %q: %w", cfg.Name, err)
	}

	log = log.Named("relay").With(zap.String("relay", cfg.Name))

	var registry *Registry
	if cfg.Mode == ModeBroadcast {
		registry = NewRegistry(cfg.Name, log, metrics)
	}
	handler, err := NewHandler(cfg.Name, cfg.Mode, cfg.ReadBufferSize, cfg.ExcludeSender, registry, log, metrics)
	if err != nil {
		return nil, fmt.Errorf("relay %q: %w", cfg.Name, err)
	}

	return &Listener{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		registry: registry,
		handler:  handler,
		port:     cfg.Port,
		conns:    make(map[*Conn]struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// Config returns the configuration the listener was created with.
func (l *Listener) Config() ListenerConfig { return l.cfg }

// Registry returns the broadcast registry, or nil outside broadcast mode.
func (l *Listener) Registry() *Registry { return l.registry }

// Ready is closed once the listener is bound and accepting.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Bound reports whether Ready has fired.
func (l *Listener) Bound() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}

// Port returns the bound port, or the port currently being tried.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Addr returns the host:port the listener is bound to (or trying).
func (l *Listener) Addr() string {
	return net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.Port()))
}

// ActiveConnections returns the number of live connections.
func (l *Listener) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Start binds the endpoint and serves until ctx is cancelled, returning nil.
// A bind failure that the port policy does not recover is returned as a
// *BindError.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := l.bind(ctx)
	if err != nil {
		return err
	}
	return l.serve(ctx, ln)
}

// Wait blocks until every handler goroutine has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) bind(ctx context.Context) (net.Listener, error) {
	var (
		lc      net.ListenConfig
		ln      net.Listener
		lastErr error
		bindErr error
		state   = stateBinding
		port    = l.cfg.Port
	)

	for {
		switch state {
		case stateBinding:
			l.setPort(port)
			addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(port))
			ln, lastErr = lc.Listen(ctx, "tcp", addr)
			switch {
			case lastErr == nil:
				state = stateBound
			case IsAddrInUse(lastErr) && l.cfg.Policy == PortPolicyRetry:
				state = stateConflictRetry
			case IsAddrInUse(lastErr):
				bindErr = &BindError{Relay: l.cfg.Name, Addr: addr, Port: port, Policy: l.cfg.Policy, Conflict: true, Err: lastErr}
				state = stateFatal
			default:
				bindErr = &BindError{Relay: l.cfg.Name, Addr: addr, Port: port, Err: lastErr}
				state = stateFatal
			}

		case stateConflictRetry:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if port >= maxPort {
				bindErr = &BindError{
					Relay:    l.cfg.Name,
					Addr:     net.JoinHostPort(l.cfg.Host, strconv.Itoa(port)),
					Port:     port,
					Policy:   l.cfg.Policy,
					Conflict: true,
					Err:      fmt.Errorf("no ports left to try: %w", lastErr),
				}
				state = stateFatal
				continue
			}
			l.log.Warn("Port in use, trying next port",
				zap.Int("port", port),
				zap.Int("next_port", port+1))
			l.metrics.bindRetried(l.cfg.Name)
			port++
			state = stateBinding

		case stateBound:
			l.mu.Lock()
			l.ln = ln
			l.port = ln.Addr().(*net.TCPAddr).Port
			l.mu.Unlock()
			l.readyOnce.Do(func() { close(l.ready) })
			l.log.Info("Relay listening",
				zap.String("addr", ln.Addr().String()),
				zap.String("mode", string(l.cfg.Mode)),
				zap.String("policy", string(l.cfg.Policy)))
			return ln, nil

		case stateFatal:
			l.log.Error("Failed to bind relay", zap.Error(bindErr))
			return nil, bindErr
		}
	}
}

func (l *Listener) setPort(port int) {
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
}

func (l *Listener) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.log.Warn("Error closing listener", zap.Error(err))
		}
	})
	defer stop()
	defer l.closeConnections()

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.log.Info("Relay stopped")
				return nil
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			l.log.Warn("Accept error; retrying", zap.Error(err), zap.Duration("delay", tempDelay))
			select {
			case <-time.After(tempDelay):
			case <-ctx.Done():
			}
			continue
		}
		tempDelay = 0

		conn := NewConn(c, l.cfg.WriteTimeout)
		l.track(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrack(conn)
			l.handler.Handle(conn)
		}()
	}
}

func (l *Listener) track(c *Conn) {
	l.mu.Lock()
	l.conns[c] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(c *Conn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
}

// closeConnections drops every live connection without draining.
func (l *Listener) closeConnections() {
	l.mu.Lock()
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if len(conns) > 0 {
		l.log.Info("Closed client connections", zap.Int("count", len(conns)))
	}
}
