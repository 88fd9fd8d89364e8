package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/otpgate/internal/ratelimit"
	"github.com/desertthunder/otpgate/internal/session"
	"github.com/desertthunder/otpgate/internal/shared"
)

const (
	DefaultPortStart    = 8080
	DefaultPortEnd      = 8090
	DefaultLockout      = 5 * time.Minute
	DefaultStopDeadline = 5 * time.Second
)

// GatewayOpts contains configuration options for creating a Gateway.
type GatewayOpts struct {
	Host          string // empty: discover the outbound IPv4 address
	PortStart     int
	PortEnd       int
	Limiter       *ratelimit.Limiter
	Throttle      *ratelimit.Throttle
	LockoutWindow time.Duration
	Logger        *log.Logger
}

// Gateway serves one verification session on an ephemeral local port.
type Gateway struct {
	ctrl     *session.Controller
	opts     GatewayOpts
	handlers *gatewayHandlers
	logger   *log.Logger

	mu   sync.Mutex
	srv  *http.Server
	addr *net.TCPAddr
	url  string
	done chan struct{}
}

// NewGateway creates a [Gateway] for ctrl. Nothing is bound until [Gateway.Start].
func NewGateway(ctrl *session.Controller, opts GatewayOpts) *Gateway {
	if opts.PortStart == 0 && opts.PortEnd == 0 {
		opts.PortStart, opts.PortEnd = DefaultPortStart, DefaultPortEnd
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(ratelimit.DefaultPerMinute, ratelimit.DefaultPerHour)
	}
	if opts.Throttle == nil {
		opts.Throttle = ratelimit.NewThrottle(0)
	}
	if opts.LockoutWindow <= 0 {
		opts.LockoutWindow = DefaultLockout
	}

	logger := shared.WithLogger(opts.Logger, "component", "gateway")
	return &Gateway{
		ctrl:   ctrl,
		opts:   opts,
		logger: logger,
		handlers: &gatewayHandlers{
			ctrl:     ctrl,
			limiter:  opts.Limiter,
			throttle: opts.Throttle,
			lockout:  opts.LockoutWindow,
			logger:   logger,
		},
	}
}

// Handler returns the gateway's routes wrapped in its middleware.
func (g *Gateway) Handler() http.Handler {
	h := g.handlers
	r := NewBasicRouter()
	r.Use(Recoverer(g.logger), RequestLogger(g.logger), NoStore)

	r.Handle(http.MethodGet, "/{$}", h.page("index.html"))
	r.Handle(http.MethodGet, "/success", h.page("success.html"))
	r.Handle(http.MethodGet, "/styles.css", http.HandlerFunc(h.styles))
	r.Handle(http.MethodGet, "/status", http.HandlerFunc(h.status))
	r.Handle(http.MethodPost, "/submit_2fa", http.HandlerFunc(h.submit))
	r.Handle(http.MethodPost, "/request_new_2fa", http.HandlerFunc(h.requestNew))

	return r
}

// Start binds the first free port in range and serves in a background goroutine.
//
// The session clock restarts once the port is bound. Bind failures wrap [shared.ErrBindFailed].
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.srv != nil {
		return shared.ErrAlreadyStarted
	}

	host := g.opts.Host
	if host == "" {
		host = shared.LocalIPv4()
	}

	ln, err := shared.ListenInRange(host, g.opts.PortStart, g.opts.PortEnd)
	if err != nil {
		g.logger.Error("failed to bind gateway", "host", host, "error", err)
		return err
	}

	g.ctrl.RefreshSession()

	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          g.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.WarnLevel}),
	}
	done := make(chan struct{})

	g.srv = srv
	g.done = done
	g.addr, _ = ln.Addr().(*net.TCPAddr)
	g.url = "http://" + ln.Addr().String()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway stopped unexpectedly", "error", err)
		}
	}()

	g.logger.Info("gateway listening", "url", g.url)
	return nil
}

// URL returns the base URL of the running gateway, or "" before Start.
func (g *Gateway) URL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.url
}

// Addr returns the bound TCP address, or nil before Start.
func (g *Gateway) Addr() *net.TCPAddr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Stop shuts the server down and waits at most deadline for the serve goroutine.
//
// If the goroutine does not finish in time, connections are force-closed and Stop
// returns anyway so the caller is never held hostage by a stuck client.
func (g *Gateway) Stop(deadline time.Duration) error {
	g.mu.Lock()
	srv, done := g.srv, g.done
	g.srv, g.done = nil, nil
	g.mu.Unlock()

	if srv == nil {
		return shared.ErrNotStarted
	}
	if deadline <= 0 {
		deadline = DefaultStopDeadline
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	shutdownErr := srv.Shutdown(ctx)

	select {
	case <-done:
	case <-ctx.Done():
	}

	if shutdownErr != nil {
		g.logger.Warn("gateway did not stop in time; closing connections", "error", shutdownErr)
		srv.Close()
		return fmt.Errorf("gateway shutdown: %w", shutdownErr)
	}

	g.logger.Info("gateway stopped")
	return nil
}
