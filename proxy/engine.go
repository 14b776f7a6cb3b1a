// Package proxy implements the HTTP/HTTPS intercepting proxy engine: the
// accept loop, CONNECT tunneling with on-the-fly TLS interception, the
// per-flow pipeline (rules, interception, upstream dispatch, recording),
// and WebSocket frame splicing.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/vsthakur101/webapi-moderator/cert"
	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/intercept"
	"github.com/vsthakur101/webapi-moderator/internal/helper"
	"github.com/vsthakur101/webapi-moderator/rules"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

// Engine states surfaced by Status.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StateError   = "error"
)

// Recorder persists finalized flows. Persist failures must not stop the
// data plane.
type Recorder interface {
	Record(f *flow.Flow)
}

// Options configures the Engine.
type Options struct {
	// BodySizeCap bounds recorded request/response bodies; larger bodies
	// are truncated with a flag.
	BodySizeCap int64
	// SslInsecure skips verification of upstream certificates.
	SslInsecure bool
	// UpstreamTimeout is the default outbound request timeout.
	UpstreamTimeout time.Duration
}

// Status is the engine's externally visible state.
type Status struct {
	State               string `json:"state"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Error               string `json:"error,omitempty"`
	InterceptEnabled    bool   `json:"intercept_enabled"`
	RequestsTotal       uint64 `json:"requests_total"`
	RequestsIntercepted uint64 `json:"requests_intercepted"`
	ActiveFlows         int64  `json:"active_flows"`
}

// Engine is the proxy engine. Exactly one instance runs per process.
type Engine struct {
	opts        Options
	ca          *cert.Store
	rules       *rules.Engine
	coordinator *intercept.Coordinator
	bus         *eventbus.Bus
	recorder    Recorder
	client      *upstream.Client

	mu       sync.Mutex
	state    string
	host     string
	port     int
	bindErr  string
	listener net.Listener
	server   *http.Server

	mitmServer *http.Server
	mitmLn     *chanListener
	mitmOnce   sync.Once

	requestsTotal       atomic.Uint64
	requestsIntercepted atomic.Uint64
	activeFlows         atomic.Int64
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(opts Options, ca *cert.Store, ruleEngine *rules.Engine, coordinator *intercept.Coordinator, bus *eventbus.Bus, recorder Recorder) *Engine {
	if opts.BodySizeCap <= 0 {
		opts.BodySizeCap = 10 * 1024 * 1024
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = upstream.DefaultTimeout
	}
	e := &Engine{
		opts:        opts,
		ca:          ca,
		rules:       ruleEngine,
		coordinator: coordinator,
		bus:         bus,
		recorder:    recorder,
		client: upstream.NewClient(upstream.Options{
			InsecureSkipVerify: opts.SslInsecure,
			Timeout:            opts.UpstreamTimeout,
		}),
		state:  StateStopped,
		mitmLn: newChanListener(),
	}
	e.mitmServer = &http.Server{
		Handler: http.HandlerFunc(e.serveMITM),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if mc, ok := c.(*mitmConn); ok {
				return context.WithValue(ctx, connInfoKey, mc.info)
			}
			return ctx
		},
	}
	return e
}

// UpstreamClient exposes the engine's outbound client for replay.
func (e *Engine) UpstreamClient() *upstream.Client {
	return e.client
}

// Start binds host:port and begins accepting connections. A bind failure
// moves the engine to the error state.
func (e *Engine) Start(host string, port int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		e.state = StateError
		e.bindErr = err.Error()
		e.publishStatusLocked()
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	e.mitmOnce.Do(func() {
		go func() {
			if err := e.mitmServer.Serve(e.mitmLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("mitm server stopped", "error", err)
			}
		}()
	})

	e.listener = ln
	e.host = host
	e.port = port
	e.bindErr = ""
	e.state = StateRunning
	e.server = &http.Server{Handler: e}

	srv := e.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("proxy server stopped", "error", err)
		}
	}()

	slog.Info("proxy listening", "addr", addr)
	e.publishStatusLocked()
	return nil
}

// Stop closes the listener. Pending intercept slots are released forward.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		e.state = StateStopped
		return nil
	}

	err := e.server.Close()
	e.server = nil
	e.listener = nil
	e.state = StateStopped
	e.coordinator.Shutdown()
	e.publishStatusLocked()
	return err
}

// Addr returns the bound listen address, empty when stopped.
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// Status reports the engine state and counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	return Status{
		State:               e.state,
		Host:                e.host,
		Port:                e.port,
		Error:               e.bindErr,
		InterceptEnabled:    e.coordinator.Enabled(),
		RequestsTotal:       e.requestsTotal.Load(),
		RequestsIntercepted: e.requestsIntercepted.Load(),
		ActiveFlows:         e.activeFlows.Load(),
	}
}

func (e *Engine) publishStatusLocked() {
	e.bus.Publish(eventbus.TopicProxyStatus, e.statusLocked())
}

// PublishStatus pushes the current status onto the event bus.
func (e *Engine) PublishStatus() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishStatusLocked()
}

// ServeHTTP routes proxied client requests.
func (e *Engine) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		e.handleConnect(w, req)
		return
	}

	if !req.URL.IsAbs() || req.URL.Host == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, "This is a proxy server, direct requests are not allowed")
		return
	}

	e.serveFlow(w, req, "http")
}

// serveMITM handles requests parsed on decrypted CONNECT streams.
func (e *Engine) serveMITM(w http.ResponseWriter, req *http.Request) {
	if req.URL.Scheme == "" {
		req.URL.Scheme = "https"
	}
	if req.URL.Host == "" {
		req.URL.Host = req.Host
	}
	e.serveFlow(w, req, "https")
}

// handleConnect replies 200, then decides between TLS interception and raw
// passthrough by peeking at the client's first bytes.
func (e *Engine) handleConnect(w http.ResponseWriter, req *http.Request) {
	logger := slog.With("in", "Engine.handleConnect", "host", req.Host)

	host, port := helper.SplitHostPort(req.Host, 443)

	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	cconn, _, err := hj.Hijack()
	if err != nil {
		logger.Error("hijack failed", "error", err)
		return
	}

	if _, err := cconn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		cconn.Close()
		return
	}

	pc := newPeekedConn(cconn)
	pc.SetReadDeadline(time.Now().Add(10 * time.Second))
	peek, err := pc.Peek(3)
	pc.SetReadDeadline(time.Time{})
	if err != nil {
		cconn.Close()
		logErr(logger, err)
		return
	}

	if !helper.IsTLS(peek) {
		// client speaks plain after CONNECT
		e.passthrough(pc, host, port, false)
		return
	}

	tlsConn := tls.Server(pc, &tls.Config{
		SessionTicketsDisabled: true,
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := chi.ServerName
			if name == "" {
				name = host
			}
			return e.ca.GetCert(name)
		},
	})
	if err := tlsConn.HandshakeContext(req.Context()); err != nil {
		cconn.Close()
		logErr(logger, err)
		return
	}

	dc := newPeekedConn(tlsConn)
	dc.SetReadDeadline(time.Now().Add(10 * time.Second))
	first, err := dc.Peek(8)
	dc.SetReadDeadline(time.Time{})
	if err != nil || !helper.LooksLikeHTTP(first) {
		// non-HTTP protocol inside the tunnel
		e.passthrough(dc, host, port, true)
		return
	}

	e.mitmLn.accept(&mitmConn{
		Conn: dc,
		info: connInfo{host: host, port: port},
	})
}

// passthrough forwards raw bytes bidirectionally without inspection,
// recording timing and host on a CONNECT flow.
func (e *Engine) passthrough(cconn net.Conn, host string, port int, viaTLS bool) {
	logger := slog.With("in", "Engine.passthrough", "host", host)
	start := time.Now()

	f := flow.New()
	f.Method = http.MethodConnect
	f.Scheme = "https"
	f.Host = host
	f.Port = port
	f.Path = "/"
	f.AddTag("passthrough")

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	var sconn net.Conn
	var err error
	if viaTLS {
		sconn, err = tls.Dial("tcp", addr, &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: e.opts.SslInsecure,
		})
	} else {
		sconn, err = net.DialTimeout("tcp", addr, 10*time.Second)
	}
	if err != nil {
		cconn.Close()
		f.Error = err.Error()
		f.DurationMs = time.Since(start).Milliseconds()
		f.Finish()
		e.record(f)
		logErr(logger, err)
		return
	}

	transfer(logger, sconn, cconn)

	f.DurationMs = time.Since(start).Milliseconds()
	f.Finish()
	e.record(f)
}

func (e *Engine) record(f *flow.Flow) {
	e.bus.Publish(eventbus.TopicNewRequest, f)
	if e.recorder != nil {
		e.recorder.Record(f)
	}
}
