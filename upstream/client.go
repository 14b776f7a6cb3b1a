// Package upstream performs the outbound HTTP requests for the proxy and
// the analyzer engines: pooled transports, per-request timeouts, opt-in
// redirect following, and SNI override for MITM legs.
package upstream

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout applies when a request carries no explicit timeout.
const DefaultTimeout = 30 * time.Second

const idleTimeout = 60 * time.Second

// Options configures a Client.
type Options struct {
	// InsecureSkipVerify skips upstream TLS verification.
	InsecureSkipVerify bool
	// Timeout is the default per-request timeout.
	Timeout time.Duration
}

// RequestOptions override Client defaults for one call.
type RequestOptions struct {
	Timeout         time.Duration
	FollowRedirects bool
	// ServerName overrides TLS SNI; needed when tunneling by IP.
	ServerName string
}

// Client is the outbound HTTP/1.1 client. Connections are pooled per
// (scheme, host, port) by the underlying transports, keyed additionally by
// SNI override.
type Client struct {
	opts Options

	mu         sync.Mutex
	transports map[string]*http.Transport
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		opts:       opts,
		transports: make(map[string]*http.Transport),
	}
}

func (c *Client) transport(serverName string) *http.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.transports[serverName]; ok {
		return t
	}
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.opts.InsecureSkipVerify,
			ServerName:         serverName,
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     idleTimeout,
		// bodies pass through unmodified; callers decode explicitly
		DisableCompression: true,
	}
	c.transports[serverName] = t
	return t
}

// Do dispatches req and returns a streaming response handle. The caller
// owns resp.Body.
func (c *Client) Do(ctx context.Context, req *http.Request, opts RequestOptions) (*http.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	client := &http.Client{
		Transport: c.transport(opts.ServerName),
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Close shuts down all pooled connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.transports {
		t.CloseIdleConnections()
	}
}

// cancelBody releases the request's timeout context when the body closes,
// so the deadline covers the full body read.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
