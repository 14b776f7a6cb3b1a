package proxy

import (
	"io"
	"log/slog"
	"strings"
)

var normalErrMsgs = []string{
	"read: connection reset by peer",
	"write: broken pipe",
	"i/o timeout",
	"net/http: TLS handshake timeout",
	"io: read/write on closed pipe",
	"connect: connection refused",
	"connect: connection reset by peer",
	"use of closed network connection",
	"context canceled",
}

// Only print unexpected error messages.
func logErr(logger *slog.Logger, err error) {
	msg := err.Error()

	for _, str := range normalErrMsgs {
		if strings.Contains(msg, str) {
			logger.Debug("normal error", "error", err)
			return
		}
	}

	logger.Error("unexpected error", "error", err)
}

// Transfer traffic. Returns the number of bytes copied in each direction.
func transfer(logger *slog.Logger, server, client io.ReadWriteCloser) (up, down int64) {
	done := make(chan struct{})
	defer close(done)

	type result struct {
		n   int64
		err error
	}
	upChan := make(chan result, 1)
	downChan := make(chan result, 1)

	go func() {
		n, err := io.Copy(server, client)
		client.Close()
		select {
		case <-done:
		case upChan <- result{n, err}:
		}
	}()
	go func() {
		n, err := io.Copy(client, server)
		server.Close()
		select {
		case <-done:
		case downChan <- result{n, err}:
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case r := <-upChan:
			up = r.n
			if r.err != nil {
				logErr(logger, r.err)
			}
		case r := <-downChan:
			down = r.n
			if r.err != nil {
				logErr(logger, r.err)
			}
		}
	}
	return up, down
}
