package proxy

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/flow"
)

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.Contains(strings.ToLower(req.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket performs the upstream handshake, upgrades the client
// side, and splices frames in both directions. Every frame is recorded on
// the parent flow and published; rules never touch frames.
func (e *Engine) handleWebSocket(w http.ResponseWriter, req *http.Request, f *flow.Flow, start time.Time) {
	logger := slog.With("in", "Engine.handleWebSocket", "host", f.Host)

	f.IsWebSocket = true
	if f.Scheme == "https" {
		f.Scheme = "wss"
	} else {
		f.Scheme = "ws"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		TLSClientConfig: &tls.Config{
			ServerName:         f.Host,
			InsecureSkipVerify: e.opts.SslInsecure,
		},
		NetDialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
	}

	upHeader := http.Header{}
	for _, field := range f.RequestHeaders {
		switch strings.ToLower(field.Name) {
		case "upgrade", "connection", "sec-websocket-key", "sec-websocket-version", "sec-websocket-extensions", "host":
			continue
		}
		upHeader.Add(field.Name, field.Value)
	}

	sconn, resp, err := dialer.DialContext(req.Context(), f.URL(), upHeader)
	if err != nil {
		f.Error = err.Error()
		logErr(logger, err)
		e.finalizeEarly(w, f, start, http.StatusBadGateway)
		return
	}
	defer sconn.Close()

	f.ResponseStatus = resp.StatusCode
	f.ResponseReason = statusReason(resp.Status)
	f.ResponseHeaders = flow.HeaderFromHTTP(resp.Header)

	cconn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		f.Error = err.Error()
		logErr(logger, err)
		f.DurationMs = time.Since(start).Milliseconds()
		e.record(f)
		return
	}
	defer cconn.Close()

	done := make(chan struct{}, 2)
	go e.spliceFrames(f, cconn, sconn, true, done)
	go e.spliceFrames(f, sconn, cconn, false, done)
	<-done

	f.DurationMs = time.Since(start).Milliseconds()
	e.record(f)
}

// spliceFrames copies frames src->dst, recording each one. A close frame
// or read error from either side ends the splice.
func (e *Engine) spliceFrames(f *flow.Flow, src, dst *websocket.Conn, fromClient bool, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		opcode, payload, err := src.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				e.recordFrame(f, websocket.CloseMessage, nil, fromClient)
				dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(ce.Code, ce.Text), time.Now().Add(time.Second))
			}
			return
		}

		e.recordFrame(f, opcode, payload, fromClient)

		if err := dst.WriteMessage(opcode, payload); err != nil {
			return
		}
	}
}

func (e *Engine) recordFrame(f *flow.Flow, opcode int, payload []byte, fromClient bool) {
	truncated := false
	if int64(len(payload)) > e.opts.BodySizeCap {
		payload = payload[:e.opts.BodySizeCap]
		truncated = true
	}

	msg := flow.WebSocketMessage{
		Opcode:     opcode,
		FromClient: fromClient,
		Payload:    append([]byte(nil), payload...),
		Truncated:  truncated,
		Timestamp:  time.Now().UTC(),
	}
	f.AddMessage(msg)

	e.bus.Publish(eventbus.TopicWebSocketMessage, map[string]any{
		"flow_id": f.ID.String(),
		"message": msg,
	})
}
