package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/vsthakur101/webapi-moderator/eventbus"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// handleWS streams event-bus events as {type, data} JSON and answers ping
// with pong.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(eventbus.DefaultQueueSize)
	defer sub.Close()

	done := make(chan struct{})
	pongs := make(chan struct{}, 4)

	// reader: pings and disconnect detection; all writes stay on the main
	// loop since the connection allows one concurrent writer
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "ping" {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-pongs:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		case ev := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
