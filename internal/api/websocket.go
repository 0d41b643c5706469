package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trading-console/internal/events"
)

const (
	wsBuffer     = 256
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// streamTopics are forwarded to websocket clients.
var streamTopics = []events.Event{
	events.EventPriceTick,
	events.EventOrderAcked,
	events.EventOrderStatus,
	events.EventOrderRejected,
	events.EventOrderCancelled,
	events.EventBracketPlaced,
	events.EventBracketPartial,
	events.EventConnectionState,
	events.EventMarketDataError,
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams bus envelopes as JSON until the client goes away.
// Envelopes are dropped, not queued, when the client falls behind.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(wsBuffer, streamTopics...)
	defer unsub()

	// Reads only detect the close; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				s.log.Debug("ws_write_failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
