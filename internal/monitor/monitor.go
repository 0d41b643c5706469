package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trading-console/internal/events"
)

// Monitor watches the bus for conditions an operator must act on and
// forwards them to an AlertSink.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *Metrics
	Log     *zap.Logger
}

// Start runs until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	if m.Bus == nil || m.Sink == nil {
		log.Warn("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(64,
		events.EventBracketPartial,
		events.EventOrderRejected,
		events.EventConnectionState,
	)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				if st, ok := env.Payload.(events.ConnectionState); ok && m.Metrics != nil {
					m.Metrics.SetConnected(st.Connected)
				}
				msg, alert := formatAlert(env)
				if !alert {
					continue
				}
				if err := m.Sink.Send(msg); err != nil {
					log.Warn("alert_send_failed", zap.Error(err))
				}
			}
		}
	}()
}

func formatAlert(env events.Envelope) (string, bool) {
	var body string
	switch p := env.Payload.(type) {
	case events.BracketUpdate:
		body = fmt.Sprintf("bracket parent %d is live without its protective stop: %s", p.ParentID, p.Error)
	case events.OrderUpdate:
		body = fmt.Sprintf("order %d rejected (%d): %s", p.OrderID, p.Code, p.Message)
	case events.ConnectionState:
		if p.Connected {
			return "", false
		}
		body = "gateway disconnected: " + p.Reason
	default:
		return "", false
	}
	return "[" + env.At.Format(time.RFC3339) + "] " + body, true
}
