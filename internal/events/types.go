package events

import "time"

// Event enumerates high-level topics inside the console.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventOrderSubmitted  Event = "order.submitted"
	EventOrderAcked      Event = "order.acked"
	EventOrderStatus     Event = "order.status"
	EventOrderRejected   Event = "order.rejected"
	EventOrderCancelled  Event = "order.cancelled"
	EventBracketPlaced   Event = "bracket.placed"
	EventBracketPartial  Event = "bracket.partial"
	EventConnectionState Event = "connection.state"
	EventMarketDataError Event = "marketdata.error"
)

// PriceTick is published after a tick changes a snapshot.
type PriceTick struct {
	TickerID int64     `json:"ticker_id"`
	ConID    int64     `json:"con_id"`
	Symbol   string    `json:"symbol,omitempty"`
	Bid      float64   `json:"bid,omitempty"`
	Ask      float64   `json:"ask,omitempty"`
	Last     float64   `json:"last,omitempty"`
	Time     time.Time `json:"time"`
}

// OrderUpdate carries order acks, status changes and rejections.
type OrderUpdate struct {
	OrderID  int64   `json:"order_id"`
	ParentID int64   `json:"parent_id,omitempty"`
	Status   string  `json:"status,omitempty"`
	Filled   float64 `json:"filled,omitempty"`
	Code     int     `json:"code,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// BracketUpdate is published once per bracket attempt.
type BracketUpdate struct {
	ParentID int64  `json:"parent_id"`
	ChildID  int64  `json:"child_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ConnectionState reports session transitions.
type ConnectionState struct {
	Connected bool      `json:"connected"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// MarketDataError is a venue error tagged with a ticker id.
type MarketDataError struct {
	TickerID int64  `json:"ticker_id"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
}
