package db

import "time"

// Order is one journaled order placement.
type Order struct {
	OrderID   int64     `json:"order_id"`
	ParentID  int64     `json:"parent_id,omitempty"`
	ConID     int64     `json:"con_id,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Action    string    `json:"action"`
	OrderType string    `json:"order_type"`
	Qty       float64   `json:"qty"`
	LmtPrice  float64   `json:"lmt_price,omitempty"`
	AuxPrice  float64   `json:"aux_price,omitempty"`
	TIF       string    `json:"tif"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bracket is one bracket attempt. ChildID is 0 when the child failed.
type Bracket struct {
	ID        string    `json:"id"`
	ParentID  int64     `json:"parent_id"`
	ChildID   int64     `json:"child_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
