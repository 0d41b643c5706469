package db

import (
	"context"

	"github.com/google/uuid"

	"trading-console/pkg/exchanges/common"
)

// Journal records order and bracket lifecycles for one session.
type Journal struct {
	db        *Database
	sessionID string
	batch     *BatchWriter
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithBatchWriter routes status updates through w instead of writing them
// inline. Placements and brackets are still written immediately.
func WithBatchWriter(w *BatchWriter) JournalOption {
	return func(j *Journal) { j.batch = w }
}

// NewJournal tags every order it writes with sessionID.
func NewJournal(d *Database, sessionID string, opts ...JournalOption) *Journal {
	j := &Journal{db: d, sessionID: sessionID}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RecordPlacement stores an order just before it is sent.
func (j *Journal) RecordPlacement(ctx context.Context, orderID int64, contract common.Contract, spec common.OrderSpec) error {
	return j.db.InsertOrder(ctx, Order{
		OrderID:   orderID,
		ParentID:  spec.ParentID,
		ConID:     contract.ConID,
		Symbol:    contract.Symbol,
		Action:    string(spec.Action),
		OrderType: string(spec.OrderType),
		Qty:       spec.TotalQty,
		LmtPrice:  spec.LmtPrice,
		AuxPrice:  spec.AuxPrice,
		TIF:       string(spec.TIF),
		SessionID: j.sessionID,
	})
}

// RecordStatus stores the latest venue status of an order.
func (j *Journal) RecordStatus(ctx context.Context, orderID int64, status string) error {
	if j.batch != nil {
		j.batch.Enqueue(orderID, status)
		return nil
	}
	return j.db.UpdateOrderStatus(ctx, orderID, status)
}

// RecordBracket stores a bracket attempt; cause is set for partial brackets.
func (j *Journal) RecordBracket(ctx context.Context, parentID, childID int64, status string, cause error) error {
	b := Bracket{
		ID:       uuid.NewString(),
		ParentID: parentID,
		ChildID:  childID,
		Status:   status,
	}
	if cause != nil {
		b.Error = cause.Error()
	}
	return j.db.InsertBracket(ctx, b)
}

// Orders lists journaled orders, newest first.
func (j *Journal) Orders(ctx context.Context, limit int) ([]Order, error) {
	return j.db.ListOrders(ctx, limit)
}

// Brackets lists journaled brackets, newest first.
func (j *Journal) Brackets(ctx context.Context, limit int) ([]Bracket, error) {
	return j.db.ListBrackets(ctx, limit)
}
