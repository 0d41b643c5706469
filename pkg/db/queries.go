package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

const defaultListLimit = 100

const orderColumns = `order_id, parent_id, con_id, symbol, action, order_type, qty,
	lmt_price, aux_price, tif, status, session_id, created_at, updated_at`

// InsertOrder stores a placement. A row with the same order id is replaced,
// keeping its original created_at.
func (d *Database) InsertOrder(ctx context.Context, o Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			con_id = excluded.con_id,
			symbol = excluded.symbol,
			action = excluded.action,
			order_type = excluded.order_type,
			qty = excluded.qty,
			lmt_price = excluded.lmt_price,
			aux_price = excluded.aux_price,
			tif = excluded.tif,
			status = excluded.status,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`,
		o.OrderID, o.ParentID, o.ConID, o.Symbol, o.Action, o.OrderType, o.Qty,
		o.LmtPrice, o.AuxPrice, o.TIF, o.Status, o.SessionID, o.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert order %d: %w", o.OrderID, err)
	}
	return nil
}

// UpdateOrderStatus sets the latest status of an order. Unknown ids are
// ignored; the venue reports orders placed by other clients too.
func (d *Database) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ?`,
		status, time.Now().UTC(), orderID)
	return err
}

// GetOrder returns one order or ErrNotFound.
func (d *Database) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return &o, nil
}

// ListOrders returns the most recent orders first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, order_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (Order, error) {
	var o Order
	err := s.Scan(&o.OrderID, &o.ParentID, &o.ConID, &o.Symbol, &o.Action, &o.OrderType, &o.Qty,
		&o.LmtPrice, &o.AuxPrice, &o.TIF, &o.Status, &o.SessionID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// InsertBracket stores a bracket attempt.
func (d *Database) InsertBracket(ctx context.Context, b Bracket) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO brackets (id, parent_id, child_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.ParentID, b.ChildID, b.Status, b.Error, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bracket %s: %w", b.ID, err)
	}
	return nil
}

// ListBrackets returns the most recent bracket attempts first.
func (d *Database) ListBrackets(ctx context.Context, limit int) ([]Bracket, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, parent_id, child_id, status, error, created_at
		FROM brackets
		ORDER BY created_at DESC, parent_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query brackets: %w", err)
	}
	defer rows.Close()

	var res []Bracket
	for rows.Next() {
		var b Bracket
		if err := rows.Scan(&b.ID, &b.ParentID, &b.ChildID, &b.Status, &b.Error, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bracket: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
