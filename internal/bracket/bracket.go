// Package bracket places a parent entry order together with a protective
// stop-limit child. The parent is sent with transmit=false so the venue
// holds it until the child that references it arrives.
package bracket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"trading-console/internal/events"
	"trading-console/pkg/exchanges/common"
)

var (
	ErrInvalidRequest     = errors.New("invalid bracket request")
	ErrLimitPriceRequired = errors.New("limit price required for LMT mode")
	// ErrUnprotectedParent marks a parent order that was acknowledged but
	// whose protective child failed. The parent may be live without a stop.
	ErrUnprotectedParent = errors.New("parent order placed without protective stop")
)

// Entry modes.
const (
	ModeMarket = "MKT"
	ModeLimit  = "LMT"
)

// Bracket statuses written to the journal.
const (
	StatusPlaced  = "placed"
	StatusPartial = "partial"
)

// PartialBracketError reports a child failure after the parent was
// acknowledged. It is never retried.
type PartialBracketError struct {
	ParentID int64
	Err      error
}

func (e *PartialBracketError) Error() string {
	return fmt.Sprintf("bracket parent %d unprotected: child placement failed: %v", e.ParentID, e.Err)
}

func (e *PartialBracketError) Unwrap() []error {
	return []error{ErrUnprotectedParent, e.Err}
}

// Request describes one bracket.
type Request struct {
	Contract common.Contract `json:"contract"`
	Mode     string          `json:"mode"`
	// LimitPrice is used as the trigger in LMT mode.
	LimitPrice   *float64           `json:"limit_price,omitempty"`
	TriggerPrice float64            `json:"trigger_price"`
	Offset       float64            `json:"offset"`
	StopLoss     float64            `json:"stop_loss"`
	Qty          float64            `json:"qty"`
	TIF          common.TimeInForce `json:"tif"`
	OutsideRTH   bool               `json:"outside_rth"`
	Account      string             `json:"account,omitempty"`
	// StopLimitSlippage of zero means DefaultStopLimitSlippage unless
	// ExplicitZeroSlippage is set.
	StopLimitSlippage    float64 `json:"stop_limit_slippage"`
	ExplicitZeroSlippage bool    `json:"explicit_zero_slippage,omitempty"`
}

func (r Request) slippage() float64 {
	if r.StopLimitSlippage == 0 && !r.ExplicitZeroSlippage {
		return DefaultStopLimitSlippage
	}
	return r.StopLimitSlippage
}

func (r Request) tif() common.TimeInForce {
	if r.TIF == "" {
		return common.TIFDay
	}
	return r.TIF
}

func (r Request) validate() error {
	switch {
	case r.Qty <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidRequest, r.Qty)
	case r.StopLoss <= 0:
		return fmt.Errorf("%w: stop loss must be positive, got %v", ErrInvalidRequest, r.StopLoss)
	case r.TriggerPrice <= 0:
		return fmt.Errorf("%w: trigger price must be positive, got %v", ErrInvalidRequest, r.TriggerPrice)
	case r.Offset < 0:
		return fmt.Errorf("%w: offset must not be negative, got %v", ErrInvalidRequest, r.Offset)
	case r.slippage() < 0:
		return fmt.Errorf("%w: slippage must not be negative, got %v", ErrInvalidRequest, r.StopLimitSlippage)
	case r.Contract.ConID == 0 && r.Contract.Symbol == "":
		return fmt.Errorf("%w: contract is required", ErrInvalidRequest)
	}
	return nil
}

// Pair is a placed bracket.
type Pair struct {
	ParentID int64  `json:"parent_id"`
	ChildID  int64  `json:"child_id"`
	Levels   Levels `json:"levels"`
}

// Orderer places one order and waits for its acknowledgement.
type Orderer interface {
	PlaceOrder(ctx context.Context, contract common.Contract, spec common.OrderSpec) (int64, error)
}

// Journal records bracket outcomes. err is nil for a complete bracket.
type Journal interface {
	RecordBracket(ctx context.Context, parentID, childID int64, status string, err error) error
}

// Publisher receives bracket events.
type Publisher interface {
	Publish(e events.Event, payload any)
}

// Orchestrator sequences the parent and child placements.
type Orchestrator struct {
	orders  Orderer
	log     *zap.Logger
	journal Journal
	pub     Publisher
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithJournal records every bracket attempt with its outcome.
func WithJournal(j Journal) Option { return func(o *Orchestrator) { o.journal = j } }

// WithPublisher receives placed and partial bracket events.
func WithPublisher(p Publisher) Option { return func(o *Orchestrator) { o.pub = p } }

// NewOrchestrator places brackets through orders, which allocates ids and
// waits for each acknowledgement.
func NewOrchestrator(orders Orderer, opts ...Option) *Orchestrator {
	o := &Orchestrator{orders: orders, log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Place selects the entry by req.Mode. LMT uses *req.LimitPrice as the
// breakout trigger.
func (o *Orchestrator) Place(ctx context.Context, req Request) (Pair, error) {
	switch strings.ToUpper(strings.TrimSpace(req.Mode)) {
	case ModeMarket:
		return o.PlaceMarketWithProtectiveStop(ctx, req)
	case ModeLimit:
		if req.LimitPrice == nil {
			return Pair{}, ErrLimitPriceRequired
		}
		req.TriggerPrice = *req.LimitPrice
		return o.PlaceBreakoutWithProtectiveStop(ctx, req)
	default:
		return Pair{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
}

// PlaceBreakoutWithProtectiveStop buys with a stop-limit triggering at the
// trigger price and capped at trigger+offset, then protects it with a sell
// stop-limit at trigger-stopLoss.
func (o *Orchestrator) PlaceBreakoutWithProtectiveStop(ctx context.Context, req Request) (Pair, error) {
	if err := req.validate(); err != nil {
		return Pair{}, err
	}
	lv := ComputeLevels(req.TriggerPrice, req.Offset, req.StopLoss, req.slippage())
	parent := common.StopLimitOrder(common.ActionBuy, req.Qty, lv.StopTrigger, lv.LimitCap, req.tif())
	return o.place(ctx, req, parent, lv)
}

// PlaceMarketWithProtectiveStop buys at market and derives the protective
// stop from TriggerPrice as the reference price.
func (o *Orchestrator) PlaceMarketWithProtectiveStop(ctx context.Context, req Request) (Pair, error) {
	if err := req.validate(); err != nil {
		return Pair{}, err
	}
	lv := ComputeLevels(req.TriggerPrice, req.Offset, req.StopLoss, req.slippage())
	parent := common.MarketOrder(common.ActionBuy, req.Qty, req.tif())
	return o.place(ctx, req, parent, lv)
}

func (o *Orchestrator) place(ctx context.Context, req Request, parent common.OrderSpec, lv Levels) (Pair, error) {
	if lv.StopLimit <= 0 || lv.StopAbsolute <= 0 {
		return Pair{}, fmt.Errorf("%w: derived stop %.2f/%.2f is not positive", ErrInvalidRequest, lv.StopAbsolute, lv.StopLimit)
	}
	parent = parent.WithTransmit(false).WithAccount(req.Account).WithOutsideRTH(req.OutsideRTH)

	parentID, err := o.orders.PlaceOrder(ctx, req.Contract, parent)
	if err != nil {
		o.log.Warn("bracket_parent_failed", zap.Stringer("contract", req.Contract), zap.Error(err))
		return Pair{}, fmt.Errorf("place bracket parent: %w", err)
	}

	child := common.StopLimitOrder(common.ActionSell, req.Qty, lv.StopAbsolute, lv.StopLimit, req.tif()).
		WithParent(parentID).
		WithAccount(req.Account).
		WithOutsideRTH(req.OutsideRTH)
	childID, err := o.orders.PlaceOrder(ctx, req.Contract, child)
	if err != nil {
		perr := &PartialBracketError{ParentID: parentID, Err: err}
		o.log.Error("bracket_child_failed",
			zap.Int64("parent_id", parentID),
			zap.Stringer("contract", req.Contract),
			zap.Error(err))
		o.record(ctx, parentID, 0, StatusPartial, perr)
		o.publish(events.EventBracketPartial, events.BracketUpdate{ParentID: parentID, Error: err.Error()})
		return Pair{ParentID: parentID, Levels: lv}, perr
	}

	o.log.Info("bracket_placed",
		zap.Int64("parent_id", parentID),
		zap.Int64("child_id", childID),
		zap.Float64("stop_trigger", lv.StopTrigger),
		zap.Float64("limit_cap", lv.LimitCap),
		zap.Float64("stop", lv.StopAbsolute),
		zap.Float64("stop_limit", lv.StopLimit))
	o.record(ctx, parentID, childID, StatusPlaced, nil)
	o.publish(events.EventBracketPlaced, events.BracketUpdate{ParentID: parentID, ChildID: childID})
	return Pair{ParentID: parentID, ChildID: childID, Levels: lv}, nil
}

func (o *Orchestrator) record(ctx context.Context, parentID, childID int64, status string, cause error) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordBracket(context.WithoutCancel(ctx), parentID, childID, status, cause); err != nil {
		o.log.Warn("journal_bracket_failed", zap.Int64("parent_id", parentID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(e events.Event, payload any) {
	if o.pub != nil {
		o.pub.Publish(e, payload)
	}
}
