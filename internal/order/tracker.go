package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trading-console/internal/correlation"
	"trading-console/internal/events"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

var (
	// ErrHandshakePending is returned when an order id is needed before the
	// venue has sent nextValidId.
	ErrHandshakePending = errors.New("order ids not yet assigned by venue")
	ErrInvalidOrder     = errors.New("invalid order")
)

const (
	// StatusCancelled is the only status that acknowledges a cancel request.
	StatusCancelled = "Cancelled"
	// StatusInactive is recorded for orders the venue rejected.
	StatusInactive = "Inactive"
)

// DefaultStatusRetention is how many finished orders keep their last status.
const DefaultStatusRetention = 4096

// IsTerminal reports statuses after which the venue sends no more updates.
func IsTerminal(status string) bool {
	switch strings.ToLower(status) {
	case "filled", "cancelled", "apicancelled", "inactive":
		return true
	}
	return false
}

// Ack kinds reported to the correlation observer.
const (
	KindPlaceAck  = "place_ack"
	KindCancelAck = "cancel_ack"
)

// Sender is the outbound half of the venue session.
type Sender interface {
	PlaceOrder(ctx context.Context, orderID int64, contract common.Contract, spec common.OrderSpec) error
	CancelOrder(ctx context.Context, orderID int64) error
}

// Journal persists order lifecycle records.
type Journal interface {
	RecordPlacement(ctx context.Context, orderID int64, contract common.Contract, spec common.OrderSpec) error
	RecordStatus(ctx context.Context, orderID int64, status string) error
}

// Publisher receives order events.
type Publisher interface {
	Publish(e events.Event, payload any)
}

// Ack is the first confirmation of an order from the venue.
type Ack = common.OrderAck

type waiter struct {
	fut     *correlation.Future[Ack]
	started time.Time
	callers int // cancel callers sharing fut; guarded by Tracker.mu
}

// Tracker allocates order ids and resolves placement and cancel
// acknowledgements from inbound order messages.
type Tracker struct {
	sender  Sender
	log     *zap.Logger
	journal Journal
	pub     Publisher
	obs     correlation.Observer

	ready atomic.Bool
	next  atomic.Int64

	mu         sync.Mutex
	placeAcks  map[int64]*waiter
	cancelAcks map[int64]*waiter
	statuses   map[int64]string
	finished   []int64 // ids with a terminal status, oldest first
	retain     int
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.log = l } }

// WithJournal persists placements and every status change.
func WithJournal(j Journal) Option { return func(t *Tracker) { t.journal = j } }

// WithPublisher receives submitted, acked, status, cancelled and rejected
// order events.
func WithPublisher(p Publisher) Option { return func(t *Tracker) { t.pub = p } }

// WithObserver records ack latency and outcome per kind.
func WithObserver(o correlation.Observer) Option { return func(t *Tracker) { t.obs = o } }

// WithStatusRetention bounds how many finished orders Status still
// answers for. Live orders are never evicted.
func WithStatusRetention(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.retain = n
		}
	}
}

// NewTracker builds a tracker sending through sender.
func NewTracker(sender Sender, opts ...Option) *Tracker {
	t := &Tracker{
		sender:     sender,
		log:        zap.NewNop(),
		placeAcks:  make(map[int64]*waiter),
		cancelAcks: make(map[int64]*waiter),
		statuses:   make(map[int64]string),
		retain:     DefaultStatusRetention,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetNextValidID records the venue's next usable id. The counter never
// moves backwards, so a repeated or stale nextValidId cannot cause reuse.
func (t *Tracker) SetNextValidID(id int64) {
	for {
		cur := t.next.Load()
		if t.ready.Load() && cur >= id {
			break
		}
		if t.next.CompareAndSwap(cur, max(cur, id)) {
			break
		}
	}
	t.ready.Store(true)
	t.log.Info("next_valid_id", zap.Int64("order_id", id), zap.Int64("next", t.next.Load()))
}

// Ready reports whether order ids can be allocated.
func (t *Tracker) Ready() bool {
	return t.ready.Load()
}

// NextOrderID returns a fresh order id. Concurrent callers get distinct,
// gap-free ids.
func (t *Tracker) NextOrderID() (int64, error) {
	if !t.ready.Load() {
		return 0, ErrHandshakePending
	}
	return t.next.Add(1) - 1, nil
}

// Reset marks ids unusable, fails every pending ack and forgets finished
// orders. Called on disconnect.
func (t *Tracker) Reset(cause error) {
	t.ready.Store(false)

	t.mu.Lock()
	place, cancel := t.placeAcks, t.cancelAcks
	t.placeAcks = make(map[int64]*waiter)
	t.cancelAcks = make(map[int64]*waiter)
	for _, id := range t.finished {
		if IsTerminal(t.statuses[id]) {
			delete(t.statuses, id)
		}
	}
	t.finished = nil
	t.mu.Unlock()

	for _, w := range place {
		w.fut.Reject(cause)
		t.observe(KindPlaceAck, w, correlation.OutcomeFailed)
	}
	for _, w := range cancel {
		w.fut.Reject(cause)
		t.observe(KindCancelAck, w, correlation.OutcomeFailed)
	}
}

// PlaceOrder sends spec under a fresh id and waits for the first openOrder
// or orderStatus for it.
func (t *Tracker) PlaceOrder(ctx context.Context, contract common.Contract, spec common.OrderSpec) (int64, error) {
	ack, err := t.PlaceOrderAck(ctx, contract, spec)
	return ack.OrderID, err
}

// PlaceOrderAck is PlaceOrder returning the acknowledged status too.
func (t *Tracker) PlaceOrderAck(ctx context.Context, contract common.Contract, spec common.OrderSpec) (Ack, error) {
	if err := spec.Validate(); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	id, err := t.NextOrderID()
	if err != nil {
		return Ack{}, err
	}

	w := &waiter{fut: correlation.NewFuture[Ack](), started: time.Now()}
	t.mu.Lock()
	t.placeAcks[id] = w
	t.statuses[id] = ""
	t.mu.Unlock()

	if t.journal != nil {
		if err := t.journal.RecordPlacement(ctx, id, contract, spec); err != nil {
			t.log.Warn("journal_placement_failed", zap.Int64("order_id", id), zap.Error(err))
		}
	}

	t.log.Info("order_submit",
		zap.Int64("order_id", id),
		zap.Stringer("contract", contract),
		zap.String("action", string(spec.Action)),
		zap.String("type", string(spec.OrderType)),
		zap.Float64("qty", spec.TotalQty),
		zap.Int64("parent_id", spec.ParentID),
		zap.Bool("transmit", spec.Transmit))
	if err := t.sender.PlaceOrder(ctx, id, contract, spec); err != nil {
		t.dropWaiter(t.placeAcks, id, KindPlaceAck, correlation.OutcomeFailed)
		return Ack{OrderID: id}, fmt.Errorf("send order %d: %w", id, err)
	}
	t.publish(events.EventOrderSubmitted, events.OrderUpdate{OrderID: id, ParentID: spec.ParentID})

	ack, err := w.fut.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			t.dropWaiter(t.placeAcks, id, KindPlaceAck, correlation.OutcomeCancelled)
			if ack, lateErr := w.fut.Result(); lateErr == nil {
				return ack, nil
			}
			return Ack{OrderID: id}, fmt.Errorf("await ack for order %d: %w: %w", id, correlation.ErrCancelled, ctxErr)
		}
		return Ack{OrderID: id}, err
	}
	return ack, nil
}

// CancelOrder requests cancellation and waits for a Cancelled status.
// Concurrent cancels of the same order send one request and share its
// acknowledgement; a caller whose ctx ends detaches alone.
func (t *Tracker) CancelOrder(ctx context.Context, orderID int64) error {
	t.mu.Lock()
	w, exists := t.cancelAcks[orderID]
	if !exists {
		w = &waiter{fut: correlation.NewFuture[Ack](), started: time.Now()}
		t.cancelAcks[orderID] = w
	}
	w.callers++
	t.mu.Unlock()

	if !exists {
		t.log.Info("order_cancel", zap.Int64("order_id", orderID))
		if err := t.sender.CancelOrder(ctx, orderID); err != nil {
			err = fmt.Errorf("send cancel %d: %w", orderID, err)
			t.failCancel(orderID, w, err)
			return err
		}
	}

	_, err := w.fut.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			t.leaveCancel(orderID, w)
			if _, lateErr := w.fut.Result(); lateErr == nil {
				return nil
			}
			return fmt.Errorf("await cancel of order %d: %w: %w", orderID, correlation.ErrCancelled, ctxErr)
		}
		return err
	}
	return nil
}

// leaveCancel detaches one caller. The shared ack is dropped only when no
// caller is left waiting on it.
func (t *Tracker) leaveCancel(orderID int64, w *waiter) {
	t.mu.Lock()
	w.callers--
	last := w.callers <= 0 && t.cancelAcks[orderID] == w
	if last {
		delete(t.cancelAcks, orderID)
	}
	t.mu.Unlock()
	if last && w.fut.Reject(correlation.ErrCancelled) {
		t.observe(KindCancelAck, w, correlation.OutcomeCancelled)
	}
}

// failCancel fails every caller of a cancel whose request never left.
func (t *Tracker) failCancel(orderID int64, w *waiter, err error) {
	t.mu.Lock()
	if t.cancelAcks[orderID] == w {
		delete(t.cancelAcks, orderID)
	}
	t.mu.Unlock()
	if w.fut.Reject(err) {
		t.observe(KindCancelAck, w, correlation.OutcomeFailed)
	}
}

func (t *Tracker) dropWaiter(m map[int64]*waiter, id int64, kind string, outcome correlation.Outcome) {
	t.mu.Lock()
	w, ok := m[id]
	if ok {
		delete(m, id)
	}
	t.mu.Unlock()
	if ok {
		w.fut.Reject(correlation.ErrCancelled)
		t.observe(kind, w, outcome)
	}
}

// OnOpenOrder resolves a pending placement ack.
func (t *Tracker) OnOpenOrder(m ib.OpenOrder) {
	t.recordStatus(m.OrderID, m.Status)
	t.resolvePlacement(m.OrderID, m.Status)
}

// OnOrderStatus resolves a pending placement ack and, for a Cancelled
// status, a pending cancel ack.
func (t *Tracker) OnOrderStatus(m ib.OrderStatus) {
	t.recordStatus(m.OrderID, m.Status)
	t.publish(events.EventOrderStatus, events.OrderUpdate{
		OrderID:  m.OrderID,
		ParentID: m.ParentID,
		Status:   m.Status,
		Filled:   m.Filled,
	})
	t.resolvePlacement(m.OrderID, m.Status)
	if strings.EqualFold(m.Status, StatusCancelled) {
		t.resolveCancel(m.OrderID, m.Status)
	}
}

func (t *Tracker) resolvePlacement(orderID int64, status string) {
	t.mu.Lock()
	w, ok := t.placeAcks[orderID]
	if ok {
		delete(t.placeAcks, orderID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.fut.Resolve(Ack{OrderID: orderID, Status: status})
	t.observe(KindPlaceAck, w, correlation.OutcomeCompleted)
	t.log.Info("order_acked", zap.Int64("order_id", orderID), zap.String("status", status),
		zap.Duration("latency", time.Since(w.started)))
	t.publish(events.EventOrderAcked, events.OrderUpdate{OrderID: orderID, Status: status})
}

func (t *Tracker) resolveCancel(orderID int64, status string) {
	t.mu.Lock()
	w, ok := t.cancelAcks[orderID]
	if ok {
		delete(t.cancelAcks, orderID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.fut.Resolve(Ack{OrderID: orderID, Status: status})
	t.observe(KindCancelAck, w, correlation.OutcomeCompleted)
	t.publish(events.EventOrderCancelled, events.OrderUpdate{OrderID: orderID, Status: status})
}

// HandleError routes a venue error tagged with an order id. It reports
// whether the id belongs to an order this tracker has placed or is
// cancelling. A pending placement ack takes precedence over a cancel ack.
func (t *Tracker) HandleError(id int64, code int, msg string) bool {
	t.mu.Lock()
	place, hasPlace := t.placeAcks[id]
	cancel, hasCancel := t.cancelAcks[id]
	_, known := t.statuses[id]
	t.mu.Unlock()

	if !hasPlace && !hasCancel && !known {
		return false
	}

	if ib.IsInformational(code) {
		t.log.Info("order_notice", zap.Int64("order_id", id), zap.Int("code", code), zap.String("msg", msg))
		return true
	}

	apiErr := &ib.APIError{ID: id, Code: code, Message: msg}
	switch {
	case hasPlace:
		t.mu.Lock()
		if t.placeAcks[id] == place {
			delete(t.placeAcks, id)
		}
		t.mu.Unlock()
		if place.fut.Reject(apiErr) {
			t.observe(KindPlaceAck, place, correlation.OutcomeFailed)
		}
		t.recordStatus(id, StatusInactive)
		t.log.Warn("order_rejected", zap.Int64("order_id", id), zap.Int("code", code), zap.String("msg", msg))
		t.publish(events.EventOrderRejected, events.OrderUpdate{OrderID: id, Code: code, Message: msg})
	case hasCancel && code == ib.CodeOrderCancelled:
		t.resolveCancel(id, StatusCancelled)
	case hasCancel:
		t.mu.Lock()
		if t.cancelAcks[id] == cancel {
			delete(t.cancelAcks, id)
		}
		t.mu.Unlock()
		if cancel.fut.Reject(apiErr) {
			t.observe(KindCancelAck, cancel, correlation.OutcomeFailed)
		}
		t.log.Warn("cancel_rejected", zap.Int64("order_id", id), zap.Int("code", code), zap.String("msg", msg))
	case code == ib.CodeOrderCancelled:
		t.recordStatus(id, StatusCancelled)
		t.log.Info("order_cancel_notice", zap.Int64("order_id", id), zap.String("msg", msg))
	default:
		t.log.Warn("order_error", zap.Int64("order_id", id), zap.Int("code", code), zap.String("msg", msg))
		t.publish(events.EventOrderRejected, events.OrderUpdate{OrderID: id, Code: code, Message: msg})
	}
	return true
}

// Status returns the last status seen for orderID.
func (t *Tracker) Status(orderID int64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[orderID]
	return s, ok
}

// PendingAcks returns the number of placement and cancel acks outstanding.
func (t *Tracker) PendingAcks() (place, cancel int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.placeAcks), len(t.cancelAcks)
}

func (t *Tracker) recordStatus(orderID int64, status string) {
	if status == "" {
		return
	}
	t.mu.Lock()
	prev, known := t.statuses[orderID]
	t.statuses[orderID] = status
	if IsTerminal(status) && !IsTerminal(prev) {
		t.finished = append(t.finished, orderID)
		t.evictFinishedLocked()
	}
	t.mu.Unlock()

	if known && prev == status {
		return
	}
	if t.journal != nil {
		if err := t.journal.RecordStatus(context.Background(), orderID, status); err != nil {
			t.log.Warn("journal_status_failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
}

// evictFinishedLocked drops the oldest finished orders beyond the
// retention bound. An id that went live again is skipped.
func (t *Tracker) evictFinishedLocked() {
	for len(t.finished) > t.retain {
		id := t.finished[0]
		t.finished = t.finished[1:]
		if IsTerminal(t.statuses[id]) {
			delete(t.statuses, id)
		}
	}
}

func (t *Tracker) observe(kind string, w *waiter, outcome correlation.Outcome) {
	if t.obs != nil {
		t.obs.ObserveRequest(kind, outcome, time.Since(w.started))
	}
}

func (t *Tracker) publish(e events.Event, payload any) {
	if t.pub != nil {
		t.pub.Publish(e, payload)
	}
}
