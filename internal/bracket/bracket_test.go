package bracket

import (
	"context"
	"errors"
	"testing"

	"trading-console/internal/events"
	"trading-console/pkg/exchanges/common"
)

type placed struct {
	id   int64
	spec common.OrderSpec
}

type fakeOrderer struct {
	next   int64
	failAt int // 1-based placement index that fails
	err    error
	orders []placed
}

func (f *fakeOrderer) PlaceOrder(_ context.Context, _ common.Contract, spec common.OrderSpec) (int64, error) {
	if f.failAt == len(f.orders)+1 {
		f.failAt = 0
		f.next++
		return 0, f.err
	}
	id := f.next
	f.next++
	f.orders = append(f.orders, placed{id: id, spec: spec})
	return id, nil
}

type journalEntry struct {
	parent, child int64
	status        string
	err           error
}

type fakeJournal struct{ entries []journalEntry }

func (j *fakeJournal) RecordBracket(_ context.Context, parentID, childID int64, status string, err error) error {
	j.entries = append(j.entries, journalEntry{parentID, childID, status, err})
	return nil
}

func baseRequest() Request {
	return Request{
		Contract:     common.ContractByID(265598),
		TriggerPrice: 10.004,
		Offset:       0.10,
		StopLoss:     0.50,
		Qty:          10,
		TIF:          common.TIFGTC,
	}
}

func TestBreakoutPlacesParentThenChild(t *testing.T) {
	orders := &fakeOrderer{next: 100}
	journal := &fakeJournal{}
	o := NewOrchestrator(orders, WithJournal(journal))

	pair, err := o.PlaceBreakoutWithProtectiveStop(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("PlaceBreakoutWithProtectiveStop: %v", err)
	}
	if pair.ParentID != 100 || pair.ChildID != 101 {
		t.Fatalf("pair = %+v", pair)
	}
	if len(orders.orders) != 2 {
		t.Fatalf("placed %d orders", len(orders.orders))
	}

	parent, child := orders.orders[0].spec, orders.orders[1].spec
	if parent.Action != common.ActionBuy || parent.OrderType != common.OrderTypeStopLimit || parent.Transmit {
		t.Fatalf("parent = %+v", parent)
	}
	if parent.AuxPrice != 10.00 || parent.LmtPrice != 10.10 || parent.TIF != common.TIFGTC {
		t.Fatalf("parent prices = %+v", parent)
	}
	if child.Action != common.ActionSell || !child.Transmit || child.ParentID != 100 {
		t.Fatalf("child = %+v", child)
	}
	if child.AuxPrice != 9.50 || child.LmtPrice != 9.45 {
		t.Fatalf("child prices = %+v", child)
	}
	if len(journal.entries) != 1 || journal.entries[0].status != StatusPlaced {
		t.Fatalf("journal = %+v", journal.entries)
	}
}

func TestMarketBracketUsesTriggerAsReference(t *testing.T) {
	orders := &fakeOrderer{next: 1}
	o := NewOrchestrator(orders)

	if _, err := o.PlaceMarketWithProtectiveStop(context.Background(), baseRequest()); err != nil {
		t.Fatal(err)
	}
	parent, child := orders.orders[0].spec, orders.orders[1].spec
	if parent.OrderType != common.OrderTypeMarket || parent.Transmit {
		t.Fatalf("parent = %+v", parent)
	}
	if child.AuxPrice != 9.50 || child.ParentID != 1 {
		t.Fatalf("child = %+v", child)
	}
}

func TestChildFailureReportsParent(t *testing.T) {
	cause := errors.New("rejected 201")
	orders := &fakeOrderer{next: 200, failAt: 2, err: cause}
	journal := &fakeJournal{}
	bus := events.NewBus()
	partials, unsub := bus.Subscribe(1, events.EventBracketPartial)
	defer unsub()

	o := NewOrchestrator(orders, WithJournal(journal), WithPublisher(bus))
	pair, err := o.PlaceBreakoutWithProtectiveStop(context.Background(), baseRequest())

	var perr *PartialBracketError
	if !errors.As(err, &perr) || perr.ParentID != 200 {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, ErrUnprotectedParent) || !errors.Is(err, cause) {
		t.Fatalf("error chain incomplete: %v", err)
	}
	if pair.ParentID != 200 || pair.ChildID != 0 {
		t.Fatalf("pair = %+v", pair)
	}
	if len(orders.orders) != 1 {
		t.Fatalf("child retried: %d orders", len(orders.orders))
	}
	if len(journal.entries) != 1 || journal.entries[0].status != StatusPartial || journal.entries[0].parent != 200 {
		t.Fatalf("journal = %+v", journal.entries)
	}
	if len(partials) != 1 {
		t.Fatal("partial bracket not published")
	}
}

func TestParentFailureSendsNoChild(t *testing.T) {
	orders := &fakeOrderer{failAt: 1, err: errors.New("not connected")}
	o := NewOrchestrator(orders)

	_, err := o.PlaceBreakoutWithProtectiveStop(context.Background(), baseRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *PartialBracketError
	if errors.As(err, &perr) {
		t.Fatal("parent failure must not be a partial bracket")
	}
	if len(orders.orders) != 0 {
		t.Fatalf("placed %d orders", len(orders.orders))
	}
}

func TestPlaceByMode(t *testing.T) {
	limit := 25.0
	tests := []struct {
		name     string
		mode     string
		limit    *float64
		wantErr  error
		wantType common.OrderType
		wantStop float64
	}{
		{"market", "mkt", nil, nil, common.OrderTypeMarket, 9.50},
		{"limit uses limit price", "LMT", &limit, nil, common.OrderTypeStopLimit, 24.50},
		{"limit without price", "LMT", nil, ErrLimitPriceRequired, "", 0},
		{"unknown mode", "MOC", nil, ErrInvalidRequest, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrderer{next: 1}
			req := baseRequest()
			req.Mode = tt.mode
			req.LimitPrice = tt.limit

			_, err := NewOrchestrator(orders).Place(context.Background(), req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if len(orders.orders) != 0 {
					t.Fatal("orders sent despite validation failure")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if orders.orders[0].spec.OrderType != tt.wantType || orders.orders[1].spec.AuxPrice != tt.wantStop {
				t.Fatalf("orders = %+v", orders.orders)
			}
		})
	}
}

func TestValidationFailsBeforeSend(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"zero qty", func(r *Request) { r.Qty = 0 }},
		{"zero stop loss", func(r *Request) { r.StopLoss = 0 }},
		{"zero trigger", func(r *Request) { r.TriggerPrice = 0 }},
		{"no contract", func(r *Request) { r.Contract = common.Contract{} }},
		{"stop below zero", func(r *Request) { r.StopLoss = 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrderer{}
			req := baseRequest()
			tt.mutate(&req)
			_, err := NewOrchestrator(orders).PlaceBreakoutWithProtectiveStop(context.Background(), req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v", err)
			}
			if len(orders.orders) != 0 {
				t.Fatal("order sent")
			}
		})
	}
}

func TestExplicitZeroSlippage(t *testing.T) {
	req := baseRequest()
	if req.slippage() != DefaultStopLimitSlippage {
		t.Fatalf("default slippage = %v", req.slippage())
	}
	req.ExplicitZeroSlippage = true
	if req.slippage() != 0 {
		t.Fatalf("explicit zero slippage = %v", req.slippage())
	}
}
