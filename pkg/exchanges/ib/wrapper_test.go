package ib

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/scmhub/ibapi"

	"trading-console/pkg/exchanges/common"
)

type failCounter struct {
	nopObserver
	decodeFailed atomic.Int64
}

func (f *failCounter) DecodeFailed(int) { f.decodeFailed.Add(1) }

func newTestWrapper(t *testing.T, obs Observer) (*wrapper, *Client) {
	t.Helper()
	c := newClient(Options{Observer: obs, QueueSize: 16})
	return &wrapper{c: c}, c
}

func next(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m := <-c.msgs:
		return m
	default:
		t.Fatal("no message queued")
		return nil
	}
}

func TestWrapperQueuesOpenOrder(t *testing.T) {
	w, c := newTestWrapper(t, nil)

	order := ibapi.NewOrder()
	order.Action = "BUY"
	order.TotalQuantity = ibapi.StringToDecimal("10")
	order.OrderType = "LMT"
	order.LmtPrice = 101.25
	order.TIF = "GTC"
	order.OutsideRTH = true
	order.Transmit = true
	contract := &ibapi.Contract{ConID: 265598, Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}

	w.OpenOrder(9, contract, order, &ibapi.OrderState{Status: "PreSubmitted"})

	got, ok := next(t, c).(OpenOrder)
	if !ok {
		t.Fatal("queued message is not an OpenOrder")
	}
	if got.OrderID != 9 || got.Status != "PreSubmitted" || got.Contract.ConID != 265598 {
		t.Fatalf("open order = %+v", got)
	}
	want := common.OrderSpec{
		Action:     common.ActionBuy,
		OrderType:  common.OrderTypeLimit,
		TotalQty:   10,
		LmtPrice:   101.25,
		TIF:        common.TIFGTC,
		OutsideRTH: true,
		Transmit:   true,
	}
	if got.Order != want {
		t.Fatalf("order = %+v, want %+v", got.Order, want)
	}
}

func TestWrapperDropsOpenOrderWithoutPayload(t *testing.T) {
	obs := &failCounter{}
	w, c := newTestWrapper(t, obs)

	w.OpenOrder(9, nil, nil, nil)
	w.ContractDetails(3, nil)

	if obs.decodeFailed.Load() != 2 {
		t.Fatalf("decode failures = %d, want 2", obs.decodeFailed.Load())
	}
	if len(c.msgs) != 0 {
		t.Fatalf("queued %d messages, want none", len(c.msgs))
	}
}

func TestWrapperTicksAndStatus(t *testing.T) {
	w, c := newTestWrapper(t, nil)

	w.TickPrice(4, TickBid, 189.5, ibapi.TickAttrib{PastLimit: true})
	w.TickSize(4, TickBidSize, ibapi.StringToDecimal("300"))
	w.OrderStatus(11, "Filled", ibapi.StringToDecimal("5"), ibapi.StringToDecimal("0"),
		188.75, 1000011, 10, math.MaxFloat64, 7, "", math.MaxFloat64)

	tp := next(t, c).(TickPrice)
	if tp.TickerID != 4 || tp.Field != TickBid || tp.Price != 189.5 || !tp.Attrib.PastLimit {
		t.Fatalf("tick price = %+v", tp)
	}
	ts := next(t, c).(TickSize)
	if ts.Field != TickBidSize || ts.Size != 300 {
		t.Fatalf("tick size = %+v", ts)
	}
	st := next(t, c).(OrderStatus)
	if st.Filled != 5 || st.Remaining != 0 || st.AvgFillPrice != 188.75 || st.ParentID != 10 {
		t.Fatalf("order status = %+v", st)
	}
	if st.LastFillPrice != 0 || st.MktCapPrice != 0 {
		t.Fatalf("unset prices not zeroed: %+v", st)
	}
}

func TestWrapperErrorAndAccounts(t *testing.T) {
	w, c := newTestWrapper(t, nil)

	w.Error(-1, 0, 2104, "Market data farm connection is OK:usfarm", "")
	w.ManagedAccounts([]string{"DU1,DU2", "DU3"})

	e := next(t, c).(ErrorMsg)
	if e.ID != NoValidID || e.Code != 2104 || !IsInformational(e.Code) {
		t.Fatalf("error = %+v", e)
	}
	acc := next(t, c).(ManagedAccounts)
	if len(acc.Accounts) != 3 || acc.Accounts[2] != "DU3" {
		t.Fatalf("accounts = %v", acc.Accounts)
	}
}

func TestWrapperConnectionClosedMarksLost(t *testing.T) {
	w, c := newTestWrapper(t, nil)
	w.ConnectionClosed()
	w.ConnectionClosed()
	select {
	case <-c.lost:
	default:
		t.Fatal("lost not signalled")
	}
}

func TestWrapperContractDetails(t *testing.T) {
	w, c := newTestWrapper(t, nil)
	w.ContractDetails(5, &ibapi.ContractDetails{
		Contract:       ibapi.Contract{ConID: 265598, Symbol: "AAPL", SecType: "STK", Strike: math.MaxFloat64},
		MarketName:     "NMS",
		MinTick:        0.01,
		OrderTypes:     "LMT,MKT, STP",
		ValidExchanges: "SMART,NASDAQ",
		LongName:       "APPLE INC",
	})
	w.ContractDetailsEnd(5)

	cd := next(t, c).(ContractData)
	if cd.ReqID != 5 || cd.Details.Contract.Strike != 0 || cd.Details.LongName != "APPLE INC" {
		t.Fatalf("contract data = %+v", cd)
	}
	if len(cd.Details.OrderTypes) != 3 || cd.Details.OrderTypes[2] != "STP" {
		t.Fatalf("order types = %v", cd.Details.OrderTypes)
	}
	if _, ok := next(t, c).(ContractDataEnd); !ok {
		t.Fatal("missing contract data end")
	}
}
