package ib

import (
	"math"
	"testing"

	"trading-console/pkg/exchanges/common"
)

func TestOrderConversionKeepsEveryField(t *testing.T) {
	spec := common.StopLimitOrder(common.ActionSell, 12.5, 180, 179.5, common.TIFGTC).
		WithAccount("DU1234567").
		WithOutsideRTH(true).
		WithParent(77).
		WithTransmit(false)

	order := toIBOrder(spec)
	if !order.OutsideRTH || order.Account != "DU1234567" {
		t.Fatalf("outsideRth/account lost: %+v", order)
	}
	if order.OCAGroup != "" {
		t.Fatalf("oca group = %q, want empty", order.OCAGroup)
	}
	if got := fromIBOrder(order); got != spec {
		t.Fatalf("round trip = %+v, want %+v", got, spec)
	}
}

func TestMarketOrderPricesStayUnset(t *testing.T) {
	order := toIBOrder(common.MarketOrder(common.ActionBuy, 1, common.TIFDay))
	if order.LmtPrice != math.MaxFloat64 || order.AuxPrice != math.MaxFloat64 {
		t.Fatalf("lmt=%v aux=%v, want unset", order.LmtPrice, order.AuxPrice)
	}
	back := fromIBOrder(order)
	if back.LmtPrice != 0 || back.AuxPrice != 0 {
		t.Fatalf("unset prices read back as %v/%v", back.LmtPrice, back.AuxPrice)
	}
}

func TestDecimalConversion(t *testing.T) {
	for _, v := range []float64{0, 1, 0.5, 100, 12345.678} {
		if got := fromDecimal(toDecimal(v)); got != v {
			t.Errorf("fromDecimal(toDecimal(%v)) = %v", v, got)
		}
	}
}

func TestContractConversion(t *testing.T) {
	c := common.OptionContract("AAPL", common.RightCall, "20250117", 150)
	c.ConID = 700150
	c.TradingClass = "AAPL"
	ibc := toIBContract(c)
	if ibc.LastTradeDateOrContractMonth != "20250117" || ibc.Right != "C" || ibc.Strike != 150 {
		t.Fatalf("contract = %+v", ibc)
	}
	if got := fromIBContract(*ibc); got != c {
		t.Fatalf("round trip = %+v, want %+v", got, c)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" LMT,,MKT ,")
	if len(got) != 2 || got[0] != "LMT" || got[1] != "MKT" {
		t.Fatalf("splitCSV = %q", got)
	}
	if splitCSV("") != nil {
		t.Fatal("empty input should give nil")
	}
}
