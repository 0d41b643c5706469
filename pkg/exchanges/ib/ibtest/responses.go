package ibtest

import (
	"strings"

	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

// Layouts below are the ones a gateway at ServerVersion sends.

func nextValidIDMsg(id int64) []byte {
	return newMessage(ib.InNextValidID).int(1).int(id).bytes()
}

func managedAccountsMsg(accounts ...string) []byte {
	return newMessage(ib.InManagedAccts).int(1).text(strings.Join(accounts, ",")).bytes()
}

func currentTimeMsg(unix int64) []byte {
	return newMessage(ib.InCurrentTime).int(1).int(unix).bytes()
}

func errorMsg(id int64, code int, msg string) []byte {
	return newMessage(ib.InErrMsg).int(2).int(id).int(int64(code)).text(msg).text("").bytes()
}

func tickPriceMsg(tickerID int64, field int, price, size float64) []byte {
	return newMessage(ib.InTickPrice).int(6).int(tickerID).int(int64(field)).float(price).float(size).int(0).bytes()
}

func tickSizeMsg(tickerID int64, field int, size float64) []byte {
	return newMessage(ib.InTickSize).int(6).int(tickerID).int(int64(field)).float(size).bytes()
}

func marketDataTypeMsg(tickerID int64, dataType int) []byte {
	return newMessage(ib.InMarketDataType).int(1).int(tickerID).int(int64(dataType)).bytes()
}

func orderStatusMsg(st ib.OrderStatus) []byte {
	return newMessage(ib.InOrderStatus).
		int(st.OrderID).
		text(st.Status).
		float(st.Filled).
		float(st.Remaining).
		float(st.AvgFillPrice).
		int(st.PermID).
		int(st.ParentID).
		float(st.LastFillPrice).
		int(st.ClientID).
		text(st.WhyHeld).
		float(st.MktCapPrice).
		bytes()
}

func symbolSamplesMsg(reqID int64, descs []ib.ContractDescription) []byte {
	m := newMessage(ib.InSymbolSamples).int(reqID).int(int64(len(descs)))
	for _, d := range descs {
		c := d.Contract
		m.int(c.ConID).text(c.Symbol).text(c.SecType).text(c.PrimaryExchange).text(c.Currency)
		m.int(int64(len(d.DerivativeSecTypes)))
		for _, t := range d.DerivativeSecTypes {
			m.text(t)
		}
		m.text(d.Description).text("")
	}
	return m.bytes()
}

func contractDataMsg(reqID int64, cd ib.ContractDetails) []byte {
	c := cd.Contract
	return newMessage(ib.InContractData).
		int(reqID).
		text(c.Symbol).
		text(c.SecType).
		text(c.LastTradeDate).
		float(c.Strike).
		text(string(c.Right)).
		text(c.Exchange).
		text(c.Currency).
		text(c.LocalSymbol).
		text(cd.MarketName).
		text(c.TradingClass).
		int(c.ConID).
		float(cd.MinTick).
		text(c.Multiplier).
		text(strings.Join(cd.OrderTypes, ",")).
		text(strings.Join(cd.ValidExchanges, ",")).
		int(1). // price magnifier
		int(0). // underlying conId
		text(cd.LongName).
		text(c.PrimaryExchange).
		text(""). // contract month
		text(""). // industry
		text(""). // category
		text(""). // subcategory
		text("US/Eastern").
		text("").  // trading hours
		text("").  // liquid hours
		text("").  // ev rule
		float(0).  // ev multiplier
		int(0).    // sec id list
		int(0).    // agg group
		text("").  // underlying symbol
		text("").  // underlying sec type
		text("").  // market rule ids
		text("").  // real expiration date
		text("").  // stock type
		text("1"). // min size
		text("1"). // size increment
		text("1"). // suggested size increment
		bytes()
}

func contractDataEndMsg(reqID int64) []byte {
	return newMessage(ib.InContractDataEnd).int(1).int(reqID).bytes()
}

func secDefOptParamsMsg(reqID int64, ch ib.OptionChain) []byte {
	m := newMessage(ib.InSecDefOptParam).
		int(reqID).
		text(ch.Exchange).
		int(ch.UnderlyingConID).
		text(ch.TradingClass).
		text(ch.Multiplier).
		int(int64(len(ch.Expirations)))
	for _, e := range ch.Expirations {
		m.text(e)
	}
	m.int(int64(len(ch.Strikes)))
	for _, k := range ch.Strikes {
		m.float(k)
	}
	return m.bytes()
}

func secDefOptParamsEndMsg(reqID int64) []byte {
	return newMessage(ib.InSecDefOptParamEnd).int(reqID).bytes()
}

// readContract reads the contract block shared by market data, contract
// detail and order requests.
func readContract(f *fields) common.Contract {
	return common.Contract{
		ConID:           f.int(),
		Symbol:          f.text(),
		SecType:         f.text(),
		LastTradeDate:   f.text(),
		Strike:          f.float(),
		Right:           common.Right(f.text()),
		Multiplier:      f.text(),
		Exchange:        f.text(),
		PrimaryExchange: f.text(),
		Currency:        f.text(),
		LocalSymbol:     f.text(),
		TradingClass:    f.text(),
	}
}

// readOrder reads a placeOrder body after the contract and sec id fields,
// up to outsideRth.
func readOrder(f *fields) common.OrderSpec {
	var o common.OrderSpec
	o.Action = common.Action(f.text())
	o.TotalQty = f.float()
	o.OrderType = common.OrderType(f.text())
	o.LmtPrice = f.float()
	o.AuxPrice = f.float()
	o.TIF = common.TimeInForce(f.text())
	f.skip(1) // oca group
	o.Account = f.text()
	f.skip(3) // open/close, origin, order ref
	o.Transmit = f.bool()
	o.ParentID = f.int()
	f.skip(4) // block, sweep to fill, display size, trigger method
	o.OutsideRTH = f.bool()
	return o
}
