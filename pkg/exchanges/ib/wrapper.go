package ib

import (
	"time"

	"github.com/scmhub/ibapi"
	"go.uber.org/zap"
)

// wrapper receives the library's callbacks on its decoder goroutine,
// converts them to Messages and queues them for the pump. Callbacks the
// console does not consume fall through to the embedded default, which
// only logs.
type wrapper struct {
	ibapi.Wrapper
	c *Client
}

func (w *wrapper) NextValidID(reqID int64) {
	w.c.enqueue(NextValidID{OrderID: reqID})
}

func (w *wrapper) ManagedAccounts(accountsList []string) {
	accounts := make([]string, 0, len(accountsList))
	for _, a := range accountsList {
		accounts = append(accounts, splitCSV(a)...)
	}
	w.c.enqueue(ManagedAccounts{Accounts: accounts})
}

func (w *wrapper) CurrentTime(t int64) {
	w.c.enqueue(CurrentTime{Time: time.Unix(t, 0).UTC()})
}

func (w *wrapper) SymbolSamples(reqID int64, contractDescriptions []ibapi.ContractDescription) {
	descs := make([]ContractDescription, 0, len(contractDescriptions))
	for _, cd := range contractDescriptions {
		descs = append(descs, fromIBDescription(cd))
	}
	w.c.enqueue(SymbolSamples{ReqID: reqID, Descriptions: descs})
}

func (w *wrapper) ContractDetails(reqID int64, contractDetails *ibapi.ContractDetails) {
	if contractDetails == nil {
		w.c.dropMalformed(InContractData, reqID)
		return
	}
	w.c.enqueue(ContractData{ReqID: reqID, Details: fromIBDetails(contractDetails)})
}

func (w *wrapper) ContractDetailsEnd(reqID int64) {
	w.c.enqueue(ContractDataEnd{ReqID: reqID})
}

func (w *wrapper) SecurityDefinitionOptionParameter(reqID int64, exchange string, underlyingConID int64, tradingClass string, multiplier string, expirations []string, strikes []float64) {
	w.c.enqueue(SecDefOptParams{ReqID: reqID, Chain: OptionChain{
		Exchange:        exchange,
		UnderlyingConID: underlyingConID,
		TradingClass:    tradingClass,
		Multiplier:      multiplier,
		Expirations:     append([]string(nil), expirations...),
		Strikes:         append([]float64(nil), strikes...),
	}})
}

func (w *wrapper) SecurityDefinitionOptionParameterEnd(reqID int64) {
	w.c.enqueue(SecDefOptParamsEnd{ReqID: reqID})
}

func (w *wrapper) TickPrice(reqID ibapi.TickerID, tickType ibapi.TickType, price float64, attrib ibapi.TickAttrib) {
	w.c.enqueue(TickPrice{
		TickerID: int64(reqID),
		Field:    int(tickType),
		Price:    price,
		Attrib: TickAttrib{
			CanAutoExecute: attrib.CanAutoExecute,
			PastLimit:      attrib.PastLimit,
			PreOpen:        attrib.PreOpen,
		},
	})
}

func (w *wrapper) TickSize(reqID ibapi.TickerID, tickType ibapi.TickType, size ibapi.Decimal) {
	w.c.enqueue(TickSize{TickerID: int64(reqID), Field: int(tickType), Size: fromDecimal(size)})
}

func (w *wrapper) MarketDataType(reqID ibapi.TickerID, marketDataType int64) {
	w.c.enqueue(MarketDataType{ReqID: int64(reqID), DataType: int(marketDataType)})
}

func (w *wrapper) OrderStatus(orderID ibapi.OrderID, status string, filled ibapi.Decimal, remaining ibapi.Decimal, avgFillPrice float64, permID int64, parentID int64, lastFillPrice float64, clientID int64, whyHeld string, mktCapPrice float64) {
	w.c.enqueue(OrderStatus{
		OrderID:       int64(orderID),
		Status:        status,
		Filled:        fromDecimal(filled),
		Remaining:     fromDecimal(remaining),
		AvgFillPrice:  unsetToZero(avgFillPrice),
		PermID:        permID,
		ParentID:      parentID,
		LastFillPrice: unsetToZero(lastFillPrice),
		ClientID:      clientID,
		WhyHeld:       whyHeld,
		MktCapPrice:   unsetToZero(mktCapPrice),
	})
}

func (w *wrapper) OpenOrder(orderID ibapi.OrderID, contract *ibapi.Contract, order *ibapi.Order, orderState *ibapi.OrderState) {
	if contract == nil || order == nil {
		w.c.dropMalformed(InOpenOrder, int64(orderID))
		return
	}
	m := OpenOrder{OrderID: int64(orderID), Contract: fromIBContract(*contract), Order: fromIBOrder(order)}
	if orderState != nil {
		m.Status = orderState.Status
	}
	w.c.enqueue(m)
}

func (w *wrapper) Error(reqID ibapi.TickerID, errorTime int64, errCode int64, errString string, advancedOrderRejectJSON string) {
	w.c.enqueue(ErrorMsg{ID: int64(reqID), Code: int(errCode), Message: errString})
}

func (w *wrapper) ConnectionClosed() {
	w.c.log.Debug("connection_closed_callback")
	w.c.markLost()
}

var _ ibapi.EWrapper = (*wrapper)(nil)

// dropMalformed counts a callback that arrived without its payload.
func (c *Client) dropMalformed(msgID int, id int64) {
	c.obs.DecodeFailed(msgID)
	c.log.Warn("malformed_callback", zap.String("msg", InboundName(msgID)), zap.Int64("id", id))
}
