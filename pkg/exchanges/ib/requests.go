package ib

import (
	"context"
	"strings"

	"github.com/scmhub/ibapi"

	"trading-console/pkg/exchanges/common"
)

// ReqMatchingSymbols searches contracts whose symbol or name matches pattern.
func (c *Client) ReqMatchingSymbols(ctx context.Context, reqID int64, pattern string) error {
	return c.send(ctx, OutReqMatchingSymbols, func(ec *ibapi.EClient) {
		ec.ReqMatchingSymbols(reqID, pattern)
	})
}

// ReqContractDetails asks for every contract matching the given fields.
func (c *Client) ReqContractDetails(ctx context.Context, reqID int64, contract common.Contract) error {
	return c.send(ctx, OutReqContractData, func(ec *ibapi.EClient) {
		ec.ReqContractDetails(reqID, toIBContract(contract))
	})
}

// ReqSecDefOptParams asks for the option chains of an underlying.
func (c *Client) ReqSecDefOptParams(ctx context.Context, reqID int64, symbol, secType string, underlyingConID int64) error {
	return c.send(ctx, OutReqSecDefOptParams, func(ec *ibapi.EClient) {
		ec.ReqSecDefOptParams(reqID, strings.ToUpper(symbol), "", secType, underlyingConID)
	})
}

// ReqMktData starts streaming quotes for contract under tickerID.
func (c *Client) ReqMktData(ctx context.Context, tickerID int64, contract common.Contract, genericTicks string, snapshot bool) error {
	return c.send(ctx, OutReqMktData, func(ec *ibapi.EClient) {
		ec.ReqMktData(tickerID, toIBContract(contract), genericTicks, snapshot, false, nil)
	})
}

// CancelMktData stops the stream for tickerID.
func (c *Client) CancelMktData(ctx context.Context, tickerID int64) error {
	return c.send(ctx, OutCancelMktData, func(ec *ibapi.EClient) {
		ec.CancelMktData(tickerID)
	})
}

// PlaceOrder sends an order under the caller-allocated orderID.
func (c *Client) PlaceOrder(ctx context.Context, orderID int64, contract common.Contract, spec common.OrderSpec) error {
	return c.send(ctx, OutPlaceOrder, func(ec *ibapi.EClient) {
		ec.PlaceOrder(orderID, toIBContract(contract), toIBOrder(spec))
	})
}

// CancelOrder requests cancellation of orderID.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	return c.send(ctx, OutCancelOrder, func(ec *ibapi.EClient) {
		ec.CancelOrder(orderID, ibapi.NewOrderCancel())
	})
}

// ReqCurrentTime asks for the venue clock; used as a heartbeat.
func (c *Client) ReqCurrentTime(ctx context.Context) error {
	return c.send(ctx, OutReqCurrentTime, func(ec *ibapi.EClient) {
		ec.ReqCurrentTime()
	})
}

// ReqMarketDataType selects live, frozen or delayed quotes.
func (c *Client) ReqMarketDataType(ctx context.Context, dataType int) error {
	return c.send(ctx, OutReqMarketDataType, func(ec *ibapi.EClient) {
		ec.ReqMarketDataType(int64(dataType))
	})
}
