// Package ib connects the console to the gateway through the ibapi client.
// The library owns the socket, the handshake and the wire codec; this
// package adapts its callbacks into typed messages and runs them through a
// single pump goroutine, so a Handler never sees two callbacks at once.
package ib

import "strconv"

// MinServerVersion is the oldest gateway accepted. Symbol search needs it.
const MinServerVersion = 108

// Outbound message ids.
const (
	OutReqMktData         = 1
	OutCancelMktData      = 2
	OutPlaceOrder         = 3
	OutCancelOrder        = 4
	OutReqContractData    = 9
	OutReqCurrentTime     = 49
	OutReqMarketDataType  = 59
	OutStartAPI           = 71
	OutReqSecDefOptParams = 78
	OutReqMatchingSymbols = 81
)

// Inbound message ids.
const (
	InTickPrice         = 1
	InTickSize          = 2
	InOrderStatus       = 3
	InErrMsg            = 4
	InOpenOrder         = 5
	InNextValidID       = 9
	InContractData      = 10
	InManagedAccts      = 15
	InCurrentTime       = 49
	InContractDataEnd   = 52
	InMarketDataType    = 58
	InSecDefOptParam    = 75
	InSecDefOptParamEnd = 76
	InSymbolSamples     = 79
)

var inboundNames = map[int]string{
	InTickPrice:         "tick_price",
	InTickSize:          "tick_size",
	InOrderStatus:       "order_status",
	InErrMsg:            "error",
	InOpenOrder:         "open_order",
	InNextValidID:       "next_valid_id",
	InContractData:      "contract_data",
	InManagedAccts:      "managed_accounts",
	InCurrentTime:       "current_time",
	InContractDataEnd:   "contract_data_end",
	InMarketDataType:    "market_data_type",
	InSecDefOptParam:    "sec_def_opt_params",
	InSecDefOptParamEnd: "sec_def_opt_params_end",
	InSymbolSamples:     "symbol_samples",
}

var outboundNames = map[int]string{
	OutReqMktData:         "req_mkt_data",
	OutCancelMktData:      "cancel_mkt_data",
	OutPlaceOrder:         "place_order",
	OutCancelOrder:        "cancel_order",
	OutReqContractData:    "req_contract_data",
	OutReqCurrentTime:     "req_current_time",
	OutReqMarketDataType:  "req_market_data_type",
	OutStartAPI:           "start_api",
	OutReqSecDefOptParams: "req_sec_def_opt_params",
	OutReqMatchingSymbols: "req_matching_symbols",
}

// InboundName returns a metrics-friendly name for an inbound message id.
func InboundName(id int) string {
	if n, ok := inboundNames[id]; ok {
		return n
	}
	return "unknown_" + strconv.Itoa(id)
}

// OutboundName returns a metrics-friendly name for an outbound message id.
func OutboundName(id int) string {
	if n, ok := outboundNames[id]; ok {
		return n
	}
	return "unknown_" + strconv.Itoa(id)
}

// Tick field codes.
const (
	TickBidSize  = 0
	TickBid      = 1
	TickAsk      = 2
	TickAskSize  = 3
	TickLast     = 4
	TickLastSize = 5
	TickHigh     = 6
	TickLow      = 7
	TickVolume   = 8
	TickClose    = 9
	TickOpen     = 14

	TickDelayedBid      = 66
	TickDelayedAsk      = 67
	TickDelayedLast     = 68
	TickDelayedBidSize  = 69
	TickDelayedAskSize  = 70
	TickDelayedLastSize = 71
	TickDelayedHigh     = 72
	TickDelayedLow      = 73
	TickDelayedVolume   = 74
	TickDelayedClose    = 75
	TickDelayedOpen     = 76
)

// Market data types.
const (
	MarketDataLive          = 1
	MarketDataFrozen        = 2
	MarketDataDelayed       = 3
	MarketDataDelayedFrozen = 4
)
