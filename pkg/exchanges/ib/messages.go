package ib

import (
	"time"

	"trading-console/pkg/exchanges/common"
)

// Message is one inbound callback queued for the pump. MsgID names the
// wire message it came from.
type Message interface {
	MsgID() int
}

// ContractDescription is one symbol search match.
type ContractDescription struct {
	Contract           common.Contract `json:"contract"`
	DerivativeSecTypes []string        `json:"derivative_sec_types,omitempty"`
	Description        string          `json:"description,omitempty"`
}

// ContractDetails is the venue's full description of a contract.
type ContractDetails struct {
	Contract       common.Contract `json:"contract"`
	MarketName     string          `json:"market_name,omitempty"`
	MinTick        float64         `json:"min_tick"`
	OrderTypes     []string        `json:"order_types,omitempty"`
	ValidExchanges []string        `json:"valid_exchanges,omitempty"`
	LongName       string          `json:"long_name,omitempty"`
}

// OptionChain is one exchange's option parameters for an underlying.
type OptionChain struct {
	Exchange        string    `json:"exchange"`
	UnderlyingConID int64     `json:"underlying_con_id"`
	TradingClass    string    `json:"trading_class"`
	Multiplier      string    `json:"multiplier"`
	Expirations     []string  `json:"expirations"`
	Strikes         []float64 `json:"strikes"`
}

type NextValidID struct {
	OrderID int64
}

type ManagedAccounts struct {
	Accounts []string
}

type CurrentTime struct {
	Time time.Time
}

type SymbolSamples struct {
	ReqID        int64
	Descriptions []ContractDescription
}

type ContractData struct {
	ReqID   int64
	Details ContractDetails
}

type ContractDataEnd struct {
	ReqID int64
}

type SecDefOptParams struct {
	ReqID int64
	Chain OptionChain
}

type SecDefOptParamsEnd struct {
	ReqID int64
}

// TickAttrib holds the bit flags sent with a price tick.
type TickAttrib struct {
	CanAutoExecute bool
	PastLimit      bool
	PreOpen        bool
}

// TickPrice carries a price only; the size sent with it arrives as a
// separate TickSize.
type TickPrice struct {
	TickerID int64
	Field    int
	Price    float64
	Attrib   TickAttrib
}

type TickSize struct {
	TickerID int64
	Field    int
	Size     float64
}

type OrderStatus struct {
	OrderID       int64
	Status        string
	Filled        float64
	Remaining     float64
	AvgFillPrice  float64
	PermID        int64
	ParentID      int64
	LastFillPrice float64
	ClientID      int64
	WhyHeld       string
	MktCapPrice   float64
}

type OpenOrder struct {
	OrderID  int64
	Contract common.Contract
	Order    common.OrderSpec
	Status   string
}

// ErrorMsg is an error or notice; ID is -1 when it is not tied to a request.
type ErrorMsg struct {
	ID      int64
	Code    int
	Message string
}

type MarketDataType struct {
	ReqID    int64
	DataType int
}

func (NextValidID) MsgID() int        { return InNextValidID }
func (ManagedAccounts) MsgID() int    { return InManagedAccts }
func (CurrentTime) MsgID() int        { return InCurrentTime }
func (SymbolSamples) MsgID() int      { return InSymbolSamples }
func (ContractData) MsgID() int       { return InContractData }
func (ContractDataEnd) MsgID() int    { return InContractDataEnd }
func (SecDefOptParams) MsgID() int    { return InSecDefOptParam }
func (SecDefOptParamsEnd) MsgID() int { return InSecDefOptParamEnd }
func (TickPrice) MsgID() int          { return InTickPrice }
func (TickSize) MsgID() int           { return InTickSize }
func (OrderStatus) MsgID() int        { return InOrderStatus }
func (OpenOrder) MsgID() int          { return InOpenOrder }
func (ErrorMsg) MsgID() int           { return InErrMsg }
func (MarketDataType) MsgID() int     { return InMarketDataType }
