package common

import (
	"fmt"
	"strings"
)

// Action denotes order side.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderType denotes the order types the console places.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP LMT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFOPG TimeInForce = "OPG" // At the opening
)

// ParseTIF normalizes a user supplied TIF, defaulting to DAY when empty.
func ParseTIF(s string) (TimeInForce, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DAY":
		return TIFDay, nil
	case "GTC":
		return TIFGTC, nil
	case "IOC":
		return TIFIOC, nil
	case "OPG":
		return TIFOPG, nil
	default:
		return "", fmt.Errorf("unsupported time in force %q", s)
	}
}

// Right is an option right.
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// ParseRight accepts C/P/CALL/PUT in any case.
func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return RightCall, nil
	case "P", "PUT":
		return RightPut, nil
	default:
		return "", fmt.Errorf("invalid option right %q", s)
	}
}

// Security types.
const (
	SecTypeStock  = "STK"
	SecTypeOption = "OPT"
	SecTypeFuture = "FUT"
	SecTypeIndex  = "IND"
)

const (
	DefaultExchange = "SMART"
	DefaultCurrency = "USD"
)

// Contract identifies an instrument at the venue. A non-zero ConID is
// sufficient on its own; the remaining fields narrow a lookup by symbol.
type Contract struct {
	ConID           int64   `json:"con_id,omitempty"`
	Symbol          string  `json:"symbol,omitempty"`
	SecType         string  `json:"sec_type,omitempty"`
	LastTradeDate   string  `json:"last_trade_date,omitempty"`
	Strike          float64 `json:"strike,omitempty"`
	Right           Right   `json:"right,omitempty"`
	Multiplier      string  `json:"multiplier,omitempty"`
	Exchange        string  `json:"exchange,omitempty"`
	PrimaryExchange string  `json:"primary_exchange,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	LocalSymbol     string  `json:"local_symbol,omitempty"`
	TradingClass    string  `json:"trading_class,omitempty"`
}

// ContractByID references an already resolved contract.
func ContractByID(conID int64) Contract {
	return Contract{ConID: conID, Exchange: DefaultExchange}
}

// StockContract builds a SMART-routed USD stock contract.
func StockContract(symbol string) Contract {
	return Contract{
		Symbol:   strings.ToUpper(symbol),
		SecType:  SecTypeStock,
		Exchange: DefaultExchange,
		Currency: DefaultCurrency,
	}
}

// OptionContract builds an option lookup contract. expiry is YYYYMMDD.
func OptionContract(symbol string, right Right, expiry string, strike float64) Contract {
	return Contract{
		Symbol:        strings.ToUpper(symbol),
		SecType:       SecTypeOption,
		LastTradeDate: expiry,
		Strike:        strike,
		Right:         right,
		Multiplier:    "100",
		Exchange:      DefaultExchange,
		Currency:      DefaultCurrency,
	}
}

// String is used in logs.
func (c Contract) String() string {
	if c.ConID != 0 && c.Symbol == "" {
		return fmt.Sprintf("conid:%d", c.ConID)
	}
	if c.SecType == SecTypeOption {
		return fmt.Sprintf("%s %s %s %.2f", c.Symbol, c.LastTradeDate, c.Right, c.Strike)
	}
	return c.Symbol
}

// OrderSpec captures an order intent to be sent to the venue.
// Values are built by the constructors below and adjusted with the With*
// methods, which return modified copies.
type OrderSpec struct {
	Action     Action      `json:"action"`
	OrderType  OrderType   `json:"order_type"`
	TotalQty   float64     `json:"total_qty"`
	LmtPrice   float64     `json:"lmt_price,omitempty"`
	AuxPrice   float64     `json:"aux_price,omitempty"` // stop trigger
	TIF        TimeInForce `json:"tif"`
	OutsideRTH bool        `json:"outside_rth,omitempty"`
	Account    string      `json:"account,omitempty"`
	ParentID   int64       `json:"parent_id,omitempty"`
	Transmit   bool        `json:"transmit"`
}

// MarketOrder returns a transmitting market order.
func MarketOrder(action Action, qty float64, tif TimeInForce) OrderSpec {
	return OrderSpec{Action: action, OrderType: OrderTypeMarket, TotalQty: qty, TIF: tif, Transmit: true}
}

// LimitOrder returns a transmitting limit order.
func LimitOrder(action Action, qty, price float64, tif TimeInForce) OrderSpec {
	return OrderSpec{Action: action, OrderType: OrderTypeLimit, TotalQty: qty, LmtPrice: price, TIF: tif, Transmit: true}
}

// StopLimitOrder returns a transmitting stop-limit order triggering at stop.
func StopLimitOrder(action Action, qty, stop, limit float64, tif TimeInForce) OrderSpec {
	return OrderSpec{
		Action:    action,
		OrderType: OrderTypeStopLimit,
		TotalQty:  qty,
		LmtPrice:  limit,
		AuxPrice:  stop,
		TIF:       tif,
		Transmit:  true,
	}
}

func (o OrderSpec) WithTransmit(transmit bool) OrderSpec {
	o.Transmit = transmit
	return o
}

func (o OrderSpec) WithParent(parentID int64) OrderSpec {
	o.ParentID = parentID
	return o
}

func (o OrderSpec) WithAccount(account string) OrderSpec {
	o.Account = account
	return o
}

func (o OrderSpec) WithOutsideRTH(outside bool) OrderSpec {
	o.OutsideRTH = outside
	return o
}

// Validate checks the fields the venue would otherwise reject asynchronously.
func (o OrderSpec) Validate() error {
	if o.Action != ActionBuy && o.Action != ActionSell {
		return fmt.Errorf("invalid action %q", o.Action)
	}
	if o.TotalQty <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", o.TotalQty)
	}
	switch o.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.LmtPrice <= 0 {
			return fmt.Errorf("limit price must be positive, got %v", o.LmtPrice)
		}
	case OrderTypeStop:
		if o.AuxPrice <= 0 {
			return fmt.Errorf("stop price must be positive, got %v", o.AuxPrice)
		}
	case OrderTypeStopLimit:
		if o.AuxPrice <= 0 || o.LmtPrice <= 0 {
			return fmt.Errorf("stop-limit prices must be positive, got stop=%v limit=%v", o.AuxPrice, o.LmtPrice)
		}
	default:
		return fmt.Errorf("unsupported order type %q", o.OrderType)
	}
	return nil
}

// OrderAck is the first confirmation that the venue accepted an order.
type OrderAck struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}
