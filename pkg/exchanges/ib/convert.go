package ib

import (
	"math"
	"strings"

	"github.com/scmhub/ibapi"
	"github.com/shopspring/decimal"

	"trading-console/pkg/exchanges/common"
)

func toIBContract(c common.Contract) *ibapi.Contract {
	return &ibapi.Contract{
		ConID:                        c.ConID,
		Symbol:                       c.Symbol,
		SecType:                      c.SecType,
		LastTradeDateOrContractMonth: c.LastTradeDate,
		Strike:                       c.Strike,
		Right:                        string(c.Right),
		Multiplier:                   c.Multiplier,
		Exchange:                     c.Exchange,
		PrimaryExchange:              c.PrimaryExchange,
		Currency:                     c.Currency,
		LocalSymbol:                  c.LocalSymbol,
		TradingClass:                 c.TradingClass,
	}
}

func fromIBContract(c ibapi.Contract) common.Contract {
	return common.Contract{
		ConID:           c.ConID,
		Symbol:          c.Symbol,
		SecType:         c.SecType,
		LastTradeDate:   c.LastTradeDateOrContractMonth,
		Strike:          unsetToZero(c.Strike),
		Right:           common.Right(c.Right),
		Multiplier:      c.Multiplier,
		Exchange:        c.Exchange,
		PrimaryExchange: c.PrimaryExchange,
		Currency:        c.Currency,
		LocalSymbol:     c.LocalSymbol,
		TradingClass:    c.TradingClass,
	}
}

// toIBOrder starts from the library defaults so every field the console
// does not set goes out as unset.
func toIBOrder(o common.OrderSpec) *ibapi.Order {
	order := ibapi.NewOrder()
	order.Action = string(o.Action)
	order.TotalQuantity = toDecimal(o.TotalQty)
	order.OrderType = string(o.OrderType)
	if o.LmtPrice != 0 {
		order.LmtPrice = o.LmtPrice
	}
	if o.AuxPrice != 0 {
		order.AuxPrice = o.AuxPrice
	}
	order.TIF = string(o.TIF)
	order.Account = o.Account
	order.OutsideRTH = o.OutsideRTH
	order.ParentID = o.ParentID
	order.Transmit = o.Transmit
	return order
}

func fromIBOrder(o *ibapi.Order) common.OrderSpec {
	return common.OrderSpec{
		Action:     common.Action(o.Action),
		TotalQty:   fromDecimal(o.TotalQuantity),
		OrderType:  common.OrderType(o.OrderType),
		LmtPrice:   unsetToZero(o.LmtPrice),
		AuxPrice:   unsetToZero(o.AuxPrice),
		TIF:        common.TimeInForce(o.TIF),
		Account:    o.Account,
		OutsideRTH: o.OutsideRTH,
		ParentID:   o.ParentID,
		Transmit:   o.Transmit,
	}
}

func fromIBDetails(cd *ibapi.ContractDetails) ContractDetails {
	return ContractDetails{
		Contract:       fromIBContract(cd.Contract),
		MarketName:     cd.MarketName,
		MinTick:        unsetToZero(cd.MinTick),
		OrderTypes:     splitCSV(cd.OrderTypes),
		ValidExchanges: splitCSV(cd.ValidExchanges),
		LongName:       cd.LongName,
	}
}

func fromIBDescription(cd ibapi.ContractDescription) ContractDescription {
	c := fromIBContract(cd.Contract)
	return ContractDescription{
		Contract: common.Contract{
			ConID:           c.ConID,
			Symbol:          c.Symbol,
			SecType:         c.SecType,
			PrimaryExchange: c.PrimaryExchange,
			Currency:        c.Currency,
		},
		DerivativeSecTypes: cd.DerivativeSecTypes,
		Description:        cd.Contract.Description,
	}
}

// toDecimal renders v in shortest form; the venue rejects exponents.
func toDecimal(v float64) ibapi.Decimal {
	return ibapi.StringToDecimal(decimal.NewFromFloat(v).String())
}

// fromDecimal reads an unset or unparsable size as zero.
func fromDecimal(d ibapi.Decimal) float64 {
	v, err := decimal.NewFromString(ibapi.DecimalToString(d))
	if err != nil {
		return 0
	}
	f, _ := v.Float64()
	return f
}

// unsetToZero maps the library's unset sentinel to zero.
func unsetToZero(v float64) float64 {
	if v == math.MaxFloat64 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// splitCSV splits the venue's comma separated lists, dropping blanks.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
