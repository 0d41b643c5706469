package ibtest

import (
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

// Fixture contract ids.
const (
	AAPLConID        = 265598
	MSFTConID        = 272093
	AAPLCall150ConID = 700150
	AAPLPut150ConID  = 710150
	AAPLCall155ConID = 700155
	AAPLExpiry       = "20250117"
)

func stock(conID int64, symbol, primary, name string) ib.ContractDetails {
	c := common.StockContract(symbol)
	c.ConID = conID
	c.PrimaryExchange = primary
	c.LocalSymbol = symbol
	c.TradingClass = primary
	return ib.ContractDetails{
		Contract:       c,
		MarketName:     primary,
		MinTick:        0.01,
		OrderTypes:     []string{"LMT", "MKT", "STP", "STP LMT"},
		ValidExchanges: []string{"SMART", primary},
		LongName:       name,
	}
}

func option(conID int64, right common.Right, strike float64) ib.ContractDetails {
	c := common.OptionContract("AAPL", right, AAPLExpiry, strike)
	c.ConID = conID
	c.TradingClass = "AAPL"
	return ib.ContractDetails{
		Contract:       c,
		MarketName:     "AAPL",
		MinTick:        0.01,
		OrderTypes:     []string{"LMT", "MKT"},
		ValidExchanges: []string{"SMART", "CBOE"},
		LongName:       "APPLE INC",
	}
}

// DefaultContracts is the fixture set served unless WithContracts is used.
func DefaultContracts() []ib.ContractDetails {
	return []ib.ContractDetails{
		stock(AAPLConID, "AAPL", "NASDAQ", "APPLE INC"),
		stock(MSFTConID, "MSFT", "NASDAQ", "MICROSOFT CORP"),
		option(AAPLCall150ConID, common.RightCall, 150),
		option(AAPLPut150ConID, common.RightPut, 150),
		option(AAPLCall155ConID, common.RightCall, 155),
	}
}

// DefaultChains is the option chain set served for AAPL.
func DefaultChains() []ib.OptionChain {
	return []ib.OptionChain{
		{
			Exchange:        "SMART",
			UnderlyingConID: AAPLConID,
			TradingClass:    "AAPL",
			Multiplier:      "100",
			Expirations:     []string{AAPLExpiry, "20250221"},
			Strikes:         []float64{145, 150, 155},
		},
		{
			Exchange:        "CBOE",
			UnderlyingConID: AAPLConID,
			TradingClass:    "AAPL",
			Multiplier:      "100",
			Expirations:     []string{AAPLExpiry},
			Strikes:         []float64{150, 155},
		},
	}
}
