package bracket

import "github.com/shopspring/decimal"

// DefaultStopLimitSlippage is how far below the stop trigger the protective
// stop-limit is allowed to fill.
const DefaultStopLimitSlippage = 0.05

const pricePlaces = 2

// Levels are the derived prices of a bracket, rounded to cents.
type Levels struct {
	StopTrigger  float64 `json:"stop_trigger"`
	LimitCap     float64 `json:"limit_cap"`
	StopAbsolute float64 `json:"stop_absolute"`
	StopLimit    float64 `json:"stop_limit"`
}

// ComputeLevels derives the parent and child prices from a trigger. Every
// level is rounded half away from zero to two places.
func ComputeLevels(trigger, offset, stopLoss, slippage float64) Levels {
	t := decimal.NewFromFloat(trigger)
	stopAbs := round(t.Sub(decimal.NewFromFloat(stopLoss)))
	return Levels{
		StopTrigger:  round(t).InexactFloat64(),
		LimitCap:     round(t.Add(decimal.NewFromFloat(offset))).InexactFloat64(),
		StopAbsolute: stopAbs.InexactFloat64(),
		StopLimit:    round(stopAbs.Sub(decimal.NewFromFloat(slippage))).InexactFloat64(),
	}
}

// RoundPrice rounds p to cents, half away from zero.
func RoundPrice(p float64) float64 {
	return round(decimal.NewFromFloat(p)).InexactFloat64()
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(pricePlaces)
}
