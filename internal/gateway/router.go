package gateway

import (
	"time"

	"go.uber.org/zap"

	"trading-console/internal/correlation"
	"trading-console/pkg/exchanges/ib"
)

// router is the inbound handler for one client. It runs on that client's
// pump goroutine.
type router struct {
	ib.NoopHandler
	s         *Session
	client    *ib.Client
	handshake *correlation.Future[int64]
}

func (r *router) OnNextValidID(m ib.NextValidID) {
	if !r.s.isCurrent(r.client) {
		return
	}
	r.s.tracker.SetNextValidID(m.OrderID)
	if r.handshake.Resolve(m.OrderID) {
		r.s.log.Info("handshake_complete", zap.Int64("next_valid_id", m.OrderID))
	}
}

func (r *router) OnManagedAccounts(m ib.ManagedAccounts) {
	r.s.mu.Lock()
	r.s.accounts = append([]string(nil), m.Accounts...)
	r.s.mu.Unlock()
	r.s.log.Info("managed_accounts", zap.Strings("accounts", m.Accounts))
}

func (r *router) OnCurrentTime(m ib.CurrentTime) {
	r.s.mu.Lock()
	r.s.lastHeartbeat = m.Time
	r.s.mu.Unlock()
	offset := r.s.clock.Observe(m.Time, time.Now())
	if offset > maxClockSkew || offset < -maxClockSkew {
		r.s.log.Warn("venue_clock_skew", zap.Duration("offset", offset))
	}
}

func (r *router) OnSymbolSamples(m ib.SymbolSamples) {
	r.s.symbols.CompleteWith(m.ReqID, m.Descriptions)
}

func (r *router) OnContractData(m ib.ContractData) {
	r.s.details.AppendPartial(m.ReqID, m.Details)
}

func (r *router) OnContractDataEnd(m ib.ContractDataEnd) {
	r.s.details.Complete(m.ReqID)
}

func (r *router) OnSecDefOptParams(m ib.SecDefOptParams) {
	r.s.options.AppendPartial(m.ReqID, m.Chain)
}

func (r *router) OnSecDefOptParamsEnd(m ib.SecDefOptParamsEnd) {
	r.s.options.Complete(m.ReqID)
}

func (r *router) OnTickPrice(m ib.TickPrice)           { r.s.market.OnTickPrice(m) }
func (r *router) OnTickSize(m ib.TickSize)             { r.s.market.OnTickSize(m) }
func (r *router) OnMarketDataType(m ib.MarketDataType) { r.s.market.OnMarketDataType(m) }
func (r *router) OnOrderStatus(m ib.OrderStatus)       { r.s.tracker.OnOrderStatus(m) }
func (r *router) OnOpenOrder(m ib.OpenOrder)           { r.s.tracker.OnOpenOrder(m) }

// OnError routes a venue error to the first owner of its id: the order
// tracker, then the request registries, then the market data cache.
// Anything left over is only logged.
func (r *router) OnError(m ib.ErrorMsg) {
	log := r.s.log
	fields := []zap.Field{zap.Int64("id", m.ID), zap.Int("code", m.Code), zap.String("msg", m.Message)}

	if m.ID < 0 {
		if ib.IsInformational(m.Code) {
			log.Info("venue_notice", fields...)
		} else {
			log.Warn("untagged_error", fields...)
		}
		return
	}

	if r.s.tracker.HandleError(m.ID, m.Code, m.Message) {
		return
	}

	apiErr := &ib.APIError{ID: m.ID, Code: m.Code, Message: m.Message}
	for _, reg := range []interface {
		Owns(int64) bool
		Fail(int64, error) bool
		Kind() string
	}{r.s.symbols, r.s.details, r.s.options} {
		if !reg.Owns(m.ID) {
			continue
		}
		if ib.IsInformational(m.Code) {
			log.Info("request_notice", append(fields, zap.String("kind", reg.Kind()))...)
			return
		}
		reg.Fail(m.ID, apiErr)
		log.Warn("request_failed", append(fields, zap.String("kind", reg.Kind()))...)
		return
	}

	if r.s.market.HandleError(m.ID, m.Code, m.Message) {
		return
	}
	log.Warn("unrouted_error", fields...)
}
