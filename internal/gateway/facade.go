package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"trading-console/internal/bracket"
	"trading-console/internal/correlation"
	"trading-console/internal/market"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

var _ common.Gateway = (*Session)(nil)

// Status summarizes the session for operators.
type Status struct {
	SessionID     string         `json:"session_id"`
	Connected     bool           `json:"connected"`
	Ready         bool           `json:"ready"`
	ServerVersion int            `json:"server_version,omitempty"`
	ConnectedAt   time.Time      `json:"connected_at,omitempty"`
	Accounts      []string       `json:"accounts,omitempty"`
	LastHeartbeat time.Time      `json:"last_heartbeat,omitempty"`
	ClockOffsetMS int64          `json:"clock_offset_ms"`
	Pending       map[string]int `json:"pending"`
	Subscriptions int            `json:"subscriptions"`
}

// Status returns a point-in-time summary.
func (s *Session) Status() Status {
	st := Status{SessionID: s.id, Ready: s.tracker.Ready(), Pending: s.PendingCounts()}
	s.mu.Lock()
	if s.client != nil {
		st.Connected = true
		st.ServerVersion = s.client.ServerVersion()
		st.ConnectedAt = s.connectedAt
		st.Accounts = append([]string(nil), s.accounts...)
	}
	st.LastHeartbeat = s.lastHeartbeat
	s.mu.Unlock()
	st.ClockOffsetMS = s.clock.Offset().Milliseconds()
	st.Subscriptions = s.market.Len()
	return st
}

// PendingCounts returns outstanding requests and acks by kind.
func (s *Session) PendingCounts() map[string]int {
	place, cancel := s.tracker.PendingAcks()
	return map[string]int{
		KindSymbols:  s.symbols.Pending(),
		KindDetails:  s.details.Pending(),
		KindOptions:  s.options.Pending(),
		KindPlaceAck: place,
		KindCancel:   cancel,
	}
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

// SearchSymbols looks up contracts whose symbol or name matches query.
func (s *Session) SearchSymbols(ctx context.Context, query string) ([]ib.ContractDescription, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty symbol query", ErrInvalidArgument)
	}
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, fut := s.symbols.Begin()
	if err := c.ReqMatchingSymbols(ctx, id, query); err != nil {
		s.symbols.Fail(id, err)
		return nil, fmt.Errorf("search symbols: %w", err)
	}
	return correlation.Await(ctx, s.symbols, id, fut)
}

// GetContractDetails returns every contract matching the description.
func (s *Session) GetContractDetails(ctx context.Context, contract common.Contract) ([]ib.ContractDetails, error) {
	if contract.ConID == 0 && contract.Symbol == "" {
		return nil, fmt.Errorf("%w: contract id or symbol required", ErrInvalidArgument)
	}
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, fut := s.details.Begin()
	if err := c.ReqContractDetails(ctx, id, contract); err != nil {
		s.details.Fail(id, err)
		return nil, fmt.Errorf("contract details: %w", err)
	}
	return correlation.Await(ctx, s.details, id, fut)
}

// GetContractDetailsByID resolves a venue contract id.
func (s *Session) GetContractDetailsByID(ctx context.Context, conID int64) ([]ib.ContractDetails, error) {
	return s.GetContractDetails(ctx, common.ContractByID(conID))
}

// GetContractDetailsBySymbol looks up a SMART-routed USD contract; secType
// defaults to STK.
func (s *Session) GetContractDetailsBySymbol(ctx context.Context, symbol, secType string) ([]ib.ContractDetails, error) {
	contract := common.StockContract(symbol)
	if secType != "" {
		contract.SecType = strings.ToUpper(secType)
	}
	return s.GetContractDetails(ctx, contract)
}

// GetOptionParams returns the option chains for an underlying stock.
func (s *Session) GetOptionParams(ctx context.Context, underlyingID int64, symbol string) ([]ib.OptionChain, error) {
	if underlyingID <= 0 || strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("%w: underlying id and symbol required", ErrInvalidArgument)
	}
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, fut := s.options.Begin()
	if err := c.ReqSecDefOptParams(ctx, id, strings.ToUpper(symbol), common.SecTypeStock, underlyingID); err != nil {
		s.options.Fail(id, err)
		return nil, fmt.Errorf("option params: %w", err)
	}
	return correlation.Await(ctx, s.options, id, fut)
}

// ResolveOptionContractID finds the contract id of one option. It fails
// with ErrContractNotFound or ErrAmbiguousContract unless exactly one
// contract matches.
func (s *Session) ResolveOptionContractID(ctx context.Context, symbol string, right common.Right, expiry string, strike float64) (int64, error) {
	if strike <= 0 || len(expiry) != 8 {
		return 0, fmt.Errorf("%w: expiry must be YYYYMMDD and strike positive", ErrInvalidArgument)
	}
	details, err := s.GetContractDetails(ctx, common.OptionContract(symbol, right, expiry, strike))
	var apiErr *ib.APIError
	if errors.As(err, &apiErr) && apiErr.Code == ib.CodeNoSecurityDefinition {
		return 0, fmt.Errorf("%w: %s %s %s %.2f", ErrContractNotFound, symbol, expiry, right, strike)
	}
	if err != nil {
		return 0, err
	}

	// The venue may list the same option once per exchange.
	ids := make(map[int64]struct{}, len(details))
	for _, d := range details {
		if d.Contract.Strike != 0 && math.Abs(d.Contract.Strike-strike) > 1e-9 {
			continue
		}
		ids[d.Contract.ConID] = struct{}{}
	}
	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("%w: %s %s %s %.2f", ErrContractNotFound, symbol, expiry, right, strike)
	case 1:
		for id := range ids {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %d contracts match %s %s %s %.2f", ErrAmbiguousContract, len(ids), symbol, expiry, right, strike)
}

// SubscribeMarketData starts a quote stream for a contract id and returns
// its ticker id without waiting for the first tick.
func (s *Session) SubscribeMarketData(ctx context.Context, conID int64) (int64, error) {
	if conID <= 0 {
		return 0, fmt.Errorf("%w: contract id required", ErrInvalidArgument)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.market.Subscribe(ctx, common.ContractByID(conID))
}

// UnsubscribeMarketData stops a quote stream; unknown ids are a no-op.
func (s *Session) UnsubscribeMarketData(ctx context.Context, tickerID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.market.Unsubscribe(ctx, tickerID)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// GetSnapshot returns the latest quote for a ticker id.
func (s *Session) GetSnapshot(tickerID int64) (market.Snapshot, bool) {
	return s.market.GetSnapshot(tickerID)
}

// PlaceOrder sends spec and waits for the venue's first acknowledgement.
// The session's default account is used when spec has none.
func (s *Session) PlaceOrder(ctx context.Context, contract common.Contract, spec common.OrderSpec) (int64, error) {
	if spec.Account == "" {
		spec = spec.WithAccount(s.cfg.Account)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.tracker.PlaceOrder(ctx, contract, spec)
}

// PlaceMarketBuy buys qty at market.
func (s *Session) PlaceMarketBuy(ctx context.Context, contract common.Contract, qty float64, tif common.TimeInForce) (int64, error) {
	return s.PlaceOrder(ctx, contract, common.MarketOrder(common.ActionBuy, qty, tif))
}

// PlaceLimitBuy buys qty at price or better.
func (s *Session) PlaceLimitBuy(ctx context.Context, contract common.Contract, qty, price float64, tif common.TimeInForce) (int64, error) {
	return s.PlaceOrder(ctx, contract, common.LimitOrder(common.ActionBuy, qty, price, tif))
}

// CancelOrder waits until the venue reports the order cancelled.
func (s *Session) CancelOrder(ctx context.Context, orderID int64) error {
	if _, err := s.current(); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.tracker.CancelOrder(ctx, orderID)
}

// OrderStatus returns the last status the venue reported for orderID.
func (s *Session) OrderStatus(orderID int64) (string, bool) {
	return s.tracker.Status(orderID)
}

// PlaceBreakoutWithProtectiveStop places a stop-limit breakout entry and its
// protective stop.
func (s *Session) PlaceBreakoutWithProtectiveStop(ctx context.Context, req bracket.Request) (bracket.Pair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.brackets.PlaceBreakoutWithProtectiveStop(ctx, s.bracketDefaults(req))
}

// PlaceBracket places a bracket with the entry chosen by req.Mode.
func (s *Session) PlaceBracket(ctx context.Context, req bracket.Request) (bracket.Pair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.brackets.Place(ctx, s.bracketDefaults(req))
}

func (s *Session) bracketDefaults(req bracket.Request) bracket.Request {
	if req.Account == "" {
		req.Account = s.cfg.Account
	}
	return req
}
