// Package market keeps the latest quote snapshot per market data
// subscription and fans updates out to in-process listeners.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-console/internal/correlation"
	"trading-console/internal/events"
	"trading-console/pkg/cache"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

// ErrUnknownTicker is returned for ticker ids with no active subscription.
var ErrUnknownTicker = errors.New("unknown ticker id")

// Sender is the outbound half of the venue session used for market data.
type Sender interface {
	ReqMktData(ctx context.Context, tickerID int64, contract common.Contract, genericTicks string, snapshot bool) error
	CancelMktData(ctx context.Context, tickerID int64) error
}

// Publisher receives tick events.
type Publisher interface {
	Publish(e events.Event, payload any)
}

// Snapshot is the latest known quote for one subscription. Zero means the
// field has not been received yet.
type Snapshot struct {
	TickerID       int64     `json:"ticker_id"`
	ConID          int64     `json:"con_id"`
	Symbol         string    `json:"symbol,omitempty"`
	Bid            float64   `json:"bid"`
	Ask            float64   `json:"ask"`
	Last           float64   `json:"last"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Close          float64   `json:"close"`
	Open           float64   `json:"open"`
	BidSize        float64   `json:"bid_size"`
	AskSize        float64   `json:"ask_size"`
	LastSize       float64   `json:"last_size"`
	Volume         float64   `json:"volume"`
	MarketDataType int       `json:"market_data_type,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Mid returns the bid/ask midpoint, or zero when either side is missing.
func (s Snapshot) Mid() float64 {
	if s.Bid <= 0 || s.Ask <= 0 {
		return 0
	}
	return (s.Bid + s.Ask) / 2
}

func priceField(s *Snapshot, field int) *float64 {
	switch field {
	case ib.TickBid, ib.TickDelayedBid:
		return &s.Bid
	case ib.TickAsk, ib.TickDelayedAsk:
		return &s.Ask
	case ib.TickLast, ib.TickDelayedLast:
		return &s.Last
	case ib.TickHigh, ib.TickDelayedHigh:
		return &s.High
	case ib.TickLow, ib.TickDelayedLow:
		return &s.Low
	case ib.TickClose, ib.TickDelayedClose:
		return &s.Close
	case ib.TickOpen, ib.TickDelayedOpen:
		return &s.Open
	}
	return nil
}

func sizeField(s *Snapshot, field int) *float64 {
	switch field {
	case ib.TickBidSize, ib.TickDelayedBidSize:
		return &s.BidSize
	case ib.TickAskSize, ib.TickDelayedAskSize:
		return &s.AskSize
	case ib.TickLastSize, ib.TickDelayedLastSize:
		return &s.LastSize
	case ib.TickVolume, ib.TickDelayedVolume:
		return &s.Volume
	}
	return nil
}

// Cache holds one snapshot per active subscription. Ticks are applied on
// the pump goroutine; snapshots can be read from any goroutine.
type Cache struct {
	sender Sender
	ids    *correlation.IDSource
	log    *zap.Logger
	pub    Publisher
	now    func() time.Time

	snaps *cache.Sharded[Snapshot]

	subMu   sync.RWMutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// Option customizes a Cache.
type Option func(*Cache)

func WithLogger(l *zap.Logger) Option       { return func(c *Cache) { c.log = l } }
func WithPublisher(p Publisher) Option      { return func(c *Cache) { c.pub = p } }
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// NewCache builds a cache sending through sender and drawing ticker ids
// from ids.
func NewCache(sender Sender, ids *correlation.IDSource, opts ...Option) *Cache {
	c := &Cache{
		sender: sender,
		ids:    ids,
		log:    zap.NewNop(),
		now:    time.Now,
		snaps:  cache.NewSharded[Snapshot](),
		subs:   make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe starts streaming quotes for contract and returns the ticker id
// right away; the snapshot fills in as ticks arrive.
func (c *Cache) Subscribe(ctx context.Context, contract common.Contract) (int64, error) {
	tickerID := c.ids.Next()
	c.snaps.Put(tickerID, Snapshot{TickerID: tickerID, ConID: contract.ConID, Symbol: contract.Symbol})

	if err := c.sender.ReqMktData(ctx, tickerID, contract, "", false); err != nil {
		c.snaps.Delete(tickerID)
		return 0, fmt.Errorf("request market data: %w", err)
	}
	c.log.Info("marketdata_subscribed", zap.Int64("ticker_id", tickerID), zap.Stringer("contract", contract))
	return tickerID, nil
}

// Unsubscribe stops the stream. Unknown or already cancelled ids are a no-op.
func (c *Cache) Unsubscribe(ctx context.Context, tickerID int64) error {
	if !c.snaps.Delete(tickerID) {
		return nil
	}
	c.log.Info("marketdata_unsubscribed", zap.Int64("ticker_id", tickerID))
	if err := c.sender.CancelMktData(ctx, tickerID); err != nil {
		return fmt.Errorf("cancel market data %d: %w", tickerID, err)
	}
	return nil
}

// GetSnapshot returns a copy of the latest snapshot.
func (c *Cache) GetSnapshot(tickerID int64) (Snapshot, bool) {
	return c.snaps.Get(tickerID)
}

// Owns reports whether tickerID is an active subscription.
func (c *Cache) Owns(tickerID int64) bool {
	return c.snaps.Has(tickerID)
}

// Tickers lists active ticker ids in ascending order.
func (c *Cache) Tickers() []int64 {
	return c.snaps.Keys()
}

// Len is the number of active subscriptions.
func (c *Cache) Len() int {
	return c.snaps.Len()
}

// Stats reports active subscriptions per shard.
func (c *Cache) Stats() cache.Stats {
	return c.snaps.Stats()
}

// Reset drops every subscription. The venue forgets them on disconnect.
func (c *Cache) Reset() int {
	return c.snaps.Clear()
}

// AddSubscriber registers fn to be called after every applied tick. fn
// runs on the pump goroutine and must not block.
func (c *Cache) AddSubscriber(fn func(Snapshot)) (remove func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// OnTickPrice applies a price tick. Unknown fields, unknown tickers and
// non-positive prices are ignored.
func (c *Cache) OnTickPrice(m ib.TickPrice) {
	if m.Price <= 0 {
		return
	}
	now := c.now()
	snap, ok := c.snaps.Update(m.TickerID, func(s *Snapshot) bool {
		f := priceField(s, m.Field)
		if f == nil {
			return false
		}
		*f = m.Price
		s.UpdatedAt = now
		return true
	})
	if ok {
		c.emit(snap)
	}
}

// OnTickSize applies a size tick. Negative sizes are ignored.
func (c *Cache) OnTickSize(m ib.TickSize) {
	if m.Size < 0 {
		return
	}
	now := c.now()
	snap, ok := c.snaps.Update(m.TickerID, func(s *Snapshot) bool {
		f := sizeField(s, m.Field)
		if f == nil {
			return false
		}
		*f = m.Size
		s.UpdatedAt = now
		return true
	})
	if ok {
		c.emit(snap)
	}
}

// OnMarketDataType records whether quotes for a ticker are live or delayed.
func (c *Cache) OnMarketDataType(m ib.MarketDataType) {
	c.snaps.Update(m.ReqID, func(s *Snapshot) bool {
		s.MarketDataType = m.DataType
		return true
	})
}

// HandleError claims venue errors tagged with an active ticker id. The
// snapshot is kept so callers still see the last known values.
func (c *Cache) HandleError(id int64, code int, msg string) bool {
	if !c.snaps.Has(id) {
		return false
	}
	c.log.Warn("marketdata_error", zap.Int64("ticker_id", id), zap.Int("code", code), zap.String("msg", msg))
	if c.pub != nil {
		c.pub.Publish(events.EventMarketDataError, events.MarketDataError{TickerID: id, Code: code, Message: msg})
	}
	return true
}

func (c *Cache) emit(snap Snapshot) {
	c.subMu.RLock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
	if c.pub != nil {
		c.pub.Publish(events.EventPriceTick, events.PriceTick{
			TickerID: snap.TickerID,
			ConID:    snap.ConID,
			Symbol:   snap.Symbol,
			Bid:      snap.Bid,
			Ask:      snap.Ask,
			Last:     snap.Last,
			Time:     snap.UpdatedAt,
		})
	}
}
