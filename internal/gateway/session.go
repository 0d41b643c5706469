// Package gateway owns the venue session: connection lifecycle, inbound
// routing to the order tracker, request registries and market data cache,
// and the request/response facade used by the API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-console/internal/bracket"
	"trading-console/internal/correlation"
	"trading-console/internal/events"
	"trading-console/internal/market"
	"trading-console/internal/order"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

var (
	ErrNotConnected      = errors.New("not connected to gateway")
	ErrContractNotFound  = errors.New("contract not found")
	ErrAmbiguousContract = errors.New("contract is ambiguous")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Registry kinds, also used as metric labels.
const (
	KindSymbols  = "symbols"
	KindDetails  = "contract_details"
	KindOptions  = "option_params"
	KindPlaceAck = order.KindPlaceAck
	KindCancel   = order.KindCancelAck
)

// maxClockSkew is how far the venue clock may drift from ours before it is
// logged. The venue reports whole seconds.
const maxClockSkew = 5 * time.Second

// Config holds the session settings.
type Config struct {
	Host              string
	Port              int
	ClientID          int
	Account           string        // default account for orders
	ConnectTimeout    time.Duration // per dial attempt and for the handshake wait
	RequestTimeout    time.Duration // applied when the caller's ctx has no deadline
	ConnectAttempts   int
	MaxMessageRate    float64 // outbound messages per second
	MarketDataType    int
	HeartbeatInterval time.Duration
	RequestIDBase     int64
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              4002,
		ClientID:          1,
		ConnectTimeout:    10 * time.Second,
		RequestTimeout:    15 * time.Second,
		ConnectAttempts:   3,
		MaxMessageRate:    50,
		MarketDataType:    ib.MarketDataLive,
		HeartbeatInterval: 30 * time.Second,
		RequestIDBase:     10_000_000,
	}
}

// Journal persists orders and brackets.
type Journal interface {
	order.Journal
	bracket.Journal
}

// Session is one logical connection to the venue. It survives disconnects;
// Connect may be called again afterwards.
type Session struct {
	cfg       Config
	log       *zap.Logger
	id        string
	bus       *events.Bus
	journal   Journal
	wireObs   ib.Observer
	reqObs    correlation.Observer
	dial      dialFunc
	startedAt time.Time

	ids      *correlation.IDSource
	symbols  *correlation.Registry[ib.ContractDescription]
	details  *correlation.Registry[ib.ContractDetails]
	options  *correlation.Registry[ib.OptionChain]
	tracker  *order.Tracker
	market   *market.Cache
	brackets *bracket.Orchestrator

	mu            sync.Mutex
	client        *ib.Client
	connecting    bool
	abortDial     context.CancelFunc // set while connecting
	dialAborted   bool
	handshake     *correlation.Future[int64]
	connectedAt   time.Time
	accounts      []string
	lastHeartbeat time.Time
	clock         common.TimeSync
	stopHeartbeat context.CancelFunc
	wg            sync.WaitGroup
}

type dialFunc func(ctx context.Context, addr string, opts ib.Options) (*ib.Client, error)

// Option customizes a Session.
type Option func(*Session)

func WithLogger(l *zap.Logger) Option                   { return func(s *Session) { s.log = l } }
func WithBus(b *events.Bus) Option                      { return func(s *Session) { s.bus = b } }
func WithJournal(j Journal) Option                      { return func(s *Session) { s.journal = j } }
func WithWireObserver(o ib.Observer) Option             { return func(s *Session) { s.wireObs = o } }
func WithRequestObserver(o correlation.Observer) Option { return func(s *Session) { s.reqObs = o } }

// WithSessionID overrides the generated session id, so callers can tag
// journal rows before the session exists.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// NewSession builds a disconnected session.
func NewSession(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		log:       zap.NewNop(),
		id:        uuid.NewString(),
		dial:      ib.Dial,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.RequestIDBase <= 0 {
		s.cfg.RequestIDBase = DefaultConfig().RequestIDBase
	}
	s.log = s.log.With(zap.String("session_id", s.id))

	w := wire{s: s}
	s.ids = correlation.NewIDSource(s.cfg.RequestIDBase)
	s.symbols = correlation.NewRegistry[ib.ContractDescription](KindSymbols, s.ids)
	s.details = correlation.NewRegistry[ib.ContractDetails](KindDetails, s.ids)
	s.options = correlation.NewRegistry[ib.OptionChain](KindOptions, s.ids)
	if s.reqObs != nil {
		s.symbols.SetObserver(s.reqObs)
		s.details.SetObserver(s.reqObs)
		s.options.SetObserver(s.reqObs)
	}

	trackerOpts := []order.Option{order.WithLogger(s.log.Named("orders"))}
	marketOpts := []market.Option{market.WithLogger(s.log.Named("market"))}
	bracketOpts := []bracket.Option{bracket.WithLogger(s.log.Named("bracket"))}
	if s.bus != nil {
		trackerOpts = append(trackerOpts, order.WithPublisher(s.bus))
		marketOpts = append(marketOpts, market.WithPublisher(s.bus))
		bracketOpts = append(bracketOpts, bracket.WithPublisher(s.bus))
	}
	if s.journal != nil {
		trackerOpts = append(trackerOpts, order.WithJournal(s.journal))
		bracketOpts = append(bracketOpts, bracket.WithJournal(s.journal))
	}
	if s.reqObs != nil {
		trackerOpts = append(trackerOpts, order.WithObserver(s.reqObs))
	}
	s.tracker = order.NewTracker(w, trackerOpts...)
	s.market = market.NewCache(w, s.ids, marketOpts...)
	s.brackets = bracket.NewOrchestrator(s.tracker, bracketOpts...)
	return s
}

// ID identifies this session in logs and the order journal.
func (s *Session) ID() string { return s.id }

// Config returns the session settings.
func (s *Session) Config() Config { return s.cfg }

// Market exposes the market data cache, e.g. for tick subscribers.
func (s *Session) Market() *market.Cache { return s.market }

// Connect dials the venue and starts the pump. It returns once the socket
// handshake is done; nextValidId arrives asynchronously (see ConnectWait).
// Calling Connect while connected or connecting is a logged no-op.
func (s *Session) Connect(ctx context.Context, host string, port, clientID int) error {
	s.mu.Lock()
	if s.client != nil || s.connecting {
		s.mu.Unlock()
		s.log.Info("connect_ignored", zap.String("reason", "already connected"))
		return nil
	}
	dialCtx, abort := context.WithCancel(ctx)
	defer abort()
	s.connecting = true
	s.abortDial = abort
	s.dialAborted = false
	s.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := s.dialWithRetry(dialCtx, addr, clientID)

	s.mu.Lock()
	s.connecting = false
	s.abortDial = nil
	if s.dialAborted {
		s.mu.Unlock()
		if client != nil {
			_ = client.Close()
		}
		s.log.Info("connect_aborted", zap.String("addr", addr))
		return fmt.Errorf("connect %s: %w", addr, correlation.ErrDisconnected)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	hs := correlation.NewFuture[int64]()
	hbCtx, stop := context.WithCancel(context.Background())
	s.client = client
	s.handshake = hs
	s.connectedAt = time.Now()
	s.accounts = nil
	s.stopHeartbeat = stop
	s.mu.Unlock()
	s.clock.Reset()

	if err := client.Start(ctx, &router{s: s, client: client, handshake: hs}); err != nil {
		_ = client.Close()
		s.teardown(client, "start failed")
		stop()
		return fmt.Errorf("start session: %w", err)
	}

	s.log.Info("connected",
		zap.String("addr", addr),
		zap.Int("client_id", clientID),
		zap.Int("server_version", client.ServerVersion()))
	s.publish(events.EventConnectionState, events.ConnectionState{Connected: true, Time: time.Now()})

	if s.cfg.MarketDataType > ib.MarketDataLive {
		if err := client.ReqMarketDataType(ctx, s.cfg.MarketDataType); err != nil {
			s.log.Warn("market_data_type_failed", zap.Error(err))
		}
	}

	s.wg.Add(2)
	go s.watch(client)
	go s.heartbeat(hbCtx, client)
	return nil
}

func (s *Session) dialWithRetry(ctx context.Context, addr string, clientID int) (*ib.Client, error) {
	attempts := s.cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	opts := ib.Options{
		ClientID:       clientID,
		MaxMessageRate: s.cfg.MaxMessageRate,
		Logger:         s.log.Named("pump"),
		Observer:       s.wireObs,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout())
		client, err := s.dial(dialCtx, addr, opts)
		cancel()
		if err == nil {
			return client, nil
		}
		if errors.Is(err, ib.ErrVersionTooOld) || attempt >= attempts || ctx.Err() != nil {
			return nil, fmt.Errorf("connect %s after %d attempt(s): %w", addr, attempt, err)
		}
		wait := bo.NextBackOff()
		s.log.Warn("connect_retry", zap.String("addr", addr), zap.Int("attempt", attempt),
			zap.Duration("backoff", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s: %w", addr, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// ConnectWait connects and waits for the venue's first valid order id.
// Cancelling ctx abandons the wait; the connection stays up.
func (s *Session) ConnectWait(ctx context.Context, host string, port, clientID int) (int64, error) {
	if err := s.Connect(ctx, host, port, clientID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	hs := s.handshake
	s.mu.Unlock()
	if hs == nil {
		return 0, ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.connectTimeout())
		defer cancel()
	}
	id, err := hs.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("await next valid id: %w", err)
	}
	return id, nil
}

// Disconnect closes the connection and fails everything pending with
// correlation.ErrDisconnected. During a dial it aborts the dial, and the
// pending Connect returns correlation.ErrDisconnected. It is safe to call in
// any state.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	c := s.client
	if c == nil && s.connecting {
		s.dialAborted = true
		s.abortDial()
	}
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	err := c.Close()
	s.teardown(c, "disconnect requested")
	return err
}

// Close disconnects and waits for the session goroutines to exit.
func (s *Session) Close() error {
	err := s.Disconnect()
	s.wg.Wait()
	return err
}

// Connected reports whether a connection is up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// LastHeartbeat is the venue time from the latest currentTime answer.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// ClockOffset is the venue clock minus the local clock, estimated from
// heartbeats.
func (s *Session) ClockOffset() time.Duration {
	return s.clock.Offset()
}

func (s *Session) watch(c *ib.Client) {
	defer s.wg.Done()
	<-c.Done()
	reason := "remote closed"
	if err := c.Err(); err != nil {
		reason = err.Error()
	}
	s.teardown(c, reason)
}

func (s *Session) heartbeat(ctx context.Context, c *ib.Client) {
	defer s.wg.Done()
	if s.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			s.clock.MarkSent(time.Now())
			if err := c.ReqCurrentTime(ctx); err != nil && !errors.Is(err, ib.ErrClosed) {
				s.log.Warn("heartbeat_failed", zap.Error(err))
			}
		}
	}
}

// teardown runs once per client; later calls for the same or a stale
// client are no-ops.
func (s *Session) teardown(c *ib.Client, reason string) {
	s.mu.Lock()
	if s.client != c {
		s.mu.Unlock()
		return
	}
	s.client = nil
	hs := s.handshake
	s.handshake = nil
	stop := s.stopHeartbeat
	s.stopHeartbeat = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if hs != nil {
		hs.Reject(correlation.ErrDisconnected)
	}
	s.tracker.Reset(correlation.ErrDisconnected)
	failed := s.symbols.FailAll(correlation.ErrDisconnected) +
		s.details.FailAll(correlation.ErrDisconnected) +
		s.options.FailAll(correlation.ErrDisconnected)
	dropped := s.market.Reset()

	s.log.Warn("disconnected",
		zap.String("reason", reason),
		zap.Int("failed_requests", failed),
		zap.Int("dropped_subscriptions", dropped))
	s.publish(events.EventConnectionState, events.ConnectionState{Connected: false, Reason: reason, Time: time.Now()})
}

func (s *Session) current() (*ib.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

func (s *Session) isCurrent(c *ib.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client == c
}

func (s *Session) connectTimeout() time.Duration {
	if s.cfg.ConnectTimeout > 0 {
		return s.cfg.ConnectTimeout
	}
	return DefaultConfig().ConnectTimeout
}

func (s *Session) publish(e events.Event, payload any) {
	if s.bus != nil {
		s.bus.Publish(e, payload)
	}
}

// wire forwards outbound calls to the current client.
type wire struct{ s *Session }

func (w wire) PlaceOrder(ctx context.Context, orderID int64, contract common.Contract, spec common.OrderSpec) error {
	c, err := w.s.current()
	if err != nil {
		return err
	}
	return c.PlaceOrder(ctx, orderID, contract, spec)
}

func (w wire) CancelOrder(ctx context.Context, orderID int64) error {
	c, err := w.s.current()
	if err != nil {
		return err
	}
	return c.CancelOrder(ctx, orderID)
}

func (w wire) ReqMktData(ctx context.Context, tickerID int64, contract common.Contract, genericTicks string, snapshot bool) error {
	c, err := w.s.current()
	if err != nil {
		return err
	}
	return c.ReqMktData(ctx, tickerID, contract, genericTicks, snapshot)
}

func (w wire) CancelMktData(ctx context.Context, tickerID int64) error {
	c, err := w.s.current()
	if err != nil {
		return err
	}
	return c.CancelMktData(ctx, tickerID)
}
