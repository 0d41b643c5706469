// Package api exposes the gateway session over HTTP and a websocket event
// stream.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading-console/internal/bracket"
	"trading-console/internal/events"
	"trading-console/internal/gateway"
	"trading-console/internal/market"
	"trading-console/pkg/db"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

// Facade is the session surface the HTTP layer drives. *gateway.Session
// implements it.
type Facade interface {
	Status() gateway.Status
	Config() gateway.Config
	ConnectWait(ctx context.Context, host string, port, clientID int) (int64, error)
	Disconnect() error

	SearchSymbols(ctx context.Context, query string) ([]ib.ContractDescription, error)
	GetContractDetailsByID(ctx context.Context, conID int64) ([]ib.ContractDetails, error)
	GetContractDetailsBySymbol(ctx context.Context, symbol, secType string) ([]ib.ContractDetails, error)
	GetOptionParams(ctx context.Context, underlyingID int64, symbol string) ([]ib.OptionChain, error)
	ResolveOptionContractID(ctx context.Context, symbol string, right common.Right, expiry string, strike float64) (int64, error)

	SubscribeMarketData(ctx context.Context, conID int64) (int64, error)
	UnsubscribeMarketData(ctx context.Context, tickerID int64) error
	GetSnapshot(tickerID int64) (market.Snapshot, bool)

	PlaceMarketBuy(ctx context.Context, contract common.Contract, qty float64, tif common.TimeInForce) (int64, error)
	PlaceLimitBuy(ctx context.Context, contract common.Contract, qty, price float64, tif common.TimeInForce) (int64, error)
	CancelOrder(ctx context.Context, orderID int64) error
	OrderStatus(orderID int64) (string, bool)
	PlaceBracket(ctx context.Context, req bracket.Request) (bracket.Pair, error)
}

var _ Facade = (*gateway.Session)(nil)

// History reads the order journal.
type History interface {
	Orders(ctx context.Context, limit int) ([]db.Order, error)
	Brackets(ctx context.Context, limit int) ([]db.Bracket, error)
}

// Server wires HTTP endpoints around the session and the event bus.
type Server struct {
	Router  *gin.Engine
	Session Facade
	Bus     *events.Bus
	History History
	Presets bracket.Presets
	Metrics http.Handler

	stats     map[string]func() any
	log       *zap.Logger
	jwtSecret string
	limiters  *ipLimiters
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option          { return func(s *Server) { s.log = l } }
func WithBus(b *events.Bus) Option             { return func(s *Server) { s.Bus = b } }
func WithHistory(h History) Option             { return func(s *Server) { s.History = h } }
func WithPresets(p bracket.Presets) Option     { return func(s *Server) { s.Presets = p } }
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.Metrics = h } }

// WithStats adds a named section to GET /api/stats.
func WithStats(name string, fn func() any) Option {
	return func(s *Server) {
		if s.stats == nil {
			s.stats = make(map[string]func() any)
		}
		s.stats[name] = fn
	}
}

// WithJWTSecret enables bearer auth on /api. An empty secret leaves the API
// open.
func WithJWTSecret(secret string) Option { return func(s *Server) { s.jwtSecret = secret } }

// WithRateLimit sets the per-IP request rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.limiters = newIPLimiters(perSecond, burst) }
}

func NewServer(session Facade, opts ...Option) *Server {
	s := &Server{
		Session:  session,
		log:      zap.NewNop(),
		limiters: newIPLimiters(defaultRatePerSecond, defaultRateBurst),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	// Order matters: recovery first, then the id the logger prints.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(s.log.Named("http")))
	r.Use(RateLimitMiddleware(s.limiters))
	r.Use(CORSMiddleware())
	s.Router = r
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics))
	}

	api := s.Router.Group("/api")
	if s.jwtSecret != "" {
		api.Use(AuthMiddleware(s.jwtSecret))
	}
	{
		api.GET("/session", s.getSession)
		api.POST("/session", s.connect)
		api.DELETE("/session", s.disconnect)

		api.GET("/symbols", s.searchSymbols)
		api.GET("/contracts", s.contractsBySymbol)
		api.GET("/contracts/:conid", s.contractByID)
		api.GET("/options/params", s.optionParams)
		api.GET("/options/resolve", s.resolveOption)

		api.POST("/marketdata", s.subscribe)
		api.GET("/marketdata/:ticker", s.snapshot)
		api.DELETE("/marketdata/:ticker", s.unsubscribe)

		api.GET("/orders", s.listOrders)
		api.GET("/orders/:id", s.orderStatus)
		api.POST("/orders/market", s.placeMarket)
		api.POST("/orders/limit", s.placeLimit)
		api.DELETE("/orders/:id", s.cancelOrder)

		api.GET("/brackets", s.listBrackets)
		api.POST("/brackets", s.placeBracket)
		api.GET("/brackets/presets", s.listPresets)
		api.POST("/brackets/presets/:name", s.placePreset)

		api.GET("/stats", s.getStats)
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.Session.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"connected": st.Connected,
		"ready":     st.Ready,
	})
}

func (s *Server) getStats(c *gin.Context) {
	out := gin.H{"session": s.Session.Status()}
	for name, fn := range s.stats {
		out[name] = fn()
	}
	c.JSON(http.StatusOK, out)
}
