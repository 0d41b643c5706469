package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading-console/internal/bracket"
	"trading-console/pkg/exchanges/common"
)

// contractRef names a contract by id or, failing that, by stock symbol.
type contractRef struct {
	ConID  int64  `json:"con_id" binding:"gte=0"`
	Symbol string `json:"symbol"`
}

func (r contractRef) contract() (common.Contract, bool) {
	switch {
	case r.ConID > 0:
		return common.ContractByID(r.ConID), true
	case strings.TrimSpace(r.Symbol) != "":
		return common.StockContract(strings.TrimSpace(r.Symbol)), true
	}
	return common.Contract{}, false
}

type connectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port" binding:"omitempty,min=1,max=65535"`
	ClientID *int   `json:"client_id" binding:"omitempty,gte=0"`
}

type marketDataRequest struct {
	ConID int64 `json:"con_id" binding:"required,gt=0"`
}

type marketOrderRequest struct {
	contractRef
	Qty float64 `json:"qty" binding:"gt=0"`
	TIF string  `json:"tif"`
}

type limitOrderRequest struct {
	contractRef
	Qty   float64 `json:"qty" binding:"gt=0"`
	Price float64 `json:"price" binding:"gt=0"`
	TIF   string  `json:"tif"`
}

type bracketRequest struct {
	contractRef
	Mode              string   `json:"mode" binding:"omitempty,oneof=MKT LMT mkt lmt"`
	LimitPrice        *float64 `json:"limit_price" binding:"omitempty,gt=0"`
	TriggerPrice      float64  `json:"trigger_price" binding:"gte=0"`
	Offset            float64  `json:"offset" binding:"gte=0"`
	StopLoss          float64  `json:"stop_loss" binding:"gt=0"`
	Qty               float64  `json:"qty" binding:"gt=0"`
	TIF               string   `json:"tif"`
	OutsideRTH        bool     `json:"outside_rth"`
	Account           string   `json:"account"`
	StopLimitSlippage *float64 `json:"stop_limit_slippage" binding:"omitempty,gte=0"`
}

type presetBracketRequest struct {
	contractRef
	TriggerPrice float64 `json:"trigger_price" binding:"gt=0"`
}

type optionParamsQuery struct {
	UnderlyingID int64  `form:"underlying_id" binding:"required,gt=0"`
	Symbol       string `form:"symbol" binding:"required"`
}

type resolveOptionQuery struct {
	Symbol string  `form:"symbol" binding:"required"`
	Right  string  `form:"right" binding:"required"`
	Expiry string  `form:"expiry" binding:"required,len=8,numeric"`
	Strike float64 `form:"strike" binding:"required,gt=0"`
}

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

func requireContract(c *gin.Context, ref contractRef) (common.Contract, bool) {
	contract, ok := ref.contract()
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "con_id or symbol is required")
	}
	return contract, ok
}

func parseTIF(c *gin.Context, raw string) (common.TimeInForce, bool) {
	tif, err := common.ParseTIF(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return "", false
	}
	return tif, true
}

// getSession returns the session status.
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.Session.Status())
}

// connect dials the gateway and waits for the first valid order id. Fields
// left out of the body fall back to the configured address.
func (s *Server) connect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	cfg := s.Session.Config()
	host, port, clientID := cfg.Host, cfg.Port, cfg.ClientID
	if req.Host != "" {
		host = req.Host
	}
	if req.Port != 0 {
		port = req.Port
	}
	if req.ClientID != nil {
		clientID = *req.ClientID
	}

	nextID, err := s.Session.ConnectWait(c.Request.Context(), host, port, clientID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.fail(c, err)
			return
		}
		s.log.Warn("connect_failed", zap.String("host", host), zap.Int("port", port), zap.Error(err))
		respondError(c, http.StatusBadGateway, "CONNECT_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"next_valid_id": nextID,
		"session":       s.Session.Status(),
	})
}

func (s *Server) disconnect(c *gin.Context) {
	if err := s.Session.Disconnect(); err != nil {
		s.log.Warn("disconnect_error", zap.Error(err))
	}
	c.JSON(http.StatusOK, s.Session.Status())
}

func (s *Server) searchSymbols(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "q is required")
		return
	}
	results, err := s.Session.SearchSymbols(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) contractsBySymbol(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "symbol is required")
		return
	}
	details, err := s.Session.GetContractDetailsBySymbol(c.Request.Context(), symbol, c.Query("sec_type"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) contractByID(c *gin.Context) {
	conID, ok := pathID(c, "conid")
	if !ok {
		return
	}
	details, err := s.Session.GetContractDetailsByID(c.Request.Context(), conID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) optionParams(c *gin.Context) {
	var q optionParamsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	chains, err := s.Session.GetOptionParams(c.Request.Context(), q.UnderlyingID, q.Symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chains)
}

func (s *Server) resolveOption(c *gin.Context) {
	var q resolveOptionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	right, err := common.ParseRight(q.Right)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	conID, err := s.Session.ResolveOptionContractID(c.Request.Context(), q.Symbol, right, q.Expiry, q.Strike)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"con_id": conID})
}

func (s *Server) subscribe(c *gin.Context) {
	var req marketDataRequest
	if !bindJSON(c, &req) {
		return
	}
	tickerID, err := s.Session.SubscribeMarketData(c.Request.Context(), req.ConID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ticker_id": tickerID, "con_id": req.ConID})
}

func (s *Server) snapshot(c *gin.Context) {
	tickerID, ok := pathID(c, "ticker")
	if !ok {
		return
	}
	snap, found := s.Session.GetSnapshot(tickerID)
	if !found {
		respondError(c, http.StatusNotFound, "UNKNOWN_TICKER", "no subscription for ticker "+c.Param("ticker"))
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) unsubscribe(c *gin.Context) {
	tickerID, ok := pathID(c, "ticker")
	if !ok {
		return
	}
	if err := s.Session.UnsubscribeMarketData(c.Request.Context(), tickerID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listOrders returns journaled orders, newest first.
func (s *Server) listOrders(c *gin.Context) {
	if s.History == nil {
		respondError(c, http.StatusNotImplemented, "JOURNAL_DISABLED", "order journal is not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders, err := s.History.Orders(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, orders)
}

func (s *Server) orderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	status, found := s.Session.OrderStatus(orderID)
	if !found {
		respondError(c, http.StatusNotFound, "UNKNOWN_ORDER", "order "+c.Param("id")+" is not tracked by this session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": status})
}

func (s *Server) placeMarket(c *gin.Context) {
	var req marketOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	contract, ok := requireContract(c, req.contractRef)
	if !ok {
		return
	}
	tif, ok := parseTIF(c, req.TIF)
	if !ok {
		return
	}
	orderID, err := s.Session.PlaceMarketBuy(c.Request.Context(), contract, req.Qty, tif)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondPlaced(c, orderID, contract)
}

func (s *Server) placeLimit(c *gin.Context) {
	var req limitOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	contract, ok := requireContract(c, req.contractRef)
	if !ok {
		return
	}
	tif, ok := parseTIF(c, req.TIF)
	if !ok {
		return
	}
	orderID, err := s.Session.PlaceLimitBuy(c.Request.Context(), contract, req.Qty, req.Price, tif)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondPlaced(c, orderID, contract)
}

func (s *Server) respondPlaced(c *gin.Context, orderID int64, contract common.Contract) {
	status, _ := s.Session.OrderStatus(orderID)
	s.log.Info("order_placed_via_api",
		zap.Int64("order_id", orderID),
		zap.Stringer("contract", contract),
		zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusCreated, gin.H{"order_id": orderID, "status": status})
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.Session.CancelOrder(c.Request.Context(), orderID); err != nil {
		s.fail(c, err)
		return
	}
	status, _ := s.Session.OrderStatus(orderID)
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": status})
}

func (s *Server) listBrackets(c *gin.Context) {
	if s.History == nil {
		respondError(c, http.StatusNotImplemented, "JOURNAL_DISABLED", "order journal is not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	brackets, err := s.History.Brackets(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, brackets)
}

// placeBracket places a parent entry with its protective stop. Without an
// explicit mode, a limit_price selects LMT and anything else MKT.
func (s *Server) placeBracket(c *gin.Context) {
	var body bracketRequest
	if !bindJSON(c, &body) {
		return
	}
	contract, ok := requireContract(c, body.contractRef)
	if !ok {
		return
	}
	tif, ok := parseTIF(c, body.TIF)
	if !ok {
		return
	}
	mode := strings.ToUpper(body.Mode)
	if mode == "" {
		mode = bracket.ModeMarket
		if body.LimitPrice != nil {
			mode = bracket.ModeLimit
		}
	}
	req := bracket.Request{
		Contract:     contract,
		Mode:         mode,
		LimitPrice:   body.LimitPrice,
		TriggerPrice: body.TriggerPrice,
		Offset:       body.Offset,
		StopLoss:     body.StopLoss,
		Qty:          body.Qty,
		TIF:          tif,
		OutsideRTH:   body.OutsideRTH,
		Account:      body.Account,
	}
	if body.StopLimitSlippage != nil {
		req.StopLimitSlippage = *body.StopLimitSlippage
		req.ExplicitZeroSlippage = *body.StopLimitSlippage == 0
	}
	s.submitBracket(c, req)
}

func (s *Server) listPresets(c *gin.Context) {
	presets := s.Presets
	if presets == nil {
		presets = bracket.Presets{}
	}
	c.JSON(http.StatusOK, presets)
}

// placePreset places a bracket from a named preset at the given trigger.
func (s *Server) placePreset(c *gin.Context) {
	preset, found := s.Presets.Get(c.Param("name"))
	if !found {
		respondError(c, http.StatusNotFound, "UNKNOWN_PRESET", "no preset named "+c.Param("name"))
		return
	}
	var body presetBracketRequest
	if !bindJSON(c, &body) {
		return
	}
	contract, ok := requireContract(c, body.contractRef)
	if !ok {
		return
	}
	req, err := preset.Apply(contract, body.TriggerPrice)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PRESET", err.Error())
		return
	}
	s.submitBracket(c, req)
}

func (s *Server) submitBracket(c *gin.Context, req bracket.Request) {
	pair, err := s.Session.PlaceBracket(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("bracket_placed_via_api",
		zap.Int64("parent_id", pair.ParentID),
		zap.Int64("child_id", pair.ChildID),
		zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusCreated, pair)
}
