package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-console/internal/bracket"
	"trading-console/internal/correlation"
	"trading-console/internal/events"
	"trading-console/internal/gateway"
	"trading-console/internal/market"
	"trading-console/internal/monitor"
	"trading-console/internal/order"
	"trading-console/pkg/cache"
	"trading-console/pkg/db"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

type connectCall struct {
	host     string
	port     int
	clientID int
}

// fakeSession records calls and returns err for every session operation
// that can fail.
type fakeSession struct {
	mu       sync.Mutex
	err      error
	nextID   int64
	connects []connectCall
	brackets []bracket.Request
	snaps    map[int64]market.Snapshot
	statuses map[int64]string
}

func newFakeSession() *fakeSession {
	return &fakeSession{nextID: 100, snaps: map[int64]market.Snapshot{}, statuses: map[int64]string{}}
}

func (f *fakeSession) Status() gateway.Status {
	return gateway.Status{SessionID: "test", Connected: f.err == nil, Ready: f.err == nil}
}

func (f *fakeSession) Config() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.Host, cfg.Port, cfg.ClientID = "10.0.0.5", 4001, 7
	return cfg
}

func (f *fakeSession) ConnectWait(_ context.Context, host string, port, clientID int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, connectCall{host, port, clientID})
	return f.nextID, f.err
}

func (f *fakeSession) Disconnect() error { return nil }

func (f *fakeSession) SearchSymbols(context.Context, string) ([]ib.ContractDescription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ib.ContractDescription{{Contract: common.Contract{ConID: 265598, Symbol: "AAPL"}}}, nil
}

func (f *fakeSession) GetContractDetailsByID(_ context.Context, conID int64) ([]ib.ContractDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ib.ContractDetails{{Contract: common.Contract{ConID: conID}}}, nil
}

func (f *fakeSession) GetContractDetailsBySymbol(_ context.Context, symbol, secType string) ([]ib.ContractDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ib.ContractDetails{{Contract: common.Contract{Symbol: strings.ToUpper(symbol), SecType: secType}}}, nil
}

func (f *fakeSession) GetOptionParams(context.Context, int64, string) ([]ib.OptionChain, error) {
	return []ib.OptionChain{{Exchange: "SMART"}}, f.err
}

func (f *fakeSession) ResolveOptionContractID(_ context.Context, _ string, right common.Right, _ string, strike float64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if right == common.RightPut {
		return 710000 + int64(strike), nil
	}
	return 700000 + int64(strike), nil
}

func (f *fakeSession) SubscribeMarketData(_ context.Context, conID int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[10_000_000] = market.Snapshot{TickerID: 10_000_000, ConID: conID, Bid: 1.25}
	return 10_000_000, nil
}

func (f *fakeSession) UnsubscribeMarketData(_ context.Context, tickerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, tickerID)
	return nil
}

func (f *fakeSession) GetSnapshot(tickerID int64) (market.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[tickerID]
	return snap, ok
}

func (f *fakeSession) place() (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.statuses[id] = "Submitted"
	return id, nil
}

func (f *fakeSession) PlaceMarketBuy(context.Context, common.Contract, float64, common.TimeInForce) (int64, error) {
	return f.place()
}

func (f *fakeSession) PlaceLimitBuy(context.Context, common.Contract, float64, float64, common.TimeInForce) (int64, error) {
	return f.place()
}

func (f *fakeSession) CancelOrder(_ context.Context, orderID int64) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[orderID] = "Cancelled"
	return nil
}

func (f *fakeSession) OrderStatus(orderID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[orderID]
	return st, ok
}

func (f *fakeSession) PlaceBracket(_ context.Context, req bracket.Request) (bracket.Pair, error) {
	f.mu.Lock()
	f.brackets = append(f.brackets, req)
	f.mu.Unlock()
	if f.err != nil {
		return bracket.Pair{}, f.err
	}
	return bracket.Pair{ParentID: 100, ChildID: 101}, nil
}

func (f *fakeSession) lastBracket(t *testing.T) bracket.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.brackets) == 0 {
		t.Fatal("no bracket submitted")
	}
	return f.brackets[len(f.brackets)-1]
}

func newTestAPIServer(t *testing.T, session Facade, opts ...Option) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	server := NewServer(session, opts...)
	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)
	return ts
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type errorBody struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	ParentID  int64  `json:"parent_id"`
	VenueCode int    `json:"venue_code"`
}

func TestHealth(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession())

	var resp struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
	}
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, &resp)
	if status != http.StatusOK || resp.Status != "ok" || !resp.Connected {
		t.Fatalf("health status=%d resp=%+v", status, resp)
	}
}

func TestStats(t *testing.T) {
	m := monitor.NewMetrics()
	m.MessageReceived(ib.InTickPrice)
	ts := newTestAPIServer(t, newFakeSession(),
		WithStats("runtime", func() any { return m.GetSnapshot() }),
		WithStats("journal", func() any { return map[string]int{"pending": 4} }),
		WithStats("market", func() any {
			subs := cache.NewSharded[int]()
			subs.Put(10_000_000, 1)
			subs.Put(10_000_001, 1)
			return subs.Stats()
		}),
	)

	var resp struct {
		Session gateway.Status   `json:"session"`
		Runtime monitor.Snapshot `json:"runtime"`
		Journal map[string]int   `json:"journal"`
		Market  cache.Stats      `json:"market"`
	}
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/stats", "", nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("stats status=%d", status)
	}
	if !resp.Session.Connected || resp.Runtime.MessagesReceived != 1 || resp.Journal["pending"] != 4 {
		t.Fatalf("unexpected stats %+v", resp)
	}
	if resp.Market.TotalItems != 2 || resp.Market.ShardCounts[0] != 1 || resp.Market.ShardCounts[1] != 1 {
		t.Fatalf("market stats = %+v", resp.Market)
	}
}

func TestConnectFallsBackToConfig(t *testing.T) {
	fake := newFakeSession()
	ts := newTestAPIServer(t, fake)

	var resp struct {
		NextValidID int64 `json:"next_valid_id"`
	}
	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/session", "", map[string]any{"port": 7497}, &resp)
	if status != http.StatusOK || resp.NextValidID != 100 {
		t.Fatalf("connect status=%d resp=%+v", status, resp)
	}
	want := connectCall{host: "10.0.0.5", port: 7497, clientID: 7}
	if len(fake.connects) != 1 || fake.connects[0] != want {
		t.Fatalf("connect calls = %+v", fake.connects)
	}
}

func TestConnectFailure(t *testing.T) {
	fake := newFakeSession()
	fake.err = fmt.Errorf("connect 10.0.0.5:4001 after 3 attempt(s): connection refused")
	ts := newTestAPIServer(t, fake)

	var resp errorBody
	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/session", "", nil, &resp)
	if status != http.StatusBadGateway || resp.Code != "CONNECT_FAILED" {
		t.Fatalf("status=%d resp=%+v", status, resp)
	}
}

func TestPlaceOrders(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession())
	client := ts.Client()

	var resp struct {
		OrderID int64  `json:"order_id"`
		Status  string `json:"status"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/orders/market", "", map[string]any{
		"con_id": 265598,
		"qty":    10,
	}, &resp)
	if status != http.StatusCreated || resp.OrderID != 100 || resp.Status != "Submitted" {
		t.Fatalf("market order status=%d resp=%+v", status, resp)
	}

	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/orders/limit", "", map[string]any{
		"symbol": "aapl",
		"qty":    5,
		"price":  189.25,
		"tif":    "gtc",
	}, &resp)
	if status != http.StatusCreated || resp.OrderID != 101 {
		t.Fatalf("limit order status=%d resp=%+v", status, resp)
	}

	status = doJSONRequest(t, client, http.MethodDelete, ts.URL+"/api/orders/101", "", nil, &resp)
	if status != http.StatusOK || resp.Status != "Cancelled" {
		t.Fatalf("cancel status=%d resp=%+v", status, resp)
	}

	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/orders/100", "", nil, &resp)
	if status != http.StatusOK || resp.Status != "Submitted" {
		t.Fatalf("order status=%d resp=%+v", status, resp)
	}
}

func TestRequestValidation(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   string
	}{
		{"zero quantity", http.MethodPost, "/api/orders/market", map[string]any{"con_id": 1, "qty": 0}, "INVALID_REQUEST"},
		{"no contract", http.MethodPost, "/api/orders/market", map[string]any{"qty": 1}, "INVALID_REQUEST"},
		{"bad tif", http.MethodPost, "/api/orders/market", map[string]any{"con_id": 1, "qty": 1, "tif": "FOK"}, "INVALID_REQUEST"},
		{"limit without price", http.MethodPost, "/api/orders/limit", map[string]any{"con_id": 1, "qty": 1}, "INVALID_REQUEST"},
		{"bracket bad mode", http.MethodPost, "/api/brackets", map[string]any{"con_id": 1, "qty": 1, "stop_loss": 1, "mode": "IOC"}, "INVALID_REQUEST"},
		{"bracket negative slippage", http.MethodPost, "/api/brackets", map[string]any{"con_id": 1, "qty": 1, "stop_loss": 1, "stop_limit_slippage": -0.1}, "INVALID_REQUEST"},
		{"non-numeric order id", http.MethodDelete, "/api/orders/abc", nil, "INVALID_ID"},
		{"empty symbol search", http.MethodGet, "/api/symbols?q=", nil, "INVALID_QUERY"},
		{"bad expiry", http.MethodGet, "/api/options/resolve?symbol=AAPL&right=C&expiry=2025&strike=150", nil, "INVALID_QUERY"},
		{"bad right", http.MethodGet, "/api/options/resolve?symbol=AAPL&right=X&expiry=20250117&strike=150", nil, "INVALID_QUERY"},
		{"missing underlying", http.MethodGet, "/api/options/params?symbol=AAPL", nil, "INVALID_QUERY"},
		{"marketdata without conid", http.MethodPost, "/api/marketdata", map[string]any{}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorBody
			status := doJSONRequest(t, ts.Client(), tt.method, ts.URL+tt.path, "", tt.body, &resp)
			if status != http.StatusBadRequest || resp.Code != tt.code {
				t.Fatalf("status=%d resp=%+v", status, resp)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not connected", gateway.ErrNotConnected, http.StatusServiceUnavailable, "NOT_CONNECTED"},
		{"handshake pending", order.ErrHandshakePending, http.StatusServiceUnavailable, "NOT_CONNECTED"},
		{"disconnected mid request", fmt.Errorf("await: %w", correlation.ErrDisconnected), http.StatusServiceUnavailable, "NOT_CONNECTED"},
		{"venue error", &ib.APIError{ID: 10_000_000, Code: 200, Message: "No security definition"}, http.StatusBadGateway, "VENUE_ERROR"},
		{"timeout", fmt.Errorf("await: %w: %w", correlation.ErrCancelled, context.DeadlineExceeded), http.StatusGatewayTimeout, "TIMEOUT"},
		{"not found", fmt.Errorf("%w: AAPL", gateway.ErrContractNotFound), http.StatusNotFound, "CONTRACT_NOT_FOUND"},
		{"ambiguous", gateway.ErrAmbiguousContract, http.StatusConflict, "AMBIGUOUS_CONTRACT"},
		{"invalid argument", gateway.ErrInvalidArgument, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeSession()
			fake.err = tt.err
			ts := newTestAPIServer(t, fake)

			var resp errorBody
			status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/symbols?q=AAPL", "", nil, &resp)
			if status != tt.status || resp.Code != tt.code {
				t.Fatalf("status=%d resp=%+v", status, resp)
			}
			if tt.code == "VENUE_ERROR" && resp.VenueCode != 200 {
				t.Fatalf("venue_code = %d", resp.VenueCode)
			}
		})
	}
}

func TestPartialBracketReportsParent(t *testing.T) {
	fake := newFakeSession()
	fake.err = &bracket.PartialBracketError{ParentID: 100, Err: &ib.APIError{ID: 101, Code: 201, Message: "rejected"}}
	ts := newTestAPIServer(t, fake)

	var resp errorBody
	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/brackets", "", map[string]any{
		"con_id":        265598,
		"trigger_price": 190,
		"stop_loss":     0.5,
		"qty":           1,
	}, &resp)
	if status != http.StatusBadGateway || resp.Code != "PARTIAL_BRACKET" || resp.ParentID != 100 {
		t.Fatalf("status=%d resp=%+v", status, resp)
	}
}

func TestBracketModeSelection(t *testing.T) {
	fake := newFakeSession()
	ts := newTestAPIServer(t, fake)
	client := ts.Client()

	var pair bracket.Pair
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/brackets", "", map[string]any{
		"con_id":      265598,
		"limit_price": 190.0,
		"offset":      0.1,
		"stop_loss":   0.5,
		"qty":         10,
	}, &pair)
	if status != http.StatusCreated || pair.ParentID != 100 || pair.ChildID != 101 {
		t.Fatalf("status=%d pair=%+v", status, pair)
	}
	req := fake.lastBracket(t)
	if req.Mode != bracket.ModeLimit || req.LimitPrice == nil || *req.LimitPrice != 190 || req.TIF != common.TIFDay {
		t.Fatalf("limit bracket request = %+v", req)
	}

	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/brackets", "", map[string]any{
		"symbol":              "AAPL",
		"trigger_price":       190.0,
		"stop_loss":           0.5,
		"qty":                 10,
		"stop_limit_slippage": 0,
	}, &pair)
	if status != http.StatusCreated {
		t.Fatalf("market bracket status=%d", status)
	}
	req = fake.lastBracket(t)
	if req.Mode != bracket.ModeMarket || !req.ExplicitZeroSlippage || req.Contract.Symbol != "AAPL" {
		t.Fatalf("market bracket request = %+v", req)
	}
}

func TestPresetBracket(t *testing.T) {
	presets, err := bracket.ParsePresets([]byte(`
presets:
  - name: scalp
    offset: 0.05
    stop_loss: 0.25
    qty: 100
    tif: GTC
`))
	if err != nil {
		t.Fatal(err)
	}
	fake := newFakeSession()
	ts := newTestAPIServer(t, fake, WithPresets(presets))
	client := ts.Client()

	var list []bracket.Preset
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/brackets/presets", "", nil, &list); status != http.StatusOK || len(list) != 1 {
		t.Fatalf("list presets status=%d list=%+v", status, list)
	}

	var pair bracket.Pair
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/brackets/presets/SCALP", "", map[string]any{
		"con_id":        265598,
		"trigger_price": 50.0,
	}, &pair)
	if status != http.StatusCreated {
		t.Fatalf("preset bracket status=%d", status)
	}
	req := fake.lastBracket(t)
	if req.Mode != bracket.ModeLimit || req.Qty != 100 || req.TIF != common.TIFGTC || *req.LimitPrice != 50 {
		t.Fatalf("preset request = %+v", req)
	}

	var resp errorBody
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/brackets/presets/swing", "", map[string]any{
		"con_id":        265598,
		"trigger_price": 50.0,
	}, &resp)
	if status != http.StatusNotFound || resp.Code != "UNKNOWN_PRESET" {
		t.Fatalf("unknown preset status=%d resp=%+v", status, resp)
	}
}

func TestLookupRoutes(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession())
	client := ts.Client()

	var details []ib.ContractDetails
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/contracts/272093", "", nil, &details); status != http.StatusOK || details[0].Contract.ConID != 272093 {
		t.Fatalf("contract by id status=%d details=%+v", status, details)
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/contracts?symbol=msft", "", nil, &details); status != http.StatusOK || details[0].Contract.Symbol != "MSFT" {
		t.Fatalf("contract by symbol status=%d details=%+v", status, details)
	}

	var chains []ib.OptionChain
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/options/params?underlying_id=265598&symbol=AAPL", "", nil, &chains); status != http.StatusOK || len(chains) != 1 {
		t.Fatalf("option params status=%d chains=%+v", status, chains)
	}

	var resolved struct {
		ConID int64 `json:"con_id"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/options/resolve?symbol=AAPL&right=put&expiry=20250117&strike=150", "", nil, &resolved); status != http.StatusOK || resolved.ConID != 710150 {
		t.Fatalf("resolve status=%d resp=%+v", status, resolved)
	}
}

func TestMarketDataRoutes(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession())
	client := ts.Client()

	var sub struct {
		TickerID int64 `json:"ticker_id"`
	}
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/marketdata", "", map[string]any{"con_id": 265598}, &sub); status != http.StatusCreated {
		t.Fatalf("subscribe status=%d", status)
	}
	url := fmt.Sprintf("%s/api/marketdata/%d", ts.URL, sub.TickerID)

	var snap market.Snapshot
	if status := doJSONRequest(t, client, http.MethodGet, url, "", nil, &snap); status != http.StatusOK || snap.Bid != 1.25 {
		t.Fatalf("snapshot status=%d snap=%+v", status, snap)
	}
	if status := doJSONRequest(t, client, http.MethodDelete, url, "", nil, nil); status != http.StatusNoContent {
		t.Fatalf("unsubscribe status=%d", status)
	}
	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodGet, url, "", nil, &resp); status != http.StatusNotFound || resp.Code != "UNKNOWN_TICKER" {
		t.Fatalf("snapshot after unsubscribe status=%d resp=%+v", status, resp)
	}
}

func TestJournalRoutes(t *testing.T) {
	database, err := db.New(db.MemoryPath)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	journal := db.NewJournal(database, "session-1")
	ctx := context.Background()
	if err := journal.RecordPlacement(ctx, 100, common.ContractByID(265598), common.MarketOrder(common.ActionBuy, 10, common.TIFDay)); err != nil {
		t.Fatal(err)
	}
	if err := journal.RecordBracket(ctx, 100, 101, bracket.StatusPlaced, nil); err != nil {
		t.Fatal(err)
	}

	ts := newTestAPIServer(t, newFakeSession(), WithHistory(journal))
	client := ts.Client()

	var orders []db.Order
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/orders?limit=5", "", nil, &orders); status != http.StatusOK || len(orders) != 1 || orders[0].OrderID != 100 {
		t.Fatalf("orders status=%d orders=%+v", status, orders)
	}
	var brackets []db.Bracket
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/brackets", "", nil, &brackets); status != http.StatusOK || len(brackets) != 1 || brackets[0].ChildID != 101 {
		t.Fatalf("brackets status=%d brackets=%+v", status, brackets)
	}

	noJournal := newTestAPIServer(t, newFakeSession())
	var resp errorBody
	if status := doJSONRequest(t, noJournal.Client(), http.MethodGet, noJournal.URL+"/api/orders", "", nil, &resp); status != http.StatusNotImplemented {
		t.Fatalf("orders without journal status=%d", status)
	}
}

func TestAuth(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession(), WithJWTSecret("test-secret"))
	client := ts.Client()

	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/session", "", nil, &resp); status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("no token status=%d resp=%+v", status, resp)
	}

	forged, err := IssueToken("mallory", "other-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/session", forged, nil, &resp); status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("forged token status=%d resp=%+v", status, resp)
	}

	expired, err := IssueToken("ops", "test-secret", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/session", expired, nil, &resp); status != http.StatusUnauthorized {
		t.Fatalf("expired token status=%d", status)
	}

	token, err := IssueToken("ops", "test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var st gateway.Status
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/session", token, nil, &st); status != http.StatusOK || st.SessionID != "test" {
		t.Fatalf("valid token status=%d resp=%+v", status, st)
	}

	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, nil); status != http.StatusOK {
		t.Fatalf("health must stay open, got %d", status)
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken("ops", "", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession(), WithRateLimit(0.001, 2))
	client := ts.Client()

	for i := 0; i < 2; i++ {
		if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, nil); status != http.StatusOK {
			t.Fatalf("request %d status=%d", i, status)
		}
	}
	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, &resp); status != http.StatusTooManyRequests || resp.Code != "RATE_LIMITED" {
		t.Fatalf("status=%d resp=%+v", status, resp)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestAPIServer(t, newFakeSession())

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}

	resp, err = ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing generated request id")
	}
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	bus := events.NewBus()
	ts := newTestAPIServer(t, newFakeSession(), WithBus(bus))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.EventOrderAcked, events.OrderUpdate{OrderID: 100, Status: "Submitted"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Topic   events.Event       `json:"topic"`
		Payload events.OrderUpdate `json:"payload"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Topic != events.EventOrderAcked || env.Payload.OrderID != 100 {
		t.Fatalf("envelope = %+v", env)
	}
}
