// gateway_check connects to the configured gateway and runs a short
// read-only smoke test: handshake, symbol search, contract details and one
// quote. With GATEWAY_CHECK_PLACE_ORDERS=true it also places and cancels a
// far-from-market limit buy.
//
//	go run ./scripts/gateway_check
//
// Uses the same environment as the console (GATEWAY_HOST, GATEWAY_PORT,
// GATEWAY_CLIENT_ID, ...). CHECK_SYMBOL defaults to AAPL.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"trading-console/internal/gateway"
	"trading-console/pkg/config"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, "")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	symbol := getenv("CHECK_SYMBOL", "AAPL")
	placeOrders := getenv("GATEWAY_CHECK_PLACE_ORDERS", "false") == "true"

	session := gateway.NewFromEnv(cfg, gateway.WithLogger(logger.Named("gateway")))
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	gw := session.Config()
	nextID, err := session.ConnectWait(ctx, gw.Host, gw.Port, gw.ClientID)
	if err != nil {
		logger.Fatal("connect_failed", zap.Error(err))
	}
	logger.Info("connected", zap.Int64("next_valid_id", nextID), zap.Strings("accounts", session.Status().Accounts))

	matches, err := session.SearchSymbols(ctx, symbol)
	if err != nil {
		logger.Fatal("search_failed", zap.Error(err))
	}
	logger.Info("symbols", zap.Int("matches", len(matches)))

	details, err := session.GetContractDetailsBySymbol(ctx, symbol, common.SecTypeStock)
	if err != nil || len(details) == 0 {
		logger.Fatal("contract_details_failed", zap.Int("results", len(details)), zap.Error(err))
	}
	conID := details[0].Contract.ConID
	logger.Info("contract", zap.Int64("con_id", conID), zap.String("long_name", details[0].LongName))

	tickerID, err := session.SubscribeMarketData(ctx, conID)
	if err != nil {
		logger.Fatal("subscribe_failed", zap.Error(err))
	}
	time.Sleep(3 * time.Second)
	snap, _ := session.GetSnapshot(tickerID)
	logger.Info("quote", zap.Float64("bid", snap.Bid), zap.Float64("ask", snap.Ask), zap.Float64("last", snap.Last))
	_ = session.UnsubscribeMarketData(ctx, tickerID)

	if !placeOrders {
		logger.Info("order_checks_skipped", zap.String("hint", "set GATEWAY_CHECK_PLACE_ORDERS=true"))
		return
	}
	ref := snap.Last
	if ref <= 0 {
		ref = snap.Bid
	}
	if ref <= 0 {
		logger.Fatal("no_reference_price")
	}
	// Half the last price keeps the order away from the market.
	price := float64(int(ref*50)) / 100
	orderID, err := session.PlaceLimitBuy(ctx, common.ContractByID(conID), 1, price, common.TIFDay)
	if err != nil {
		logger.Fatal("place_failed", zap.Error(err))
	}
	status, _ := session.OrderStatus(orderID)
	logger.Info("placed", zap.Int64("order_id", orderID), zap.Float64("price", price), zap.String("status", status))

	if err := session.CancelOrder(ctx, orderID); err != nil {
		logger.Fatal("cancel_failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	logger.Info("cancelled", zap.Int64("order_id", orderID))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
