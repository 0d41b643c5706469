// fake_gateway runs the in-process fake venue on a fixed port so the
// console can be exercised without a real gateway.
//
//	go run ./scripts/fake_gateway -addr 127.0.0.1:4002 -next-id 1000
//
// Point the console at it with GATEWAY_HOST/GATEWAY_PORT.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trading-console/pkg/exchanges/ib/ibtest"
	"trading-console/pkg/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4002", "listen address")
	nextID := flag.Int64("next-id", 1, "first valid order id sent after startApi")
	rejectChildren := flag.Bool("reject-children", false, "reject every order that has a parent, to exercise partial brackets")
	level := flag.String("log-level", "debug", "log level")
	flag.Parse()

	logger, err := logging.New(*level, "")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen_failed", zap.String("addr", *addr), zap.Error(err))
	}

	opts := []ibtest.Option{
		ibtest.WithNextValidID(*nextID),
		ibtest.WithLogger(logger.Named("fake")),
	}
	if *rejectChildren {
		opts = append(opts, ibtest.WithOrderHook(func(po ibtest.PlacedOrder) ibtest.OrderDecision {
			if po.Order.ParentID != 0 {
				return ibtest.OrderDecision{RejectCode: 201, RejectMessage: "Order rejected - reason: child rejected by fake gateway"}
			}
			return ibtest.OrderDecision{}
		}))
	}
	srv := ibtest.Serve(ln, opts...)
	logger.Info("fake_gateway_listening", zap.String("addr", srv.Addr()), zap.Int64("next_id", *nextID))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("fake_gateway_stopping",
		zap.Int("orders", len(srv.Orders())),
		zap.Int("cancels", len(srv.Cancels())))
	_ = srv.Close()
}
