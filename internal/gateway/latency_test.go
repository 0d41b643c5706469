package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"trading-console/internal/correlation"
	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib/ibtest"
)

func TestSlowAckTimesOutThenLands(t *testing.T) {
	srv := startVenue(t, ibtest.WithNextValidID(100), ibtest.WithAckDelay(300*time.Millisecond))
	s := newTestSession(t, srv)
	connect(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.PlaceMarketBuy(ctx, common.ContractByID(ibtest.AAPLConID), 1, common.TIFDay)
	if !errors.Is(err, correlation.ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if n := s.PendingCounts()[KindPlaceAck]; n != 0 {
		t.Fatalf("pending acks after timeout = %d", n)
	}

	// The late ack is still applied to the order's status.
	eventually(t, "late ack", func() bool {
		st, _ := s.OrderStatus(100)
		return st == "Submitted"
	})

	id, err := s.PlaceMarketBuy(context.Background(), common.ContractByID(ibtest.AAPLConID), 1, common.TIFDay)
	if err != nil || id != 101 {
		t.Fatalf("next placement: id=%d err=%v", id, err)
	}
}

func TestConcurrentPlacementsUnderLatency(t *testing.T) {
	const n = 20
	srv := startVenue(t, ibtest.WithNextValidID(100), ibtest.WithAckDelay(50*time.Millisecond))
	s := newTestSession(t, srv)
	connect(t, s)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ids  []int64
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.PlaceLimitBuy(context.Background(), common.ContractByID(ibtest.AAPLConID), 1, 100, common.TIFDay)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids = append(ids, id)
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("placement errors: %v", errs)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != int64(100+i) {
			t.Fatalf("ids = %v, want 100..%d without gaps", ids, 100+n-1)
		}
	}
	if got := len(srv.Orders()); got != n {
		t.Fatalf("venue saw %d orders", got)
	}
}
