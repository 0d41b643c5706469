package correlation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *recordingObserver) ObserveRequest(_ string, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func TestRegistryAccumulatesPartials(t *testing.T) {
	reg := NewRegistry[string]("details", NewIDSource(100))
	id, fut := reg.Begin()
	if id != 100 {
		t.Fatalf("first id = %d, want 100", id)
	}

	reg.AppendPartial(id, "a")
	reg.AppendPartial(id, "b")
	if !reg.Complete(id) {
		t.Fatal("complete should succeed")
	}

	items, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("items = %v", items)
	}
	if reg.Owns(id) || reg.Pending() != 0 {
		t.Fatal("completed request should be removed")
	}
}

func TestRegistryCompleteEmpty(t *testing.T) {
	reg := NewRegistry[int]("symbols", NewIDSource(1))
	id, fut := reg.Begin()
	reg.Complete(id)

	items, err := fut.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
}

func TestRegistryFailDiscardsPartials(t *testing.T) {
	reg := NewRegistry[int]("details", NewIDSource(1))
	id, fut := reg.Begin()
	reg.AppendPartial(id, 7)

	boom := errors.New("no security definition")
	reg.Fail(id, boom)

	if _, err := fut.Result(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestLateMessagesAfterCancelAreNoops(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry[int]("params", NewIDSource(1))
	reg.SetObserver(obs)
	id, fut := reg.Begin()

	if !reg.Cancel(id) {
		t.Fatal("cancel should remove the entry")
	}
	if reg.Owns(id) {
		t.Fatal("cancelled request still registered")
	}

	if reg.AppendPartial(id, 1) || reg.Complete(id) || reg.Fail(id, errors.New("late")) || reg.Cancel(id) {
		t.Fatal("late operations must report false")
	}
	if _, err := fut.Result(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != OutcomeCancelled {
		t.Fatalf("observer outcomes = %v", obs.outcomes)
	}
}

func TestAwaitTimeoutCancels(t *testing.T) {
	reg := NewRegistry[int]("details", NewIDSource(1))
	id, fut := reg.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Await(ctx, reg, id, fut)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if reg.Owns(id) {
		t.Fatal("timed out request should be removed")
	}
	if reg.Complete(id) {
		t.Fatal("complete after timeout must be a no-op")
	}
}

func TestAwaitReturnsResult(t *testing.T) {
	reg := NewRegistry[int]("details", NewIDSource(1))
	id, fut := reg.Begin()

	go func() {
		reg.AppendPartial(id, 42)
		reg.Complete(id)
	}()

	items, err := Await(context.Background(), reg, id, fut)
	if err != nil || len(items) != 1 || items[0] != 42 {
		t.Fatalf("items=%v err=%v", items, err)
	}
}

func TestFailAll(t *testing.T) {
	reg := NewRegistry[int]("symbols", NewIDSource(1))
	_, f1 := reg.Begin()
	_, f2 := reg.Begin()

	if n := reg.FailAll(ErrDisconnected); n != 2 {
		t.Fatalf("FailAll = %d, want 2", n)
	}
	for _, f := range []*Future[[]int]{f1, f2} {
		if _, err := f.Result(); !errors.Is(err, ErrDisconnected) {
			t.Fatalf("err = %v", err)
		}
	}
	if reg.Pending() != 0 {
		t.Fatal("registry should be empty")
	}
}

func TestCompleteCancelRace(t *testing.T) {
	reg := NewRegistry[int]("details", NewIDSource(1))
	for i := 0; i < 200; i++ {
		id, fut := reg.Begin()
		var wg sync.WaitGroup
		var completed, cancelled bool
		wg.Add(2)
		go func() { defer wg.Done(); completed = reg.CompleteWith(id, []int{1}) }()
		go func() { defer wg.Done(); cancelled = reg.Cancel(id) }()
		wg.Wait()

		if completed == cancelled {
			t.Fatalf("exactly one path must win: completed=%v cancelled=%v", completed, cancelled)
		}
		_, err := fut.Result()
		if completed && err != nil {
			t.Fatalf("completed request returned %v", err)
		}
		if cancelled && !errors.Is(err, ErrCancelled) {
			t.Fatalf("cancelled request returned %v", err)
		}
	}
}

func TestIDSourceUniqueUnderConcurrency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64Range(0, 1_000_000).Draw(t, "base")
		workers := rapid.IntRange(1, 16).Draw(t, "workers")
		per := rapid.IntRange(1, 50).Draw(t, "per")

		src := NewIDSource(base)
		var mu sync.Mutex
		seen := make(map[int64]struct{})
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < per; i++ {
					id := src.Next()
					mu.Lock()
					seen[id] = struct{}{}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		total := workers * per
		if len(seen) != total {
			t.Fatalf("got %d distinct ids, want %d", len(seen), total)
		}
		for id := base; id < base+int64(total); id++ {
			if _, ok := seen[id]; !ok {
				t.Fatalf("id %d missing", id)
			}
		}
	})
}
