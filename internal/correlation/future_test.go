package correlation

import (
	"context"
	"errors"
	"testing"
)

func TestFutureSettlesOnce(t *testing.T) {
	f := NewFuture[int]()
	if _, err := f.Result(); !errors.Is(err, ErrPending) {
		t.Fatalf("err = %v, want ErrPending", err)
	}

	if !f.Resolve(1) {
		t.Fatal("first resolve should win")
	}
	if f.Resolve(2) || f.Reject(errors.New("late")) {
		t.Fatal("second settle should lose")
	}

	v, err := f.Wait(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("v=%d err=%v", v, err)
	}
}

func TestFutureWaitPrefersSettledValue(t *testing.T) {
	f := NewFuture[string]()
	f.Resolve("ok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := f.Wait(ctx)
	if err != nil || v != "ok" {
		t.Fatalf("v=%q err=%v", v, err)
	}
}
