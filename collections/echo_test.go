package collections

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEchoTracker(t *testing.T) {
	var tr echoTracker
	ctx := context.Background()

	if ok, err := tr.wait(ctx, time.Millisecond); !ok || err != nil {
		t.Fatalf("empty tracker: ok=%v err=%v", ok, err)
	}

	tr.sent("a")
	tr.sent("a")
	tr.sent("b")

	tr.settle("unknown")
	tr.settle("a")
	tr.settle("b")
	if ok, _ := tr.wait(ctx, 10*time.Millisecond); ok {
		t.Fatalf("expected one pending payload to keep wait blocked")
	}

	// The timeout dropped the pending set.
	if ok, err := tr.wait(ctx, time.Millisecond); !ok || err != nil {
		t.Fatalf("after timeout: ok=%v err=%v", ok, err)
	}

	tr.sent("c")
	done := make(chan bool, 1)
	go func() {
		ok, _ := tr.wait(ctx, time.Second)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	tr.settle("c")
	if ok := <-done; !ok {
		t.Fatalf("expected wait to return once drained")
	}

	tr.sent("d")
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := tr.wait(cctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	tr.reset()
	if ok, err := tr.wait(ctx, time.Millisecond); !ok || err != nil {
		t.Fatalf("after reset: ok=%v err=%v", ok, err)
	}
}
