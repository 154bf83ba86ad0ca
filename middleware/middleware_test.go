package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/breaker"
	"github.com/basedlsg/Car-Dream/id"
	mw "github.com/basedlsg/Car-Dream/middleware"
)

func testCall() *mw.Call {
	return &mw.Call{
		Service:      "simulation",
		Op:           "get_state",
		ExperimentID: id.NewExperimentID(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) mw.Middleware {
		return func(ctx context.Context, c *mw.Call, next mw.Handler) error {
			order = append(order, name+"-in")
			err := next(ctx)
			order = append(order, name+"-out")
			return err
		}
	}

	chain := mw.Chain(tag("outer"), tag("inner"))
	err := chain(context.Background(), testCall(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"outer-in", "inner-in", "handler", "inner-out", "outer-out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChainEmpty(t *testing.T) {
	called := false
	err := mw.Chain()(context.Background(), testCall(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain should invoke handler directly, err=%v called=%v", err, called)
	}
}

func TestTimeoutEnforcesDeadline(t *testing.T) {
	m := mw.Timeout(20 * time.Millisecond)
	err := m(context.Background(), testCall(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeoutPrefersCallTimeout(t *testing.T) {
	c := testCall()
	c.Timeout = time.Minute

	m := mw.Timeout(time.Millisecond)
	err := m(context.Background(), c, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected a deadline")
		}
		if time.Until(deadline) < time.Second {
			t.Errorf("deadline %v too close; call timeout should win", deadline)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	m := mw.Recover(testLogger())
	err := m(context.Background(), testCall(), func(context.Context) error {
		panic("sensor buffer overrun")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
}

func TestCircuitBreakerRejectsWhenOpen(t *testing.T) {
	b := breaker.New("simulation", breaker.WithThreshold(1))
	breakers := map[string]*breaker.Breaker{"simulation": b}
	m := mw.CircuitBreaker(breakers)

	boom := errors.New("backend gone")
	if err := m(context.Background(), testCall(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("first call err = %v, want %v", err, boom)
	}

	calls := 0
	err := m(context.Background(), testCall(), func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, cardream.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("handler invoked %d times while open, want 0", calls)
	}
}

func TestCircuitBreakerPassThroughUnknownService(t *testing.T) {
	m := mw.CircuitBreaker(map[string]*breaker.Breaker{})
	called := false
	if err := m(context.Background(), testCall(), func(context.Context) error {
		called = true
		return nil
	}); err != nil || !called {
		t.Fatalf("expected pass-through, err=%v called=%v", err, called)
	}
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	b := breaker.New("simulation", breaker.WithThreshold(1))
	m := mw.CircuitBreaker(map[string]*breaker.Breaker{"simulation": b})

	_ = m(context.Background(), testCall(), func(context.Context) error {
		return context.Canceled
	})
	if got := b.State(); got != breaker.Closed {
		t.Errorf("state = %s after caller cancellation, want closed", got)
	}
}
