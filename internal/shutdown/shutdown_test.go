package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockCloser struct {
	mu     sync.Mutex
	closed bool
	err    error
	delay  time.Duration
}

func (m *mockCloser) Close() error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.err
}

func (m *mockCloser) wasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newTestCoordinator() *Coordinator {
	return New(5*time.Second, zerolog.Nop())
}

func TestShutdown_ClosesEverything(t *testing.T) {
	c := newTestCoordinator()
	a, b := &mockCloser{}, &mockCloser{}
	hookCalled := false

	c.Register("storage", a, PriorityStorage)
	c.Register("source", b, PrioritySource)
	c.RegisterHook("runs", func(ctx context.Context) error {
		hookCalled = true
		return nil
	}, PriorityRuns)

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !a.wasClosed() || !b.wasClosed() || !hookCalled {
		t.Errorf("closed a=%v b=%v hook=%v, want all true", a.wasClosed(), b.wasClosed(), hookCalled)
	}
}

func TestShutdown_PriorityOrder(t *testing.T) {
	c := newTestCoordinator()
	var order []string
	record := func(name string) Func {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	c.RegisterHook("storage", record("storage"), PriorityStorage)
	c.RegisterHook("http", record("http"), PriorityHTTPServer)
	c.RegisterHook("runs-a", record("runs-a"), PriorityRuns)
	c.RegisterHook("scheduler", record("scheduler"), PriorityScheduler)
	c.RegisterHook("runs-b", record("runs-b"), PriorityRuns)

	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}

	want := []string{"http", "scheduler", "runs-a", "runs-b", "storage"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestShutdown_Once(t *testing.T) {
	c := newTestCoordinator()
	calls := 0
	c.RegisterHook("count", func(context.Context) error {
		calls++
		return nil
	}, PriorityRuns)

	c.Shutdown()
	c.Shutdown()
	if calls != 1 {
		t.Errorf("hook called %d times, want 1", calls)
	}
}

func TestShutdown_FirstErrorWins(t *testing.T) {
	c := newTestCoordinator()
	first := errors.New("first")
	later := &mockCloser{err: errors.New("second")}

	c.RegisterHook("fails", func(context.Context) error { return first }, PriorityHTTPServer)
	c.Register("also-fails", later, PriorityStorage)

	if err := c.Shutdown(); !errors.Is(err, first) {
		t.Errorf("Shutdown() error = %v, want %v", err, first)
	}
	if !later.wasClosed() {
		t.Error("steps after a failure should still run")
	}
	if err := c.Shutdown(); !errors.Is(err, first) {
		t.Errorf("second Shutdown() error = %v, want %v", err, first)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	c := New(50*time.Millisecond, zerolog.Nop())
	slow := &mockCloser{delay: 100 * time.Millisecond}
	skipped := &mockCloser{}

	c.Register("slow", slow, PriorityHTTPServer)
	c.Register("skipped", skipped, PriorityStorage)

	err := c.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if skipped.wasClosed() {
		t.Error("steps after the timeout should be skipped")
	}
}

func TestTriggerShutdown(t *testing.T) {
	c := newTestCoordinator()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.TriggerShutdown()
		}()
	}
	wg.Wait()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done() should be closed after TriggerShutdown")
	}

	// Shutdown after a trigger must not close the channel twice
	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestWaitForSignal(t *testing.T) {
	t.Run("trigger", func(t *testing.T) {
		c := newTestCoordinator()
		go func() {
			time.Sleep(10 * time.Millisecond)
			c.TriggerShutdown()
		}()
		if sig := c.WaitForSignal(context.Background()); sig != syscall.SIGTERM {
			t.Errorf("WaitForSignal() = %v, want SIGTERM", sig)
		}
	})

	t.Run("context", func(t *testing.T) {
		c := newTestCoordinator()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if sig := c.WaitForSignal(ctx); sig != syscall.SIGTERM {
			t.Errorf("WaitForSignal() = %v, want SIGTERM", sig)
		}
	})
}
