package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeHandler struct {
	name   string
	handle func(ctx context.Context, task domain.DispatchTask) error

	mu    sync.Mutex
	tasks []domain.DispatchTask
}

func (f *fakeHandler) Name() string { return f.name }

func (f *fakeHandler) Handle(ctx context.Context, task domain.DispatchTask) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.handle != nil {
		return f.handle(ctx, task)
	}
	return nil
}

func (f *fakeHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeRegistry struct {
	handlers map[string]domain.CapabilityHandler
}

func (r *fakeRegistry) Handler(name string) (domain.CapabilityHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func task(capability string) domain.DispatchTask {
	return domain.DispatchTask{
		Decision: domain.RoutingDecision{Capability: capability, Fragment: "hi", Reason: "test"},
		Customer: domain.Customer{ID: 1},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatchDeliversEveryTask(t *testing.T) {
	h := &fakeHandler{name: "general"}
	d := New(Config{
		Registry: &fakeRegistry{handlers: map[string]domain.CapabilityHandler{"general": h}},
		Workers:  4,
		Logger:   testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 20; i++ {
		d.Submit(task("general"))
	}

	waitFor(t, func() bool { return h.count() == 20 })
}

func TestFailingHandlerDoesNotBlockSiblings(t *testing.T) {
	failing := &fakeHandler{name: "payment", handle: func(context.Context, domain.DispatchTask) error {
		return errors.New("boom")
	}}
	var panicked atomic.Bool
	exploding := &fakeHandler{name: "order-taking", handle: func(context.Context, domain.DispatchTask) error {
		panicked.Store(true)
		panic("handler bug")
	}}
	ok := &fakeHandler{name: "general"}

	d := New(Config{
		Registry: &fakeRegistry{handlers: map[string]domain.CapabilityHandler{
			"payment": failing, "order-taking": exploding, "general": ok,
		}},
		Workers: 2,
		Logger:  testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(task("payment"))
	d.Submit(task("order-taking"))
	d.Submit(task("general"))

	waitFor(t, func() bool { return ok.count() == 1 && panicked.Load() })
}

func TestUnknownCapabilityIsDropped(t *testing.T) {
	h := &fakeHandler{name: "general"}
	d := New(Config{
		Registry: &fakeRegistry{handlers: map[string]domain.CapabilityHandler{"general": h}},
		Workers:  1,
		Logger:   testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(task("weather"))
	d.Submit(task("general"))

	waitFor(t, func() bool { return h.count() == 1 })
}

func TestHandlerGetsPerDispatchTimeout(t *testing.T) {
	var sawDeadline atomic.Bool
	slow := &fakeHandler{name: "general", handle: func(ctx context.Context, _ domain.DispatchTask) error {
		<-ctx.Done()
		sawDeadline.Store(true)
		return ctx.Err()
	}}
	d := New(Config{
		Registry: &fakeRegistry{handlers: map[string]domain.CapabilityHandler{"general": slow}},
		Workers:  1,
		Timeout:  20 * time.Millisecond,
		Logger:   testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(task("general"))

	waitFor(t, sawDeadline.Load)
}

func TestSubmitAfterCloseIsNoOp(t *testing.T) {
	h := &fakeHandler{name: "general"}
	d := New(Config{
		Registry: &fakeRegistry{handlers: map[string]domain.CapabilityHandler{"general": h}},
		Workers:  1,
		Logger:   testLogger(),
	})
	d.Close()
	d.Submit(task("general")) // must not panic on the closed channel

	if h.count() != 0 {
		t.Errorf("handler ran after close")
	}
}
