package controller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	name  string
	calls int32
	fail  bool
}

func (c *countingReconciler) Name() string { return c.name }

func (c *countingReconciler) Reconcile(ctx context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	if c.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func TestManagerRunsEveryReconcilerOnItsTicker(t *testing.T) {
	a := &countingReconciler{name: "a"}
	b := &countingReconciler{name: "b"}
	m := NewManager([]Reconciler{a, b}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	m.Start(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&a.calls), int32(2))
	require.GreaterOrEqual(t, atomic.LoadInt32(&b.calls), int32(2))
}

func TestManagerContinuesTickingAfterAReconcilerError(t *testing.T) {
	failing := &countingReconciler{name: "failing", fail: true}
	m := NewManager([]Reconciler{failing}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	m.Start(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&failing.calls), int32(2))
}

func TestManagerStopsAllReconcilersOnContextCancel(t *testing.T) {
	rec := &countingReconciler{name: "a"}
	m := NewManager([]Reconciler{rec}, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}

	countAtCancel := atomic.LoadInt32(&rec.calls)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, countAtCancel, atomic.LoadInt32(&rec.calls))
}
