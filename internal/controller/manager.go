// Package controller runs the reconciliation loops that converge observed
// cluster state toward declared state: Deployment, ReplicaSet, and
// Endpoints. Each loop is constructed with functional options and runs
// Reconcile on a ticker instead of a work queue, since there is no
// external apiserver delivering watch events to queue from.
package controller

import (
	"context"
	"time"

	"github.com/cpaika/gokube/internal/logging"
)

// Reconciler is the loop-body contract every controller implements: look
// at live objects of its kind, reconcile child state through the Store,
// return an error only to be logged (controllers never surface errors to
// the front-end; they retry on the next tick).
type Reconciler interface {
	Reconcile(ctx context.Context) error
	Name() string
}

// Manager runs a fixed set of Reconcilers on independent tickers.
type Manager struct {
	reconcilers []Reconciler
	interval    time.Duration
	log         logging.Logger
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithInterval overrides the default ~2s reconcile tick.
func WithInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.interval = d }
}

// WithManagerLogger sets the Manager's logger.
func WithManagerLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager builds a Manager over the given reconcilers.
func NewManager(reconcilers []Reconciler, opts ...ManagerOption) *Manager {
	m := &Manager{
		reconcilers: reconcilers,
		interval:    2 * time.Second,
		log:         logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs every reconciler on its own ticker until ctx is canceled. A
// missed tick (reconcile still running when the next fires) is not an
// error, only a delay: each reconciler's goroutine serializes its own
// ticks by design of the for/select loop below.
func (m *Manager) Start(ctx context.Context) {
	for _, rec := range m.reconcilers {
		go m.run(ctx, rec)
	}
	<-ctx.Done()
}

func (m *Manager) run(ctx context.Context, rec Reconciler) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log := m.log.WithValues("controller", rec.Name())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rec.Reconcile(ctx); err != nil {
				log.Info("reconcile failed, will retry next tick", "error", err.Error())
			}
		}
	}
}
