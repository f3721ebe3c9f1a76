// Package engine hosts the coordinator: the single-goroutine event loop
// that drives schedule evaluation, budget accrual and rule reconciliation.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/blocker"
	"github.com/peva0411/focusgate/internal/budget"
	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/schedule"
	"github.com/peva0411/focusgate/internal/store"
)

// ErrNoSuchSite is returned when an operation references an unknown site id.
var ErrNoSuchSite = errors.New("no such site")

// ErrNotRunning is returned when an operation is posted to a stopped loop.
var ErrNotRunning = errors.New("engine is not running")

// Config holds the coordinator's timer intervals.
type Config struct {
	TickInterval        time.Duration // main re-evaluation tick (default 1 min)
	SessionTickInterval time.Duration // budget accrual while sessions live (default 10s)
	HeartbeatInterval   time.Duration // daemon registry heartbeat (default 30s)
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		TickInterval:        time.Minute,
		SessionTickInterval: 10 * time.Second,
		HeartbeatInterval:   30 * time.Second,
	}
}

// call is a user action serialized onto the event loop.
type call struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Coordinator wires the schedule evaluator, budget tracker and blocking
// synchronizer together and owns all mutable engine state.
//
// Concurrency model: a single event loop goroutine runs every trigger (timer
// tick, session sub-tick, user action, store change) to completion before
// the next is dispatched, so the in-memory state needs no locks. Suspension
// happens only at storage and installer calls, and every operation is
// recomputed from source rather than incrementally patched, so interleaving
// at those boundaries cannot corrupt state.
type Coordinator struct {
	cfg       Config
	clock     domain.Clock
	storage   domain.Store
	evaluator *schedule.Evaluator
	tracker   *budget.Tracker
	sync      *blocker.Synchronizer
	registry  domain.DaemonRegistry
	logger    *zap.Logger

	// Owned in-memory snapshots, mutated only on the loop goroutine.
	schedState domain.ScheduleState
	sites      []domain.BlockedSite

	calls   chan call
	running chan struct{} // closed while the loop runs
	stopped chan struct{} // closed when the loop exits
}

// New creates a coordinator from loaded persisted state. Sessions are never
// restored across a restart; tabs go back through the interstitial.
func New(
	cfg Config,
	clock domain.Clock,
	storage domain.Store,
	evaluator *schedule.Evaluator,
	tracker *budget.Tracker,
	sync *blocker.Synchronizer,
	persisted *store.PersistedState,
	logger *zap.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		clock:      clock,
		storage:    storage,
		evaluator:  evaluator,
		tracker:    tracker,
		sync:       sync,
		logger:     logger,
		schedState: persisted.Schedule,
		sites:      persisted.Sites,
		calls:      make(chan call),
		running:    make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	tracker.SetForceEndHandler(c.onSessionForceEnd)
	return c
}

// SetRegistry attaches a daemon registry for heartbeat updates.
func (c *Coordinator) SetRegistry(r domain.DaemonRegistry) {
	c.registry = r
}

// Run starts the event loop and blocks until the context is canceled.
// A full reconciliation runs once before any other trigger is accepted.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)

	// Startup pass: the persisted verdict may be stale and the installed
	// rule set is disposable, so recompute both before serving.
	c.tick(ctx)
	close(c.running)

	mainTick := time.NewTicker(c.cfg.TickInterval)
	sessionTick := time.NewTicker(c.cfg.SessionTickInterval)
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer func() {
		mainTick.Stop()
		sessionTick.Stop()
		heartbeat.Stop()
	}()

	changes := c.storage.Watch()

	c.logger.Info("coordinator started",
		zap.Duration("tick", c.cfg.TickInterval),
		zap.Duration("session_tick", c.cfg.SessionTickInterval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping")
			c.shutdown()
			return ctx.Err()

		case <-mainTick.C:
			c.tick(ctx)

		case <-sessionTick.C:
			c.sessionTick(ctx)

		case <-heartbeat.C:
			if c.registry != nil {
				if err := c.registry.UpdateHeartbeat(); err != nil {
					c.logger.Warn("failed to update heartbeat", zap.Error(err))
				}
			}

		case key, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.onStoreChange(ctx, key)

		case cl := <-c.calls:
			cl.fn(ctx)
			close(cl.done)
		}
	}
}

// shutdown drains any sessions with a final accrual so consumed budget up to
// now is persisted. The sessions themselves are not resumable.
func (c *Coordinator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.tracker.EndAllSessions(ctx)
}

// tick is the per-minute trigger: re-evaluate the schedule, persist the
// verdict, run the daily-reset check and session accrual, then reconcile.
// Nothing here may panic or propagate an error - the loop must keep ticking.
func (c *Coordinator) tick(ctx context.Context) {
	verdict := c.evaluator.ShouldBlockNow(c.schedState)

	if err := c.storage.Put(ctx, store.KeyBlockVerdict, verdict); err != nil {
		c.logger.Warn("failed to persist blocking verdict", zap.Error(err))
	}

	c.tracker.CheckDailyReset(ctx)
	c.tracker.Tick(ctx)

	c.reconcile(ctx)
}

// sessionTick is the fast accrual trigger, meaningful only while sessions
// are live (or a failed budget write awaits retry).
func (c *Coordinator) sessionTick(ctx context.Context) {
	if !c.tracker.HasSessions() {
		c.tracker.Tick(ctx) // retries a pending persist, otherwise no-op
		return
	}
	c.tracker.CheckDailyReset(ctx)
	c.tracker.Tick(ctx)
	// The tick may have force-ended an exhausted session; reconcile now so
	// the site's rule comes back before the next main tick. With no change
	// the diff is empty and nothing is applied.
	c.reconcile(ctx)
}

// reconcile recomputes the desired rule set and applies the diff. Installer
// failures are logged and self-heal on the next trigger.
func (c *Coordinator) reconcile(ctx context.Context) {
	verdict := c.evaluator.ShouldBlockNow(c.schedState)
	if err := c.sync.Reconcile(ctx, verdict, c.sites, c.tracker.ActiveSiteIDs()); err != nil {
		c.logger.Warn("rule reconciliation failed, will retry next trigger", zap.Error(err))
	}
}

// onSessionForceEnd runs when exhaustion force-ends a session. The calling
// tick reconciles right after, reinstating the site's rule and sending the
// tab back to the interstitial, which shows the exhausted state.
func (c *Coordinator) onSessionForceEnd(s domain.Session) {
	c.logger.Info("session force-ended by exhaustion",
		zap.Int("tab", s.TabID),
		zap.String("site", s.SiteID))
}

// onStoreChange handles an observed store write. All regular writes come
// from this loop, so reacting is normally a no-op (reload equals memory,
// reconcile is idempotent); the path exists so out-of-band writes - a
// migration tool, a future sync surface - still converge the engine.
func (c *Coordinator) onStoreChange(ctx context.Context, key string) {
	switch key {
	case store.KeySchedules, store.KeyActiveID, store.KeyPausedUntil,
		store.KeySites, store.KeyEnabled:
		c.refresh(ctx)
	}
}

// refresh re-reads the schedule/site state from the store and reconciles.
func (c *Coordinator) refresh(ctx context.Context) {
	st, err := store.Load(ctx, c.storage, c.logger)
	if err != nil {
		c.logger.Warn("failed to refresh state from store", zap.Error(err))
		return
	}
	c.schedState = st.Schedule
	c.sites = st.Sites
	c.reconcile(ctx)
}

// do posts fn onto the event loop and waits for it to finish. This is the
// serialization point for every user action: by the time do returns, the
// action's effects (including its reconcile) are visible.
func (c *Coordinator) do(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case <-c.running:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	cl := call{fn: fn, done: make(chan struct{})}
	select {
	case c.calls <- cl:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cl.done:
		return nil
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}
