// Package engine runs the trading loop: one goroutine per market composing
// risk checks, quote computation, order reconciliation, position tracking
// and merging, under a single orchestrator that owns the market lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/mmbot/internal/marketdata"
	"github.com/alejandrodnm/mmbot/internal/orders"
	"github.com/alejandrodnm/mmbot/internal/ports"
	"github.com/alejandrodnm/mmbot/internal/positions"
)

// Options tunes the orchestrator's timers and queues. Zero values fall back
// to the defaults below.
type Options struct {
	// TickInterval re-evaluates idle markets; feed events trigger
	// evaluation sooner.
	TickInterval time.Duration
	// SummaryInterval spaces the periodic console status report.
	SummaryInterval time.Duration
	// StaleBookAge is how old a book snapshot may be before the strategy
	// refuses to quote on it.
	StaleBookAge time.Duration
	// ResyncInterval forces a periodic open-orders refresh even without a
	// reconnect, so drift from missed user-channel messages self-heals.
	ResyncInterval time.Duration
	// InboxCapacity bounds each market's event queue.
	InboxCapacity int
	// MinMergeSize is the minimum size on BOTH tokens before a merge fires.
	MinMergeSize float64
}

const (
	defaultTickInterval    = 10 * time.Second
	defaultSummaryInterval = 60 * time.Second
	defaultStaleBookAge    = 30 * time.Second
	defaultResyncInterval  = 5 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.SummaryInterval <= 0 {
		o.SummaryInterval = defaultSummaryInterval
	}
	if o.StaleBookAge <= 0 {
		o.StaleBookAge = defaultStaleBookAge
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = defaultResyncInterval
	}
	if o.InboxCapacity <= 0 {
		o.InboxCapacity = defaultInboxCap
	}
	if o.MinMergeSize <= 0 {
		o.MinMergeSize = positions.DefaultMinMergeSize
	}
	return o
}

// Orchestrator owns the set of market workers: it starts one per enabled
// market in the config snapshot, retires workers whose market disappears,
// and fans feed events out to their inboxes.
type Orchestrator struct {
	provider *ConfigProvider
	feed     ports.MarketDataSource
	client   ports.TradingClient
	store    ports.EventStore
	notifier ports.Notifier
	books    *marketdata.Books
	opts     Options

	orderMgr *orders.Manager
	tracker  *positions.Tracker
	merger   *positions.Merger

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup

	fatalOnce sync.Once
	fatalErr  error
	fatalCh   chan struct{}
}

// New wires an orchestrator from its collaborators.
func New(
	provider *ConfigProvider,
	feed ports.MarketDataSource,
	client ports.TradingClient,
	store ports.EventStore,
	notifier ports.Notifier,
	books *marketdata.Books,
	opts Options,
) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		provider: provider,
		feed:     feed,
		client:   client,
		store:    store,
		notifier: notifier,
		books:    books,
		opts:     opts,
		orderMgr: orders.NewManager(client),
		tracker:  positions.NewTracker(store),
		merger:   positions.NewMerger(client, store, opts.MinMergeSize),
		workers:  make(map[string]*worker),
		fatalCh:  make(chan struct{}),
	}
}

// Run blocks until the context dies or a fatal error (authentication, in
// practice) stops every market. Requires a published config snapshot.
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, ok := o.provider.Snapshot(); !ok {
		if err := o.provider.Refresh(ctx); err != nil {
			return fmt.Errorf("engine.Run: initial config: %w", err)
		}
	}

	// Cooldowns survive restarts: a stop-loss an hour ago still means
	// no entries now.
	cooldowns, err := o.store.ActiveCooldowns(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("engine.Run: restore cooldowns: %w", err)
	}
	if len(cooldowns) > 0 {
		slog.Info("engine: restored cooldowns from storage", "markets", len(cooldowns))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.provider.Run(ctx)
	go o.pump(ctx)

	o.reconcileWorkers(ctx, cooldowns)

	summary := time.NewTicker(o.opts.SummaryInterval)
	defer summary.Stop()

	for {
		select {
		case <-ctx.Done():
			o.stopAll()
			return ctx.Err()

		case <-o.fatalCh:
			slog.Error("engine: fatal error, stopping all markets", "err", o.fatalErr)
			cancel()
			o.stopAll()
			return o.fatalErr

		case <-o.provider.Changed():
			o.reconcileWorkers(ctx, nil)

		case <-summary.C:
			o.summarize(ctx)
		}
	}
}

// fatal records the first fatal error and wakes Run. Safe from any worker.
func (o *Orchestrator) fatal(err error) {
	o.fatalOnce.Do(func() {
		o.fatalErr = err
		close(o.fatalCh)
	})
}

// pump is the single reader of the feed channel. Book snapshots land in the
// shared book store immediately — a busy worker still sees fresh prices —
// and every event is forwarded to its market's inbox as a trigger.
func (o *Orchestrator) pump(ctx context.Context) {
	events := o.feed.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				slog.Warn("engine: feed channel closed")
				return
			}
			if ev.Type == ports.FeedBook && ev.Book != nil {
				o.books.Update(*ev.Book)
			}
			if ev.Type == ports.FeedResync && ev.ConditionID == "" {
				o.broadcast(ev)
				continue
			}
			if w := o.workerFor(ev.ConditionID); w != nil {
				w.inbox.push(ev)
			}
		}
	}
}

func (o *Orchestrator) broadcast(ev ports.FeedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.workers {
		w.inbox.push(ev)
	}
}

func (o *Orchestrator) workerFor(conditionID string) *worker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.workers[conditionID]
}

// reconcileWorkers aligns the worker set with the current config snapshot:
// new markets get a subscription and a worker, vanished markets get retired.
// Markets that are present but disabled keep their worker — it abandons
// quoting on its own and still completes any pending forced exit.
func (o *Orchestrator) reconcileWorkers(ctx context.Context, cooldowns map[string]time.Time) {
	snap, ok := o.provider.Snapshot()
	if !ok {
		return
	}

	want := make(map[string]bool, len(snap.Markets))
	for _, m := range snap.Markets {
		want[m.ConditionID] = true
	}

	o.mu.Lock()
	var retire []*worker
	var retireMarkets []string
	for id, w := range o.workers {
		if !want[id] {
			retire = append(retire, w)
			retireMarkets = append(retireMarkets, id)
			delete(o.workers, id)
		}
	}
	o.mu.Unlock()

	for i, w := range retire {
		slog.Info("engine: retiring market", "condition_id", retireMarkets[i])
		w.stop()
		if err := o.feed.Unsubscribe(ctx, retireMarkets[i]); err != nil {
			slog.Warn("engine: unsubscribe failed", "condition_id", retireMarkets[i], "err", err)
		}
	}

	d := deps{
		provider: o.provider,
		client:   o.client,
		store:    o.store,
		notifier: o.notifier,
		books:    o.books,
		orders:   o.orderMgr,
		tracker:  o.tracker,
		merger:   o.merger,
		fatal:    o.fatal,
	}

	for _, m := range snap.Markets {
		o.mu.Lock()
		_, exists := o.workers[m.ConditionID]
		o.mu.Unlock()
		if exists {
			continue
		}

		if err := o.feed.Subscribe(ctx, m); err != nil {
			slog.Warn("engine: subscribe failed, market skipped this cycle",
				"condition_id", m.ConditionID, "err", err)
			continue
		}

		initial := initialRiskState(m.ConditionID, cooldowns, time.Now())
		w := newWorker(m.ConditionID, d, o.opts, initial)

		o.mu.Lock()
		o.workers[m.ConditionID] = w
		o.mu.Unlock()

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w.run(ctx)
		}()
	}
}

func (o *Orchestrator) stopAll() {
	o.mu.Lock()
	for _, w := range o.workers {
		w.stop()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) summarize(ctx context.Context) {
	o.mu.Lock()
	rows := make([]ports.SummaryRow, 0, len(o.workers))
	for _, w := range o.workers {
		rows = append(rows, w.statusRow())
	}
	o.mu.Unlock()

	if len(rows) == 0 {
		return
	}
	o.notifier.Summary(ctx, rows)

	if bal, err := o.client.GetBalance(ctx); err != nil {
		slog.Warn("engine: balance refresh failed", "err", err)
	} else {
		slog.Info("engine: collateral balance", "usdc", fmt.Sprintf("$%.2f", bal))
	}
}
