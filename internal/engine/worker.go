package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/orders"
	"github.com/alejandrodnm/mmbot/internal/ports"
	"github.com/alejandrodnm/mmbot/internal/retrypolicy"
	"github.com/alejandrodnm/mmbot/internal/risk"
	"github.com/alejandrodnm/mmbot/internal/strategy"
)

// shutdownGrace bounds the order-cancel sweep when a worker stops after its
// parent context is already dead.
const shutdownGrace = 5 * time.Second

// worker owns one market end to end: its positions, its resting orders, its
// risk state. All of that state is confined to the worker goroutine, so no
// locking is needed on the trading path; only the published status row is
// shared. Evaluation is serial by construction — events that arrive while a
// cycle is in flight queue in the inbox and trigger exactly one follow-up
// cycle when drained.
type worker struct {
	conditionID string
	deps        deps
	opts        Options
	inbox       *inbox
	quit        chan struct{}
	stopOnce    sync.Once

	// goroutine-confined trading state
	positions     map[string]domain.Position
	tokenOrders   map[string]*orders.TokenOrders
	riskState     domain.RiskState
	stopDeferrals map[string]int
	needsResync   bool
	lastResync    time.Time
	// delisted marca un mercado que el exchange ya no reconoce: se cancela
	// lo que quede y no se vuelve a cotizar hasta que desaparezca del config.
	delisted bool

	statusMu sync.Mutex
	status   ports.SummaryRow
}

// deps bundles the collaborators every worker shares.
type deps struct {
	provider *ConfigProvider
	client   ports.TradingClient
	store    ports.EventStore
	notifier ports.Notifier
	books    bookProvider
	orders   *orders.Manager
	tracker  fillApplier
	merger   mergeRunner
	fatal    func(error)
}

// bookProvider is the slice of marketdata.Books the worker consumes.
type bookProvider interface {
	Get(tokenID string) (domain.BookSnapshot, bool)
	Volatility(tokenID string, now time.Time) float64
	Drop(tokenID string)
}

type fillApplier interface {
	Apply(ctx context.Context, positions map[string]domain.Position, fill domain.Fill) error
}

type mergeRunner interface {
	TryMerge(ctx context.Context, mkt domain.Market, positions map[string]domain.Position) (*domain.Event, error)
}

// initialRiskState seeds a new worker's risk state, restoring an unexpired
// cooldown persisted by a previous run.
func initialRiskState(conditionID string, cooldowns map[string]time.Time, now time.Time) domain.RiskState {
	if until, ok := cooldowns[conditionID]; ok && until.After(now) {
		return domain.CooldownState(until, risk.ReasonStopLoss)
	}
	return domain.ActiveState()
}

func newWorker(conditionID string, d deps, opts Options, initial domain.RiskState) *worker {
	return &worker{
		conditionID:   conditionID,
		deps:          d,
		opts:          opts,
		inbox:         newInbox(opts.InboxCapacity),
		quit:          make(chan struct{}),
		positions:     make(map[string]domain.Position),
		tokenOrders:   make(map[string]*orders.TokenOrders),
		riskState:     initial,
		stopDeferrals: make(map[string]int),
		// resync before the first quote: there may be resting orders from a
		// previous run.
		needsResync: true,
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.TickInterval)
	defer ticker.Stop()

	slog.Info("engine: market worker started", "condition_id", w.conditionID)

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.quit:
			w.shutdown()
			return
		case <-w.inbox.notify:
		case <-ticker.C:
		}

		for _, ev := range w.inbox.drain() {
			w.handle(ctx, ev)
		}
		w.evaluate(ctx)
	}
}

// shutdown cancels every resting order before the worker exits. Runs on its
// own deadline: the parent context is usually already cancelled here.
func (w *worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	mkt, _, ok := w.lookup()
	if !ok {
		return
	}
	for _, tokenID := range mkt.TokenIDs() {
		if st := w.tokenOrders[tokenID]; st != nil {
			evs, err := w.deps.orders.CancelAll(ctx, mkt, st)
			w.emit(ctx, evs)
			if err != nil {
				slog.Warn("engine: shutdown cancel failed",
					"condition_id", w.conditionID,
					"token_id", tokenID,
					"err", err,
				)
			}
		}
	}
	slog.Info("engine: market worker stopped", "condition_id", w.conditionID)
}

// handle applies one feed event to the worker's state. Book snapshots were
// already stored by the pump; here they only act as an evaluation trigger.
func (w *worker) handle(ctx context.Context, ev ports.FeedEvent) {
	switch ev.Type {
	case ports.FeedBook:
		// trigger only

	case ports.FeedFill:
		if ev.Fill == nil {
			return
		}
		w.applyFill(ctx, *ev.Fill)

	case ports.FeedOrderUpdate:
		if ev.Order == nil {
			return
		}
		w.applyOrderUpdate(*ev.Order)

	case ports.FeedResync:
		w.needsResync = true
	}
}

func (w *worker) applyFill(ctx context.Context, fill domain.Fill) {
	err := w.deps.tracker.Apply(ctx, w.positions, fill)
	if err == nil {
		w.markOrderFilled(fill)
		return
	}

	if errors.Is(err, domain.ErrInconsistentFill) {
		// The ledger no longer matches the exchange. Stop trading this
		// market until someone reconciles it by hand; an automatic guess
		// would compound the damage.
		prev := w.riskState
		w.riskState = domain.PausedState(risk.ReasonInconsistency)
		w.recordTransition(ctx, fill.TokenID, prev, w.riskState, 0)
		slog.Error("engine: inconsistent fill, market paused",
			"condition_id", w.conditionID,
			"token_id", fill.TokenID,
			"side", fill.Side,
			"size", fill.Size,
			"err", err,
		)
		return
	}
	slog.Error("engine: fill not applied", "condition_id", w.conditionID, "err", err)
}

// markOrderFilled reflects an execution on the matching resting order so the
// next reconcile pass does not treat a consumed order as still working.
func (w *worker) markOrderFilled(fill domain.Fill) {
	st := w.tokenOrders[fill.TokenID]
	if st == nil {
		return
	}
	for _, side := range []*orders.SideState{&st.Bid, &st.Ask} {
		if side.Order == nil || side.Order.CLOBOrderID != fill.CLOBOrderID {
			continue
		}
		side.Order.FilledSize += fill.Size
		if side.Order.Remaining() <= 0 {
			side.Order.Status = domain.OrderFilled
		}
		return
	}
}

func (w *worker) applyOrderUpdate(upd domain.RestingOrder) {
	st := w.tokenOrders[upd.TokenID]
	if st == nil {
		return
	}
	for _, side := range []*orders.SideState{&st.Bid, &st.Ask} {
		if side.Order == nil || side.Order.CLOBOrderID != upd.CLOBOrderID {
			continue
		}
		side.Order.Status = upd.Status
		if upd.FilledSize > side.Order.FilledSize {
			side.Order.FilledSize = upd.FilledSize
		}
		if !upd.Status.Live() {
			side.Order = nil
		}
		return
	}
}

// evaluate runs one full cycle: resync if needed, risk, strategy, order
// reconciliation, merge. Any step that fails leaves state consistent and is
// retried naturally on the next trigger.
func (w *worker) evaluate(ctx context.Context) {
	if w.delisted {
		return
	}
	mkt, profile, ok := w.lookup()
	if !ok {
		return
	}
	now := time.Now()

	if err := w.maybeResync(ctx, mkt); err != nil {
		slog.Warn("engine: open-order resync failed", "condition_id", w.conditionID, "err", err)
		return
	}

	takeProfit := make(map[string]*domain.Quote, 2)
	for _, tokenID := range mkt.TokenIDs() {
		book, haveBook := w.deps.books.Get(tokenID)
		if !haveBook {
			continue
		}
		d := risk.Evaluate(risk.Input{
			Market:        mkt,
			TokenID:       tokenID,
			Book:          book,
			Position:      w.positions[tokenID],
			Profile:       profile,
			State:         w.riskState,
			Volatility:    w.deps.books.Volatility(tokenID, now),
			StopDeferrals: w.stopDeferrals[tokenID],
			Now:           now,
		})

		if d.ForcedExit != nil {
			w.forceExit(ctx, mkt, tokenID, book, d)
			w.publishStatus(mkt)
			return
		}
		if d.DeferredExit {
			w.stopDeferrals[tokenID]++
			slog.Warn("engine: stop-loss deferred, spread too wide",
				"condition_id", w.conditionID,
				"token_id", tokenID,
				"spread_cents", book.SpreadCents(),
				"deferrals", w.stopDeferrals[tokenID],
			)
		} else {
			w.stopDeferrals[tokenID] = 0
		}
		if d.Transitioned {
			prev := w.riskState
			w.riskState = d.State
			w.recordTransition(ctx, tokenID, prev, d.State, w.positions[tokenID].PnLPct(book.Midpoint()))
		}
		takeProfit[tokenID] = d.TakeProfit
	}

	if mkt.Enabled {
		w.quote(ctx, mkt, profile, now, takeProfit)
		if !w.delisted {
			w.merge(ctx, mkt)
		}
	} else {
		// Disabled markets keep their forced-exit path above but quote
		// nothing; pull whatever is still resting.
		w.cancelAllTokens(ctx, mkt)
	}
	w.publishStatus(mkt)
}

// quote computes and reconciles the desired quote pair for both tokens.
func (w *worker) quote(ctx context.Context, mkt domain.Market, profile domain.Profile, now time.Time, takeProfit map[string]*domain.Quote) {
	for _, tokenID := range mkt.TokenIDs() {
		book, haveBook := w.deps.books.Get(tokenID)
		if !haveBook {
			continue
		}
		desired := strategy.Quotes(strategy.Input{
			Market:   mkt,
			TokenID:  tokenID,
			Book:     book,
			Position: w.positions[tokenID],
			Opposite: w.positions[mkt.OppositeToken(tokenID)],
			Profile:  profile,
			Risk:     w.riskState,
			Now:      now,
			StaleAge: w.opts.StaleBookAge,
		})
		if tp := takeProfit[tokenID]; tp != nil {
			desired.Ask = tp
		}

		evs, err := w.deps.orders.Reconcile(ctx, mkt, desired, w.ordersFor(tokenID))
		w.emit(ctx, evs)
		if err != nil {
			switch domain.Classify(err) {
			case domain.KindAuth:
				w.deps.fatal(err)
			case domain.KindDelisted:
				w.retireDelisted(ctx, mkt, err)
			default:
				slog.Warn("engine: reconcile failed", "condition_id", w.conditionID, "token_id", tokenID, "err", err)
				continue
			}
			return
		}
	}
}

func (w *worker) merge(ctx context.Context, mkt domain.Market) {
	ev, err := w.deps.merger.TryMerge(ctx, mkt, w.positions)
	if err != nil {
		slog.Warn("engine: merge failed", "condition_id", w.conditionID, "err", err)
		return
	}
	if ev != nil {
		w.emit(ctx, []domain.Event{*ev})
	}
}

// forceExit executes a stop-loss: cancel everything on the market, then sell
// the position at the bid. The cooldown only sticks if the sell went through;
// otherwise the previous state is restored and the exit counts as deferred.
// The exit is recorded in the token's ask side like any other order: risk
// re-fires the stop-loss every cycle until the fill arrives, and an untracked
// sell would get stacked on instead of replaced.
func (w *worker) forceExit(ctx context.Context, mkt domain.Market, tokenID string, book domain.BookSnapshot, d risk.Decision) {
	st := w.ordersFor(d.ForcedExit.TokenID)
	if o := st.Ask.Order; o != nil && o.Status.Live() && o.Side == domain.SideSell &&
		o.Price == d.ForcedExit.Price && o.Remaining() >= d.ForcedExit.Size {
		// La salida ya descansa al precio forzado actual: esperar el fill.
		return
	}

	prev := w.riskState
	w.cancelAllTokens(ctx, mkt)

	q := domain.Quote{
		TokenID: d.ForcedExit.TokenID,
		Side:    domain.SideSell,
		Price:   d.ForcedExit.Price,
		Size:    d.ForcedExit.Size,
	}
	var clobID string
	err := retrypolicy.Do(ctx, "engine.forceExit", func() error {
		id, err := w.deps.client.SubmitOrder(ctx, q, mkt.ConditionID, mkt.NegRisk)
		clobID = id
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Sin respuesta no se asume que la venta no entró.
			st.Ask.NeedsRefresh = true
		}
		w.stopDeferrals[tokenID]++
		slog.Error("engine: forced exit failed",
			"condition_id", w.conditionID,
			"token_id", tokenID,
			"price", fmt.Sprintf("$%.2f", q.Price),
			"size", q.Size,
			"err", err,
		)
		w.emit(ctx, []domain.Event{{
			ID:          uuid.NewString(),
			Type:        domain.EventEngineError,
			ConditionID: mkt.ConditionID,
			TokenID:     tokenID,
			At:          time.Now(),
			Payload:     map[string]any{"op": "forced_exit", "error": err.Error()},
		}})
		switch domain.Classify(err) {
		case domain.KindAuth:
			w.deps.fatal(err)
		case domain.KindDelisted:
			w.retireDelisted(ctx, mkt, err)
		}
		return
	}

	st.Ask.Order = &domain.RestingOrder{
		ID:          uuid.NewString(),
		CLOBOrderID: clobID,
		ConditionID: mkt.ConditionID,
		TokenID:     q.TokenID,
		Side:        domain.SideSell,
		Price:       q.Price,
		Size:        q.Size,
		Status:      domain.OrderOpen,
		PlacedAt:    time.Now().UTC(),
	}
	w.riskState = d.State
	w.stopDeferrals[tokenID] = 0
	w.recordTransition(ctx, tokenID, prev, d.State, w.positions[tokenID].PnLPct(book.Midpoint()))
	slog.Warn("engine: stop-loss executed",
		"condition_id", w.conditionID,
		"token_id", tokenID,
		"price", fmt.Sprintf("$%.2f", q.Price),
		"size", q.Size,
		"cooldown_until", d.State.Until,
	)
}

func (w *worker) cancelAllTokens(ctx context.Context, mkt domain.Market) {
	for _, tokenID := range mkt.TokenIDs() {
		st := w.tokenOrders[tokenID]
		if st == nil || !st.Live() {
			continue
		}
		evs, err := w.deps.orders.CancelAll(ctx, mkt, st)
		w.emit(ctx, evs)
		if err != nil {
			if domain.Classify(err) == domain.KindAuth {
				w.deps.fatal(err)
				return
			}
			slog.Warn("engine: cancel sweep failed", "condition_id", w.conditionID, "token_id", tokenID, "err", err)
		}
	}
}

// maybeResync re-fetches open orders when the feed reconnected, a mutating
// call timed out without an answer, or the periodic interval elapsed. Until
// it succeeds no new order goes out on the affected sides.
func (w *worker) maybeResync(ctx context.Context, mkt domain.Market) error {
	yes, no := w.ordersFor(mkt.YesTokenID), w.ordersFor(mkt.NoTokenID)
	pending := w.needsResync ||
		yes.Bid.NeedsRefresh || yes.Ask.NeedsRefresh ||
		no.Bid.NeedsRefresh || no.Ask.NeedsRefresh ||
		time.Since(w.lastResync) >= w.opts.ResyncInterval
	if !pending {
		return nil
	}
	err := retrypolicy.Do(ctx, "engine.resync", func() error {
		return w.deps.orders.RefreshOpenOrders(ctx, mkt, yes, no)
	})
	if err != nil {
		switch domain.Classify(err) {
		case domain.KindAuth:
			w.deps.fatal(err)
		case domain.KindDelisted:
			w.retireDelisted(ctx, mkt, err)
		}
		return err
	}
	w.needsResync = false
	w.lastResync = time.Now()
	return nil
}

// retireDelisted disables a market the exchange no longer recognizes:
// whatever still rests gets cancelled best-effort and the worker quotes
// nothing until the market drops out of the config snapshot.
func (w *worker) retireDelisted(ctx context.Context, mkt domain.Market, cause error) {
	if w.delisted {
		return
	}
	w.delisted = true
	slog.Warn("engine: market delisted on exchange, disabling",
		"condition_id", w.conditionID,
		"err", cause,
	)
	w.cancelAllTokens(ctx, mkt)
	w.emit(ctx, []domain.Event{{
		ID:          uuid.NewString(),
		Type:        domain.EventEngineError,
		ConditionID: mkt.ConditionID,
		At:          time.Now(),
		Payload:     map[string]any{"op": "market_delisted", "error": cause.Error()},
	}})
}

func (w *worker) recordTransition(ctx context.Context, tokenID string, from, to domain.RiskState, pnlPct float64) {
	ev := domain.Event{
		ID:          uuid.NewString(),
		Type:        domain.EventRiskTransition,
		ConditionID: w.conditionID,
		TokenID:     tokenID,
		At:          time.Now(),
		Payload:     risk.TransitionEventPayload(from, to, pnlPct),
	}
	if err := w.deps.store.SaveEvent(ctx, ev); err != nil {
		slog.Warn("engine: risk transition not persisted", "condition_id", w.conditionID, "err", err)
	}
	w.deps.notifier.Notify(ctx, ev)
	slog.Info("engine: risk transition",
		"condition_id", w.conditionID,
		"token_id", tokenID,
		"from", from.String(),
		"to", to.String(),
	)
}

// emit fans engine events out to the notifier.
func (w *worker) emit(ctx context.Context, evs []domain.Event) {
	for _, ev := range evs {
		w.deps.notifier.Notify(ctx, ev)
	}
}

// lookup resolves the worker's market and profile from the current config
// snapshot. A market that vanished from the snapshot yields ok == false; the
// orchestrator retires the worker shortly after.
func (w *worker) lookup() (domain.Market, domain.Profile, bool) {
	snap, ok := w.deps.provider.Snapshot()
	if !ok {
		return domain.Market{}, domain.Profile{}, false
	}
	for _, m := range snap.Markets {
		if m.ConditionID == w.conditionID {
			profile, ok := snap.ProfileFor(m)
			if !ok {
				slog.Warn("engine: market has no profile", "condition_id", w.conditionID)
				return domain.Market{}, domain.Profile{}, false
			}
			return m, profile, true
		}
	}
	return domain.Market{}, domain.Profile{}, false
}

func (w *worker) ordersFor(tokenID string) *orders.TokenOrders {
	st, ok := w.tokenOrders[tokenID]
	if !ok {
		st = &orders.TokenOrders{}
		w.tokenOrders[tokenID] = st
	}
	return st
}

func (w *worker) publishStatus(mkt domain.Market) {
	yes := w.positions[mkt.YesTokenID]
	no := w.positions[mkt.NoTokenID]
	yesOrders := w.ordersFor(mkt.YesTokenID)

	row := ports.SummaryRow{
		Question:  mkt.Question,
		RiskState: w.riskState.String(),
		YesSize:   yes.Size,
		YesAvg:    yes.AvgPrice,
		NoSize:    no.Size,
		NoAvg:     no.AvgPrice,
		LiveBid:   yesOrders.Bid.Order != nil && yesOrders.Bid.Order.Status.Live(),
		LiveAsk:   yesOrders.Ask.Order != nil && yesOrders.Ask.Order.Status.Live(),
	}
	if book, ok := w.deps.books.Get(mkt.YesTokenID); ok {
		row.BestBid = book.BestBid()
		row.BestAsk = book.BestAsk()
	}

	w.statusMu.Lock()
	w.status = row
	w.statusMu.Unlock()
}

func (w *worker) statusRow() ports.SummaryRow {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.status
}
