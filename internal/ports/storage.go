package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// EventStore persists the engine's history: confirmed fills, executed merges,
// and risk events. Risk events double as durable cooldown state — on startup
// the orchestrator restores per-market cooldowns from the last stop-loss
// event of each market.
type EventStore interface {
	// SaveFill records a confirmed execution.
	SaveFill(ctx context.Context, fill domain.Fill) error

	// SaveMerge records an executed position merge.
	SaveMerge(ctx context.Context, conditionID string, amount float64, at time.Time) error

	// SaveEvent records an engine event (risk transitions, errors).
	SaveEvent(ctx context.Context, ev domain.Event) error

	// ActiveCooldowns returns, per condition ID, the cooldown deadline of
	// the most recent stop-loss event that has not yet expired at now.
	ActiveCooldowns(ctx context.Context, now time.Time) (map[string]time.Time, error)

	Close() error
}

// Notifier consumes the engine's structured event stream for human-facing
// output (console table, log lines). Implementations must not block the
// caller for long.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event)

	// Summary renders a periodic status report of all markets.
	Summary(ctx context.Context, rows []SummaryRow)
}

// SummaryRow is one market's line in the periodic status report.
type SummaryRow struct {
	Question  string
	RiskState string
	YesSize   float64
	YesAvg    float64
	NoSize    float64
	NoAvg     float64
	BestBid   float64
	BestAsk   float64
	LiveBid   bool
	LiveAsk   bool
}
