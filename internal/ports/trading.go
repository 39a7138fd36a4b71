package ports

import (
	"context"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// TradingClient places, cancels, and monitors real orders on the Polymarket
// CLOB, and executes on-chain position merges. Implementations classify their
// failures into the domain error taxonomy (domain.ErrTransient, ErrAuth, ...)
// so callers can pick the right retry policy.
type TradingClient interface {
	// SubmitOrder signs and submits a GTC limit order. Returns the
	// exchange-assigned order ID.
	SubmitOrder(ctx context.Context, req domain.Quote, conditionID string, negRisk bool) (string, error)

	// CancelOrder cancels a specific order by its CLOB order ID.
	CancelOrder(ctx context.Context, clobOrderID string) error

	// ListOpenOrders returns the authoritative set of our resting orders
	// for a market. Used to resync after reconnects and timed-out calls.
	ListOpenOrders(ctx context.Context, conditionID string) ([]domain.RestingOrder, error)

	// MergePositions merges amount YES+NO token sets back into collateral.
	MergePositions(ctx context.Context, conditionID string, amount float64, negRisk bool) error

	// GetBalance returns the available collateral balance in the CLOB.
	GetBalance(ctx context.Context) (float64, error)
}
