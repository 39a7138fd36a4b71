package ports

import (
	"context"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// FeedEventType discriminates the events delivered by a market data feed.
type FeedEventType int

const (
	// FeedBook carries a fresh order-book snapshot for one token.
	FeedBook FeedEventType = iota
	// FeedFill carries a confirmed execution against one of our orders.
	FeedFill
	// FeedOrderUpdate carries a lifecycle change for one of our orders
	// (opened, cancelled, rejected).
	FeedOrderUpdate
	// FeedResync signals that the transport reconnected and any state
	// derived from the stream must be re-fetched before trading resumes.
	FeedResync
)

// FeedEvent is a single event from the market data feed. Exactly one of
// Book, Fill, or Order is populated according to Type. Sequence increases
// monotonically per market so consumers can detect gaps.
type FeedEvent struct {
	Type        FeedEventType
	ConditionID string
	Sequence    uint64
	Book        *domain.BookSnapshot
	Fill        *domain.Fill
	Order       *domain.RestingOrder
}

// MarketDataSource streams order-book snapshots and account events for
// subscribed markets. Implementations own transport reconnection; after a
// reconnect they emit FeedResync before any further events. Delivery is
// at-least-once and in order per market.
type MarketDataSource interface {
	// Subscribe registers interest in a market's tokens. Events for all
	// subscribed markets arrive on the shared channel returned by Events.
	Subscribe(ctx context.Context, market domain.Market) error

	// Unsubscribe stops delivery for a market. In-flight events may still
	// arrive after it returns.
	Unsubscribe(ctx context.Context, conditionID string) error

	// Events returns the shared event channel. Closed when the source
	// shuts down for good.
	Events() <-chan FeedEvent
}
