package feed

import (
	"context"
	"sort"
	"testing"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSource() *Source {
	return NewSource(Config{})
}

func testMarket() domain.Market {
	return domain.Market{
		ConditionID: "0xcond",
		YesTokenID:  "tok-yes",
		NoTokenID:   "tok-no",
	}
}

func drainEvents(s *Source) []ports.FeedEvent {
	var out []ports.FeedEvent
	for {
		select {
		case ev := <-s.out:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSplitMessages(t *testing.T) {
	// El CLOB a veces manda frames con un array de mensajes.
	msgs := splitMessages([]byte(`[{"event_type":"book"},{"event_type":"price_change"}]`))
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"event_type":"book"}`, string(msgs[0]))

	msgs = splitMessages([]byte(`{"event_type":"book"}`))
	require.Len(t, msgs, 1)
}

func TestSubscribe_SignalsBothChannels(t *testing.T) {
	s := testSource()

	require.NoError(t, s.Subscribe(context.Background(), testMarket()))

	// Un cambio de mercados reconecta las DOS sesiones.
	select {
	case <-s.resubMarket:
	default:
		t.Fatal("expected market resubscription signal")
	}
	select {
	case <-s.resubUser:
	default:
		t.Fatal("expected user resubscription signal")
	}

	assert.Equal(t, []string{"tok-no", "tok-yes"}, sorted(s.subscribedTokens()))
}

func TestUnsubscribe_ForgetsMarketState(t *testing.T) {
	s := testSource()
	require.NoError(t, s.Subscribe(context.Background(), testMarket()))
	s.storeBook(domain.BookSnapshot{TokenID: "tok-yes"})

	require.NoError(t, s.Unsubscribe(context.Background(), "0xcond"))

	assert.Empty(t, s.subscribedTokens())
	_, ok := s.loadBook("tok-yes")
	assert.False(t, ok)
}

func TestHandleMarketMessage_BookEmitsEvent(t *testing.T) {
	s := testSource()
	require.NoError(t, s.Subscribe(context.Background(), testMarket()))
	drainSignals(s)

	s.handleMarketMessage([]byte(`{
		"event_type": "book",
		"asset_id": "tok-yes",
		"market": "0xcond",
		"bids": [{"price": "0.48", "size": "100"}],
		"asks": [{"price": "0.52", "size": "80"}],
		"timestamp": "1767096000000"
	}`))

	evs := drainEvents(s)
	require.Len(t, evs, 1)
	assert.Equal(t, ports.FeedBook, evs[0].Type)
	assert.Equal(t, "0xcond", evs[0].ConditionID)
	assert.Equal(t, uint64(1), evs[0].Sequence)
	require.NotNil(t, evs[0].Book)
	assert.Equal(t, 0.48, evs[0].Book.BestBid())
}

func TestHandleMarketMessage_PriceChangeReemitsFullBook(t *testing.T) {
	s := testSource()
	require.NoError(t, s.Subscribe(context.Background(), testMarket()))

	s.handleMarketMessage([]byte(`{
		"event_type": "book",
		"asset_id": "tok-yes",
		"market": "0xcond",
		"bids": [{"price": "0.48", "size": "100"}],
		"asks": [{"price": "0.52", "size": "80"}]
	}`))
	drainEvents(s)

	s.handleMarketMessage([]byte(`{
		"event_type": "price_change",
		"market": "0xcond",
		"price_changes": [
			{"asset_id": "tok-yes", "price": "0.49", "size": "25", "side": "BUY"}
		]
	}`))

	evs := drainEvents(s)
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Book)
	// El delta se aplica sobre el snapshot cacheado y se reemite entero.
	assert.Equal(t, 0.49, evs[0].Book.BestBid())
	assert.Equal(t, 0.52, evs[0].Book.BestAsk())
}

func TestHandleMarketMessage_PriceChangeWithoutSnapshotIsIgnored(t *testing.T) {
	s := testSource()
	require.NoError(t, s.Subscribe(context.Background(), testMarket()))

	s.handleMarketMessage([]byte(`{
		"event_type": "price_change",
		"market": "0xcond",
		"price_changes": [
			{"asset_id": "tok-yes", "price": "0.49", "size": "25", "side": "BUY"}
		]
	}`))

	assert.Empty(t, drainEvents(s))
}

func TestHandleUserMessage_OnlyMatchedTradesBecomeFills(t *testing.T) {
	s := testSource()

	s.handleUserMessage([]byte(`{
		"event_type": "trade",
		"asset_id": "tok-yes",
		"market": "0xcond",
		"side": "BUY",
		"price": "0.49",
		"size": "20",
		"status": "MINED",
		"taker_order_id": "clob-1"
	}`))
	assert.Empty(t, drainEvents(s), "MINED es un eco del settlement, no un fill nuevo")

	s.handleUserMessage([]byte(`{
		"event_type": "trade",
		"asset_id": "tok-yes",
		"market": "0xcond",
		"side": "BUY",
		"price": "0.49",
		"size": "20",
		"status": "MATCHED",
		"taker_order_id": "clob-1"
	}`))

	evs := drainEvents(s)
	require.Len(t, evs, 1)
	assert.Equal(t, ports.FeedFill, evs[0].Type)
	require.NotNil(t, evs[0].Fill)
	assert.Equal(t, 20.0, evs[0].Fill.Size)
}

func TestHandleUserMessage_MakerTradeEmitsOwnFills(t *testing.T) {
	s := NewSource(Config{Creds: Credentials{APIKey: "key-1"}})

	// Trade donde somos maker: el side top-level (SELL) es del taker que
	// cruzó nuestro BUY descansando.
	s.handleUserMessage([]byte(`{
		"event_type": "trade",
		"asset_id": "tok-yes",
		"market": "0xcond",
		"side": "SELL",
		"price": "0.48",
		"size": "50",
		"status": "MATCHED",
		"taker_order_id": "0xTAKER",
		"trader_side": "MAKER",
		"maker_orders": [
			{"order_id": "0xMIA", "owner": "key-1", "matched_amount": "20", "price": "0.48", "asset_id": "tok-yes", "side": "BUY"},
			{"order_id": "0xOTRO", "owner": "key-ajena", "matched_amount": "30", "price": "0.48", "asset_id": "tok-yes", "side": "BUY"}
		]
	}`))

	evs := drainEvents(s)
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Fill)
	assert.Equal(t, "0xMIA", evs[0].Fill.CLOBOrderID)
	assert.Equal(t, domain.SideBuy, evs[0].Fill.Side)
	assert.Equal(t, 20.0, evs[0].Fill.Size)
	assert.Equal(t, uint64(1), evs[0].Sequence)
}

func TestHandleUserMessage_OrderUpdate(t *testing.T) {
	s := testSource()

	s.handleUserMessage([]byte(`{
		"event_type": "order",
		"id": "clob-9",
		"asset_id": "tok-yes",
		"market": "0xcond",
		"side": "SELL",
		"price": "0.55",
		"original_size": "30",
		"size_matched": "0",
		"type": "CANCELLATION"
	}`))

	evs := drainEvents(s)
	require.Len(t, evs, 1)
	assert.Equal(t, ports.FeedOrderUpdate, evs[0].Type)
	require.NotNil(t, evs[0].Order)
	assert.Equal(t, "clob-9", evs[0].Order.CLOBOrderID)
	assert.Equal(t, domain.OrderCancelled, evs[0].Order.Status)
}

func drainSignals(s *Source) {
	select {
	case <-s.resubMarket:
	default:
	}
	select {
	case <-s.resubUser:
	default:
	}
}

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}
