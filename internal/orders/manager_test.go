package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient registra las llamadas y permite inyectar fallos por operación.
type fakeClient struct {
	submits    []domain.Quote
	cancels    []string
	open       []domain.RestingOrder
	submitErr  error
	cancelErr  error
	listErr    error
	nextCLOBID int
}

func (f *fakeClient) SubmitOrder(_ context.Context, q domain.Quote, _ string, _ bool) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits = append(f.submits, q)
	f.nextCLOBID++
	return fmt.Sprintf("clob-%d", f.nextCLOBID), nil
}

func (f *fakeClient) CancelOrder(_ context.Context, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakeClient) ListOpenOrders(_ context.Context, _ string) ([]domain.RestingOrder, error) {
	return f.open, f.listErr
}

func (f *fakeClient) MergePositions(context.Context, string, float64, bool) error { return nil }
func (f *fakeClient) GetBalance(context.Context) (float64, error)                { return 0, nil }

func testMarket() domain.Market {
	return domain.Market{
		ConditionID: "0xcond",
		Question:    "Will it rain tomorrow?",
		YesTokenID:  "yes",
		NoTokenID:   "no",
		TickSize:    0.01,
	}
}

func resting(side domain.Side, price, size float64) *domain.RestingOrder {
	return &domain.RestingOrder{
		ID:          "local-1",
		CLOBOrderID: "clob-old",
		ConditionID: "0xcond",
		TokenID:     "yes",
		Side:        side,
		Price:       price,
		Size:        size,
		Status:      domain.OrderOpen,
		PlacedAt:    time.Now().UTC(),
	}
}

func TestReconcile_PlacesMissingSides(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)
	state := &TokenOrders{}

	desired := domain.DesiredQuotes{
		Bid: &domain.Quote{TokenID: "yes", Side: domain.SideBuy, Price: 0.49, Size: 20},
		Ask: &domain.Quote{TokenID: "yes", Side: domain.SideSell, Price: 0.52, Size: 30},
	}
	events, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	require.NoError(t, err)

	require.Len(t, client.submits, 2)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventQuotePlaced, events[0].Type)
	require.NotNil(t, state.Bid.Order)
	require.NotNil(t, state.Ask.Order)
	assert.Equal(t, "clob-1", state.Bid.Order.CLOBOrderID)
	assert.Equal(t, domain.OrderOpen, state.Bid.Order.Status)
}

func TestReconcile_IdenticalQuoteIsNoOp(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)
	state := &TokenOrders{Bid: SideState{Order: resting(domain.SideBuy, 0.50, 20)}}

	// Delta de precio 0.2% < 0.5% y delta de tamaño 5% < 10%: no tocar.
	desired := domain.DesiredQuotes{
		Bid: &domain.Quote{TokenID: "yes", Side: domain.SideBuy, Price: 0.501, Size: 21},
	}
	events, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	require.NoError(t, err)

	assert.Empty(t, events)
	assert.Empty(t, client.submits)
	assert.Empty(t, client.cancels)
	assert.Equal(t, "clob-old", state.Bid.Order.CLOBOrderID)
}

func TestReconcile_PriceDriftCancelsThenPlaces(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)
	state := &TokenOrders{Bid: SideState{Order: resting(domain.SideBuy, 0.50, 20)}}

	desired := domain.DesiredQuotes{
		Bid: &domain.Quote{TokenID: "yes", Side: domain.SideBuy, Price: 0.53, Size: 20},
	}
	events, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	require.NoError(t, err)

	// Siempre cancel-then-place, nunca amend.
	require.Equal(t, []string{"clob-old"}, client.cancels)
	require.Len(t, client.submits, 1)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventQuoteCancelled, events[0].Type)
	assert.Equal(t, domain.EventQuotePlaced, events[1].Type)
	assert.Equal(t, 0.53, state.Bid.Order.Price)
}

func TestReconcile_NilDesiredCancelsResting(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)
	state := &TokenOrders{Ask: SideState{Order: resting(domain.SideSell, 0.55, 30)}}

	events, err := m.Reconcile(context.Background(), testMarket(), domain.DesiredQuotes{}, state)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventQuoteCancelled, events[0].Type)
	assert.Nil(t, state.Ask.Order)
}

func TestReconcile_FailedCancelDoesNotPlaceOnTop(t *testing.T) {
	client := &fakeClient{cancelErr: fmt.Errorf("boom: %w", domain.ErrTransient)}
	m := NewManager(client)
	state := &TokenOrders{Bid: SideState{Order: resting(domain.SideBuy, 0.50, 20)}}

	desired := domain.DesiredQuotes{
		Bid: &domain.Quote{TokenID: "yes", Side: domain.SideBuy, Price: 0.53, Size: 20},
	}
	events, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	// El error de un lado se absorbe; la orden vieja puede seguir viva.
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, client.submits, "no colocar encima de una orden posiblemente viva")
	require.NotNil(t, state.Bid.Order)
}

func TestReconcile_AuthErrorPropagates(t *testing.T) {
	client := &fakeClient{submitErr: fmt.Errorf("bad signature: %w", domain.ErrAuth)}
	m := NewManager(client)
	state := &TokenOrders{}

	desired := domain.DesiredQuotes{
		Bid: &domain.Quote{TokenID: "yes", Side: domain.SideBuy, Price: 0.49, Size: 20},
	}
	_, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestReconcile_DelistedErrorPropagates(t *testing.T) {
	// Un mercado delistado no se reintenta lado a lado cada ciclo: el error
	// sube para que el worker retire el mercado entero.
	client := &fakeClient{submitErr: fmt.Errorf("status 404: %w", domain.ErrMarketDelisted)}
	m := NewManager(client)
	state := &TokenOrders{}

	desired := domain.DesiredQuotes{
		Bid: &domain.Quote{TokenID: "yes", Side: domain.SideBuy, Price: 0.49, Size: 20},
	}
	_, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	require.ErrorIs(t, err, domain.ErrMarketDelisted)
}

func TestReconcile_TimeoutMarksNeedsRefresh(t *testing.T) {
	client := &fakeClient{submitErr: fmt.Errorf("submit: %w", context.DeadlineExceeded)}
	m := NewManager(client)
	state := &TokenOrders{}

	desired := domain.DesiredQuotes{
		Bid: &domain.Quote{TokenID: "yes", Side: domain.SideBuy, Price: 0.49, Size: 20},
	}
	_, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	require.NoError(t, err)
	assert.True(t, state.Bid.NeedsRefresh)

	// Con el flag puesto el lado no se toca hasta el resync.
	client.submitErr = nil
	events, err := m.Reconcile(context.Background(), testMarket(), desired, state)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, client.submits)
}

func TestCancelAll_OnlyLiveOrders(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)
	filled := resting(domain.SideSell, 0.55, 30)
	filled.Status = domain.OrderFilled
	state := &TokenOrders{
		Bid: SideState{Order: resting(domain.SideBuy, 0.50, 20)},
		Ask: SideState{Order: filled},
	}

	events, err := m.CancelAll(context.Background(), testMarket(), state)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, []string{"clob-old"}, client.cancels)
	assert.Nil(t, state.Bid.Order)
}

func TestRefreshOpenOrders_ReplacesLocalState(t *testing.T) {
	client := &fakeClient{open: []domain.RestingOrder{
		{CLOBOrderID: "clob-y", TokenID: "yes", Side: domain.SideBuy, Price: 0.49, Size: 20, Status: domain.OrderOpen},
		{CLOBOrderID: "clob-n", TokenID: "no", Side: domain.SideSell, Price: 0.55, Size: 10, Status: domain.OrderOpen},
	}}
	m := NewManager(client)

	yes := &TokenOrders{Bid: SideState{NeedsRefresh: true}}
	no := &TokenOrders{Ask: SideState{Order: resting(domain.SideSell, 0.60, 5), NeedsRefresh: true}}

	require.NoError(t, m.RefreshOpenOrders(context.Background(), testMarket(), yes, no))

	require.NotNil(t, yes.Bid.Order)
	assert.Equal(t, "clob-y", yes.Bid.Order.CLOBOrderID)
	assert.False(t, yes.Bid.NeedsRefresh)
	require.NotNil(t, no.Ask.Order)
	assert.Equal(t, "clob-n", no.Ask.Order.CLOBOrderID)
	assert.Nil(t, no.Bid.Order)
}

func TestShouldUpdate_Hysteresis(t *testing.T) {
	have := domain.RestingOrder{Price: 0.50, Size: 20, Status: domain.OrderOpen}

	assert.False(t, shouldUpdate(have, domain.Quote{Price: 0.501, Size: 20}))
	assert.True(t, shouldUpdate(have, domain.Quote{Price: 0.503, Size: 20}))
	assert.False(t, shouldUpdate(have, domain.Quote{Price: 0.50, Size: 21}))
	assert.True(t, shouldUpdate(have, domain.Quote{Price: 0.50, Size: 25}))
}
