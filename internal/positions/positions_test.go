package positions

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	fills  []domain.Fill
	merges []float64
}

func (f *fakeStore) SaveFill(_ context.Context, fill domain.Fill) error {
	f.fills = append(f.fills, fill)
	return nil
}

func (f *fakeStore) SaveMerge(_ context.Context, _ string, amount float64, _ time.Time) error {
	f.merges = append(f.merges, amount)
	return nil
}

func (f *fakeStore) SaveEvent(context.Context, domain.Event) error { return nil }
func (f *fakeStore) ActiveCooldowns(context.Context, time.Time) (map[string]time.Time, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

type fakeMergeClient struct {
	mergeErr error
	merged   []float64
}

func (f *fakeMergeClient) SubmitOrder(context.Context, domain.Quote, string, bool) (string, error) {
	return "", nil
}
func (f *fakeMergeClient) CancelOrder(context.Context, string) error { return nil }
func (f *fakeMergeClient) ListOpenOrders(context.Context, string) ([]domain.RestingOrder, error) {
	return nil, nil
}
func (f *fakeMergeClient) MergePositions(_ context.Context, _ string, amount float64, _ bool) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, amount)
	return nil
}
func (f *fakeMergeClient) GetBalance(context.Context) (float64, error) { return 0, nil }

func testMarket() domain.Market {
	return domain.Market{
		ConditionID: "0xcond",
		Question:    "Will it rain tomorrow?",
		YesTokenID:  "yes",
		NoTokenID:   "no",
	}
}

func fill(tokenID string, side domain.Side, price, size float64) domain.Fill {
	return domain.Fill{
		CLOBOrderID: "clob-1",
		ConditionID: "0xcond",
		TokenID:     tokenID,
		Side:        side,
		Price:       price,
		Size:        size,
		Timestamp:   time.Now().UTC(),
	}
}

func TestTracker_ApplyUpdatesAndPersists(t *testing.T) {
	store := &fakeStore{}
	tr := NewTracker(store)
	positions := map[string]domain.Position{}

	require.NoError(t, tr.Apply(context.Background(), positions, fill("yes", domain.SideBuy, 0.40, 10)))
	require.NoError(t, tr.Apply(context.Background(), positions, fill("yes", domain.SideBuy, 0.46, 20)))

	pos := positions["yes"]
	assert.Equal(t, 30.0, pos.Size)
	assert.InDelta(t, 0.44, pos.AvgPrice, 1e-9)
	assert.Len(t, store.fills, 2)
}

func TestTracker_InconsistentFillLeavesStateUntouched(t *testing.T) {
	tr := NewTracker(&fakeStore{})
	positions := map[string]domain.Position{
		"yes": {Size: 5, AvgPrice: 0.50},
	}

	err := tr.Apply(context.Background(), positions, fill("yes", domain.SideSell, 0.55, 8))
	require.ErrorIs(t, err, domain.ErrInconsistentFill)
	assert.Equal(t, domain.Position{Size: 5, AvgPrice: 0.50}, positions["yes"])
}

func TestMerger_MergesMinOfBothSides(t *testing.T) {
	client := &fakeMergeClient{}
	store := &fakeStore{}
	g := NewMerger(client, store, 1.0)

	positions := map[string]domain.Position{
		"yes": {Size: 12.5, AvgPrice: 0.40},
		"no":  {Size: 8.0, AvgPrice: 0.55},
	}

	ev, err := g.TryMerge(context.Background(), testMarket(), positions)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventMergeExecuted, ev.Type)
	assert.Equal(t, 8.0, ev.Payload["amount"])

	// Ambos lados bajan exactamente en min(yes, no).
	assert.Equal(t, 4.5, positions["yes"].Size)
	assert.Equal(t, 0.40, positions["yes"].AvgPrice, "el merge no toca el precio medio")
	assert.Equal(t, 0.0, positions["no"].Size)
	assert.Equal(t, []float64{8.0}, client.merged)
	assert.Equal(t, []float64{8.0}, store.merges)
}

func TestMerger_BelowMinSizeIsNoOp(t *testing.T) {
	client := &fakeMergeClient{}
	g := NewMerger(client, &fakeStore{}, 1.0)

	positions := map[string]domain.Position{
		"yes": {Size: 20, AvgPrice: 0.40},
		"no":  {Size: 0.5, AvgPrice: 0.55},
	}

	ev, err := g.TryMerge(context.Background(), testMarket(), positions)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Empty(t, client.merged)
	assert.Equal(t, 20.0, positions["yes"].Size)
}

func TestMerger_ClientFailureKeepsPositions(t *testing.T) {
	client := &fakeMergeClient{mergeErr: domain.ErrTransient}
	g := NewMerger(client, &fakeStore{}, 1.0)

	positions := map[string]domain.Position{
		"yes": {Size: 10, AvgPrice: 0.40},
		"no":  {Size: 10, AvgPrice: 0.55},
	}

	ev, err := g.TryMerge(context.Background(), testMarket(), positions)
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Nil(t, ev)
	// Sin confirmación on-chain las posiciones no se tocan.
	assert.Equal(t, 10.0, positions["yes"].Size)
	assert.Equal(t, 10.0, positions["no"].Size)
}

func TestMerger_AmountRoundedDownToCents(t *testing.T) {
	client := &fakeMergeClient{}
	g := NewMerger(client, &fakeStore{}, 1.0)

	positions := map[string]domain.Position{
		"yes": {Size: 7.339, AvgPrice: 0.40},
		"no":  {Size: 9.0, AvgPrice: 0.55},
	}

	_, err := g.TryMerge(context.Background(), testMarket(), positions)
	require.NoError(t, err)
	require.Len(t, client.merged, 1)
	assert.Equal(t, 7.33, client.merged[0])
}
