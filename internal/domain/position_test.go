package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_ApplyFill_BuyAveragesWeighted(t *testing.T) {
	p := Position{}

	p, err := p.ApplyFill(SideBuy, 10, 0.40)
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.Size)
	assert.Equal(t, 0.40, p.AvgPrice)

	// 10 @ 0.40 + 20 @ 0.46 ⇒ avg = 0.44
	p, err = p.ApplyFill(SideBuy, 20, 0.46)
	require.NoError(t, err)
	assert.Equal(t, 30.0, p.Size)
	assert.InDelta(t, 0.44, p.AvgPrice, 1e-9)
}

func TestPosition_ApplyFill_SellKeepsAvgPrice(t *testing.T) {
	p := Position{Size: 30, AvgPrice: 0.44}

	p, err := p.ApplyFill(SideSell, 12, 0.50)
	require.NoError(t, err)
	assert.Equal(t, 18.0, p.Size)
	assert.Equal(t, 0.44, p.AvgPrice)
}

func TestPosition_ApplyFill_SellToZeroResets(t *testing.T) {
	p := Position{Size: 5, AvgPrice: 0.60}

	p, err := p.ApplyFill(SideSell, 5, 0.70)
	require.NoError(t, err)
	assert.Equal(t, Position{}, p)
}

func TestPosition_ApplyFill_OversellIsInconsistent(t *testing.T) {
	p := Position{Size: 5, AvgPrice: 0.60}

	got, err := p.ApplyFill(SideSell, 6, 0.70)
	require.ErrorIs(t, err, ErrInconsistentFill)
	// El estado no se toca: el orchestrator decide qué hacer.
	assert.Equal(t, p, got)
}

func TestPosition_ApplyFill_RejectsNonPositiveSize(t *testing.T) {
	p := Position{Size: 5, AvgPrice: 0.60}
	_, err := p.ApplyFill(SideBuy, 0, 0.50)
	require.Error(t, err)
}

func TestPosition_PnLPct(t *testing.T) {
	p := Position{Size: 10, AvgPrice: 0.50}

	assert.InDelta(t, 10.0, p.PnLPct(0.55), 1e-9)
	assert.InDelta(t, -4.0, p.PnLPct(0.48), 1e-9)
	assert.Equal(t, 0.0, Position{}.PnLPct(0.55))
}
