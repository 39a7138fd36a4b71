package marketdata

import (
	"testing"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func snap(tokenID string, ts time.Time, bid, ask float64) domain.BookSnapshot {
	return domain.BookSnapshot{
		TokenID:    tokenID,
		Bids:       []domain.BookLevel{{Price: bid, Size: 100}},
		Asks:       []domain.BookLevel{{Price: ask, Size: 100}},
		ObservedAt: ts,
	}
}

func TestBooks_UpdateAndGet(t *testing.T) {
	b := NewBooks(5 * time.Minute)

	_, ok := b.Get("tok")
	assert.False(t, ok)

	b.Update(snap("tok", base, 0.48, 0.52))
	got, ok := b.Get("tok")
	require.True(t, ok)
	assert.Equal(t, 0.48, got.BestBid())
}

func TestBooks_IgnoresOlderSnapshots(t *testing.T) {
	b := NewBooks(5 * time.Minute)

	b.Update(snap("tok", base.Add(10*time.Second), 0.50, 0.52))
	// Un resync puede reenviar estado ya visto: no retroceder.
	b.Update(snap("tok", base, 0.40, 0.42))

	got, ok := b.Get("tok")
	require.True(t, ok)
	assert.Equal(t, 0.50, got.BestBid())
}

func TestBooks_Drop(t *testing.T) {
	b := NewBooks(5 * time.Minute)
	b.Update(snap("tok", base, 0.48, 0.52))
	b.Drop("tok")

	_, ok := b.Get("tok")
	assert.False(t, ok)
}

func TestVolTracker_NeedsThreeSamples(t *testing.T) {
	v := NewVolTracker(5 * time.Minute)

	v.Observe("tok", base, 0.50)
	v.Observe("tok", base.Add(10*time.Second), 0.52)
	assert.Equal(t, 0.0, v.Volatility("tok", base.Add(20*time.Second)))

	v.Observe("tok", base.Add(20*time.Second), 0.50)
	assert.Greater(t, v.Volatility("tok", base.Add(30*time.Second)), 0.0)
}

func TestVolTracker_FlatPricesAreZero(t *testing.T) {
	v := NewVolTracker(5 * time.Minute)
	for i := 0; i < 5; i++ {
		v.Observe("tok", base.Add(time.Duration(i)*10*time.Second), 0.50)
	}
	assert.Equal(t, 0.0, v.Volatility("tok", base.Add(time.Minute)))
}

func TestVolTracker_WindowPrunesOldSamples(t *testing.T) {
	v := NewVolTracker(time.Minute)

	// Movimiento fuerte, pero hace más de un minuto.
	v.Observe("tok", base, 0.30)
	v.Observe("tok", base.Add(5*time.Second), 0.70)
	v.Observe("tok", base.Add(10*time.Second), 0.30)

	assert.Equal(t, 0.0, v.Volatility("tok", base.Add(3*time.Minute)))
}

func TestVolTracker_DropsOutOfOrderSamples(t *testing.T) {
	v := NewVolTracker(5 * time.Minute)

	v.Observe("tok", base.Add(20*time.Second), 0.50)
	v.Observe("tok", base, 0.90) // fuera de orden: descartada
	v.Observe("tok", base.Add(30*time.Second), 0.50)
	v.Observe("tok", base.Add(40*time.Second), 0.50)

	assert.Equal(t, 0.0, v.Volatility("tok", base.Add(time.Minute)))
}
