package polymarket

import (
	"testing"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClobOpenOrder_ToRestingOrder(t *testing.T) {
	o := clobOpenOrder{
		ID:           "clob-1",
		AssetID:      "tok-yes",
		Market:       "0xcond",
		Side:         "sell",
		OriginalSize: "30",
		SizeMatched:  "12.5",
		Price:        "0.55",
		Status:       "LIVE",
		CreatedAt:    "1767096000",
	}

	r := o.toRestingOrder()
	assert.Equal(t, "clob-1", r.CLOBOrderID)
	assert.Equal(t, domain.SideSell, r.Side)
	assert.Equal(t, 0.55, r.Price)
	assert.Equal(t, 30.0, r.Size)
	assert.Equal(t, 12.5, r.FilledSize)
	assert.Equal(t, 17.5, r.Remaining())
	assert.Equal(t, domain.OrderOpen, r.Status)
	assert.Equal(t, time.Unix(1767096000, 0).UTC(), r.PlacedAt)
}

func TestClobOpenOrder_StatusMapping(t *testing.T) {
	cases := []struct {
		status string
		want   domain.OrderStatus
	}{
		{"LIVE", domain.OrderOpen},
		{"MATCHED", domain.OrderFilled},
		{"CANCELED", domain.OrderCancelled},
		{"CANCELLED", domain.OrderCancelled},
		{"INVALID", domain.OrderCancelled},
	}
	for _, tc := range cases {
		o := clobOpenOrder{Status: tc.status, Side: "buy"}
		assert.Equal(t, tc.want, o.toRestingOrder().Status, tc.status)
	}
}

func TestParseUSDC(t *testing.T) {
	assert.Equal(t, 1.0, parseUSDC("1000000"))
	assert.Equal(t, 152.340001, parseUSDC("152340001"))
	assert.Equal(t, 0.0, parseUSDC(""))
}

func TestParseTimestamp_Formats(t *testing.T) {
	assert.Equal(t, time.Unix(1767096000, 0).UTC(), parseTimestamp("1767096000"))
	assert.Equal(t, time.UnixMilli(1767096000000).UTC(), parseTimestamp("1767096000000"))
	assert.Equal(t,
		time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		parseTimestamp("2026-03-10T12:00:00Z"))
	assert.True(t, parseTimestamp("").IsZero())
}

func TestClassifyStatus(t *testing.T) {
	require.ErrorIs(t, classifyStatus(401, "bad sig"), domain.ErrAuth)
	require.ErrorIs(t, classifyStatus(403, "forbidden"), domain.ErrAuth)
	require.ErrorIs(t, classifyStatus(404, "gone"), domain.ErrMarketDelisted)
	require.ErrorIs(t, classifyStatus(410, "gone"), domain.ErrMarketDelisted)
	require.ErrorIs(t, classifyStatus(400, "bad tick"), domain.ErrOrderRejected)
}

func TestDetectPricePrecision(t *testing.T) {
	assert.Equal(t, int64(100), detectPricePrecision(0.55))
	assert.Equal(t, int64(1000), detectPricePrecision(0.555))
	assert.Equal(t, int64(10000), detectPricePrecision(0.5555))
}
