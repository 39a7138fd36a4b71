package retrypolicy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor_TableRouting(t *testing.T) {
	assert.Equal(t, 3, For(domain.KindTransient).MaxAttempts)
	assert.Equal(t, 1, For(domain.KindRejected).MaxAttempts)
	assert.True(t, For(domain.KindAuth).Fatal)
	assert.False(t, For(domain.KindTransient).Fatal)
	assert.Equal(t, 1, For(domain.KindUnknown).MaxAttempts)
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test.op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test.op", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("blip: %w", domain.ErrTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_TransientExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test.op", func() error {
		calls++
		return fmt.Errorf("blip: %w", domain.ErrTransient)
	})
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_RejectedIsNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test.op", func() error {
		calls++
		return fmt.Errorf("bad tick: %w", domain.ErrOrderRejected)
	})
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Equal(t, 1, calls, "un rechazo se recalcula, no se repite tal cual")
}

func TestDo_AuthFailsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test.op", func() error {
		calls++
		return fmt.Errorf("bad signature: %w", domain.ErrAuth)
	})
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, "test.op", func() error {
		calls++
		return fmt.Errorf("blip: %w", domain.ErrTransient)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "el backoff respeta el contexto")
}
