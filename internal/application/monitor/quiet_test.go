package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwatch/backend/internal/infrastructure/clock"
)

func TestQuietPeriod_SpacesRequests(t *testing.T) {
	clk := clock.NewFake(testStart)
	q := NewQuietPeriod(2*time.Second, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Wait(ctx))
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestQuietPeriod_ElapsedTimeCounts(t *testing.T) {
	clk := clock.NewFake(testStart)
	q := NewQuietPeriod(2*time.Second, clk)
	ctx := context.Background()

	require.NoError(t, q.Wait(ctx))
	clk.Advance(5 * time.Second)
	require.NoError(t, q.Wait(ctx))
	assert.Empty(t, clk.Sleeps())
}

func TestQuietPeriod_Disabled(t *testing.T) {
	clk := clock.NewFake(testStart)
	q := NewQuietPeriod(2*time.Second, clk)
	q.SetInterval(0)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Wait(context.Background()))
	}
	assert.Empty(t, clk.Sleeps())
}

func TestQuietPeriod_Cancelled(t *testing.T) {
	clk := clock.NewFake(testStart)
	q := NewQuietPeriod(time.Second, clk)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Wait(ctx))
	cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.Canceled)
}
