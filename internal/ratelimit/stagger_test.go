package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStagger_SpacesStarts(t *testing.T) {
	t.Parallel()

	s := NewStagger(100 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, s.Wait(ctx))
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, s.Wait(ctx))
	require.NoError(t, s.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestStagger_ZeroDelay(t *testing.T) {
	t.Parallel()

	s := NewStagger(0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestStagger_Canceled(t *testing.T) {
	t.Parallel()

	s := NewStagger(time.Hour)
	require.NoError(t, s.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Wait(ctx), context.Canceled)
}
