package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccumulator_AppendAndDrain(t *testing.T) {
	acc := NewAccumulator(16, 0.5)
	require.NoError(t, acc.Append(context.Background(), []byte("hello")))
	require.Equal(t, 5, acc.Len())

	out := acc.Drain(3)
	require.Equal(t, []byte("hel"), out)
	require.Equal(t, 2, acc.Len())
}

func TestAccumulator_AppendBlocksUntilSpace(t *testing.T) {
	acc := NewAccumulator(4, 0.5)
	require.NoError(t, acc.Append(context.Background(), []byte("abcd")))
	require.True(t, acc.IsFull())

	done := make(chan error, 1)
	go func() {
		done <- acc.Append(context.Background(), []byte("ef"))
	}()

	select {
	case <-done:
		t.Fatal("Append should have blocked while buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	acc.Drain(2)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Append did not unblock after space freed")
	}
	require.Equal(t, 4, acc.Len())
}

func TestAccumulator_AppendRespectsContextCancellation(t *testing.T) {
	acc := NewAccumulator(2, 0.5)
	require.NoError(t, acc.Append(context.Background(), []byte("ab")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := acc.Append(ctx, []byte("c"))
	require.Error(t, err)
}

func TestAccumulator_HighWater(t *testing.T) {
	acc := NewAccumulator(10, 0.5)
	require.False(t, acc.HighWater())
	require.NoError(t, acc.Append(context.Background(), []byte("123456")))
	require.True(t, acc.HighWater())
}

func TestAccumulator_NeverExceedsCapacity(t *testing.T) {
	acc := NewAccumulator(8, 0.5)
	require.NoError(t, acc.Append(context.Background(), []byte("1234")))
	require.NoError(t, acc.Append(context.Background(), []byte("5678")))
	require.Equal(t, 8, acc.Len())
	require.True(t, acc.IsFull())
}
