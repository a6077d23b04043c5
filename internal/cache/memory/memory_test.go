package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	a, err := bus.Subscribe(ctx, domain.ChannelUpdates)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, domain.ChannelUpdates)
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelUpdates, []byte("x")))
	assert.Equal(t, []byte("x"), <-a)
	assert.Equal(t, []byte("x"), <-b)
	assert.Empty(t, other)

	cancel()
	_, ok := <-a
	for ok {
		_, ok = <-a
	}
	assert.False(t, ok)
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := bus.Subscribe(ctx, "c")
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, bus.Publish(ctx, "c", []byte{byte(i)}))
	}
}

func TestStreams(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamTrades, []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, domain.StreamTrades, "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Payload)

	rest, err := bus.StreamRead(ctx, domain.StreamTrades, msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("c"), rest[0].Payload)

	none, err := bus.StreamRead(ctx, domain.StreamTrades, "$", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = bus.StreamRead(ctx, domain.StreamTrades, "x-y", 10)
	assert.Error(t, err)
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	again()

	now := time.Now()
	lm.nowFn = func() time.Time { return now }
	_, err = lm.Acquire(ctx, "lease", time.Second)
	require.NoError(t, err)
	lm.nowFn = func() time.Time { return now.Add(2 * time.Second) }
	_, err = lm.Acquire(ctx, "lease", time.Second)
	assert.NoError(t, err, "expired lease can be taken over")
}
