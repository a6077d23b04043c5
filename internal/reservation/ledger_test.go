package reservation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/inventory"
)

func twoLegs(key string, size, buyDepth, sellDepth float64) Request {
	return Request{
		Key:    key,
		Symbol: "BTCUSDT",
		Legs: []LegRequest{
			{Exchange: "a", Side: domain.SideAsk, Size: size, Depth: buyDepth},
			{Exchange: "b", Side: domain.SideBid, Size: size, Depth: sellDepth},
		},
		TTL: 3 * time.Second,
	}
}

func TestReserveAndRelease(t *testing.T) {
	l := NewLedger(nil)

	r, err := l.Reserve(twoLegs("k1", 4, 5, 5))
	require.NoError(t, err)
	assert.Len(t, r.Legs, 2)
	assert.InDelta(t, 4, l.Reserved("a", "BTCUSDT", domain.SideAsk), 1e-12)
	assert.InDelta(t, 4, l.Reserved("b", "btcusdt", domain.SideBid), 1e-12)
	assert.Equal(t, 1, l.Active())

	assert.True(t, l.Release(r.ID))
	assert.False(t, l.Release(r.ID))
	assert.Zero(t, l.Reserved("a", "BTCUSDT", domain.SideAsk))
	assert.Zero(t, l.Active())
}

func TestReserveDuplicateKey(t *testing.T) {
	l := NewLedger(nil)
	r, err := l.Reserve(twoLegs("same-state", 1, 10, 10))
	require.NoError(t, err)

	_, err = l.Reserve(twoLegs("same-state", 1, 10, 10))
	assert.ErrorIs(t, err, domain.ErrAlreadyReserved)
	assert.InDelta(t, 1, l.Reserved("a", "BTCUSDT", domain.SideAsk), 1e-12)

	l.Release(r.ID)
	_, err = l.Reserve(twoLegs("same-state", 1, 10, 10))
	assert.NoError(t, err)
}

func TestReserveRejectsOverlappingDepth(t *testing.T) {
	l := NewLedger(nil)
	_, err := l.Reserve(twoLegs("k1", 4, 5, 5))
	require.NoError(t, err)

	_, err = l.Reserve(twoLegs("k2", 2, 5, 50))
	assert.ErrorIs(t, err, domain.ErrDepthReserved)
	assert.InDelta(t, 4, l.Reserved("b", "BTCUSDT", domain.SideBid), 1e-12, "failed reservation leaves nothing behind")

	_, err = l.Reserve(twoLegs("k3", 1, 5, 5))
	assert.NoError(t, err)
}

func TestReserveReleasesOnFundsFailure(t *testing.T) {
	inv := inventory.New()
	require.NoError(t, inv.SetBalance("a", "USDT", 0))
	l := NewLedger(inv)

	req := twoLegs("k1", 1, 5, 5)
	req.Holds = []domain.FundsHold{{Exchange: "a", Asset: "USDT", Amount: 100}}
	_, err := l.Reserve(req)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Zero(t, l.Active())
	assert.Zero(t, l.Reserved("a", "BTCUSDT", domain.SideAsk))

	// The key is free again.
	require.NoError(t, inv.SetBalance("a", "USDT", 1000))
	r, err := l.Reserve(req)
	require.NoError(t, err)
	assert.InDelta(t, 900, inv.Available("a", "USDT"), 1e-9)

	l.Release(r.ID)
	assert.InDelta(t, 1000, inv.Available("a", "USDT"), 1e-9)
}

func TestSweepExpires(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l := NewLedger(nil, WithClock(func() time.Time { return now }))

	r, err := l.Reserve(twoLegs("k1", 1, 5, 5))
	require.NoError(t, err)

	assert.Empty(t, l.Sweep())

	now = now.Add(3 * time.Second)
	expired := l.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, r.ID, expired[0].ID)
	assert.Zero(t, l.Active())
	assert.False(t, l.Release(r.ID))
}

func TestConcurrentReservationsNeverExceedDepth(t *testing.T) {
	l := NewLedger(nil)
	const depth = 10.0

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Reserve(twoLegs(fmt.Sprintf("k%d", i), 1.5, depth, depth))
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, l.Reserved("a", "BTCUSDT", domain.SideAsk), depth)
	assert.LessOrEqual(t, l.Reserved("b", "BTCUSDT", domain.SideBid), depth)
	assert.Equal(t, 6, l.Active())
}

func TestUnrelatedSidesDoNotInterfere(t *testing.T) {
	l := NewLedger(nil)
	_, err := l.Reserve(twoLegs("k1", 5, 5, 5))
	require.NoError(t, err)

	other := Request{
		Key:    "k2",
		Symbol: "ETHUSDT",
		Legs: []LegRequest{
			{Exchange: "a", Side: domain.SideAsk, Size: 5, Depth: 5},
			{Exchange: "b", Side: domain.SideBid, Size: 5, Depth: 5},
		},
	}
	_, err = l.Reserve(other)
	assert.NoError(t, err)
}

func TestReserveRejectsNonPositiveSize(t *testing.T) {
	l := NewLedger(nil)
	_, err := l.Reserve(twoLegs("k1", 0, 5, 5))
	assert.Error(t, err)
	_, err = l.Reserve(twoLegs("k1", 1, 5, 5))
	assert.NoError(t, err, "key released after a rejected request")
}
