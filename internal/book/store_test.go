package book

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

func snapshot(exchange string, bids, asks []domain.PriceLevel) domain.BookUpdate {
	return domain.BookUpdate{
		Exchange: exchange,
		Symbol:   "btcusdt",
		Kind:     domain.BookSnapshot,
		Bids:     bids,
		Asks:     asks,
	}
}

func TestApplySnapshotSortsAndStamps(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(20, WithClock(func() time.Time { return now }))

	b, err := s.Apply(snapshot("a",
		[]domain.PriceLevel{{Price: 99, Size: 1}, {Price: 100, Size: 2}, {Price: 98, Size: 0}},
		[]domain.PriceLevel{{Price: 102, Size: 1}, {Price: 101, Size: 3}},
	))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", b.Symbol)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Size: 2}, {Price: 99, Size: 1}}, b.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Size: 3}, {Price: 102, Size: 1}}, b.Asks)
	assert.Equal(t, now, b.ReceivedAt)

	got, ok := s.Book("a", "BTCUSDT")
	require.True(t, ok)
	assert.Same(t, b, got)

	at, ok := s.UpdatedAt("a", "btcusdt")
	require.True(t, ok)
	assert.Equal(t, now, at)
}

func TestUnknownKeyIsAbsent(t *testing.T) {
	s := NewStore(20)
	_, ok := s.Book("nope", "BTCUSDT")
	assert.False(t, ok)
	_, ok = s.UpdatedAt("nope", "BTCUSDT")
	assert.False(t, ok)
}

func TestApplyDeltaMerges(t *testing.T) {
	s := NewStore(20)
	_, err := s.Apply(snapshot("a",
		[]domain.PriceLevel{{Price: 100, Size: 1}, {Price: 99, Size: 1}},
		[]domain.PriceLevel{{Price: 101, Size: 1}},
	))
	require.NoError(t, err)

	b, err := s.Apply(domain.BookUpdate{
		Exchange: "a",
		Symbol:   "BTCUSDT",
		Kind:     domain.BookDelta,
		Bids:     []domain.PriceLevel{{Price: 100, Size: 0}, {Price: 99.5, Size: 4}},
		Asks:     []domain.PriceLevel{{Price: 101, Size: 2.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: 99.5, Size: 4}, {Price: 99, Size: 1}}, b.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Size: 2.5}}, b.Asks)
}

func TestApplyDeltaWithoutSnapshot(t *testing.T) {
	s := NewStore(20)
	_, err := s.Apply(domain.BookUpdate{Exchange: "a", Symbol: "BTCUSDT", Kind: domain.BookDelta})
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestApplyRejectsInvalidLevelAndKeepsPrevious(t *testing.T) {
	s := NewStore(20)
	first, err := s.Apply(snapshot("a", []domain.PriceLevel{{Price: 100, Size: 1}}, nil))
	require.NoError(t, err)

	_, err = s.Apply(snapshot("a", []domain.PriceLevel{{Price: -1, Size: 1}}, nil))
	assert.ErrorIs(t, err, domain.ErrInvalidLevel)

	got, ok := s.Book("a", "BTCUSDT")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestDepthIsTruncated(t *testing.T) {
	s := NewStore(3)
	var asks []domain.PriceLevel
	for i := 0; i < 10; i++ {
		asks = append(asks, domain.PriceLevel{Price: float64(100 + i), Size: 1})
	}
	b, err := s.Apply(snapshot("a", nil, asks))
	require.NoError(t, err)
	assert.Len(t, b.Asks, 3)
	assert.Equal(t, 102.0, b.Asks[2].Price)
}

func TestDeltaRefillsFromRetainedDepth(t *testing.T) {
	s := NewStore(20)
	var bids, asks []domain.PriceLevel
	for i := 0; i < 50; i++ {
		bids = append(bids, domain.PriceLevel{Price: float64(100 - i), Size: 1})
		asks = append(asks, domain.PriceLevel{Price: float64(101 + i), Size: 1})
	}
	b, err := s.Apply(snapshot("a", bids, asks))
	require.NoError(t, err)
	require.Len(t, b.Asks, 20)

	var removed []domain.PriceLevel
	for i := 0; i < 10; i++ {
		removed = append(removed, domain.PriceLevel{Price: float64(101 + i), Size: 0})
	}
	b, err = s.Apply(domain.BookUpdate{Exchange: "a", Symbol: "BTCUSDT", Kind: domain.BookDelta, Asks: removed})
	require.NoError(t, err)

	require.Len(t, b.Asks, 20)
	assert.Equal(t, 111.0, b.Asks[0].Price)
	assert.Equal(t, 130.0, b.Asks[19].Price)
	assert.Len(t, b.Bids, 20)

	b, err = s.Apply(domain.BookUpdate{
		Exchange: "a",
		Symbol:   "BTCUSDT",
		Kind:     domain.BookDelta,
		Asks:     []domain.PriceLevel{{Price: 111, Size: 0}},
	})
	require.NoError(t, err)
	require.Len(t, b.Asks, 20)
	assert.Equal(t, 112.0, b.Asks[0].Price)
	assert.Equal(t, 131.0, b.Asks[19].Price)
	assert.InDelta(t, 20, b.Depth(domain.SideAsk), 1e-12)
}

func TestVersionsIncrease(t *testing.T) {
	s := NewStore(20)
	b1, err := s.Apply(snapshot("a", []domain.PriceLevel{{Price: 1, Size: 1}}, nil))
	require.NoError(t, err)
	b2, err := s.Apply(snapshot("a", []domain.PriceLevel{{Price: 1, Size: 2}}, nil))
	require.NoError(t, err)
	assert.Greater(t, b2.Version, b1.Version)
}

func TestDropExchangeAndSymbol(t *testing.T) {
	s := NewStore(20)
	for _, ex := range []string{"a", "b"} {
		for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
			_, err := s.Apply(domain.BookUpdate{Exchange: ex, Symbol: sym, Bids: []domain.PriceLevel{{Price: 1, Size: 1}}})
			require.NoError(t, err)
		}
	}
	assert.Len(t, s.All(), 4)

	s.DropExchange("a")
	assert.Len(t, s.Books("BTCUSDT"), 1)

	s.DropSymbol("ethusdt")
	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Exchange)

	s.Reset()
	assert.Empty(t, s.All())
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := NewStore(20)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ex := fmt.Sprintf("ex%d", w%4)
			for i := 1; i <= 200; i++ {
				size := float64(i)
				_, err := s.Apply(snapshot(ex,
					[]domain.PriceLevel{{Price: 100, Size: size}, {Price: 99, Size: size}},
					[]domain.PriceLevel{{Price: 101, Size: size}, {Price: 102, Size: size}},
				))
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if b, ok := s.Book("ex0", "BTCUSDT"); ok {
					// All levels of one book come from the same update.
					assert.Equal(t, b.Bids[0].Size, b.Asks[1].Size)
				}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.Books("BTCUSDT"), 4)
}
