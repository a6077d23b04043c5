package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

type fakeArchiver struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveOpportunities(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, f.err
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 1, nil
}

func TestArchiveJobUsesRetentionCutoff(t *testing.T) {
	arch := &fakeArchiver{}
	job := NewArchiveJob(arch, 7, discard())
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	want := now.Add(-7 * 24 * time.Hour)
	assert.Equal(t, []time.Time{want, want}, arch.cutoffs)
}

func TestArchiveJobStopsOnError(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("s3 unavailable")}
	job := NewArchiveJob(arch, 0, discard())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, arch.cutoffs, 1)
	assert.Equal(t, 30*24*time.Hour, job.retention)
}

type staticBooks struct {
	books []*domain.OrderBook
}

func (s *staticBooks) Books() []*domain.OrderBook { return s.books }

type mapMirror struct {
	mu      sync.Mutex
	books   map[string]domain.OrderBook
	writes  int
	dropped []string
}

func newMapMirror() *mapMirror { return &mapMirror{books: make(map[string]domain.OrderBook)} }

func (m *mapMirror) SetBook(_ context.Context, b domain.OrderBook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.Exchange+"/"+b.Symbol] = b
	m.writes++
	return nil
}

func (m *mapMirror) GetBook(_ context.Context, exchange, symbol string) (domain.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[exchange+"/"+symbol]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *mapMirror) DeleteExchange(_ context.Context, exchange string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, exchange)
	return nil
}

func TestBookMirrorWritesChangedVersionsOnly(t *testing.T) {
	ctx := context.Background()
	src := &staticBooks{books: []*domain.OrderBook{
		{Exchange: "a", Symbol: "BTCUSDT", Version: 1},
		{Exchange: "b", Symbol: "BTCUSDT", Version: 2},
	}}
	mirror := newMapMirror()
	m := NewBookMirror(src, mirror, 0, discard())

	assert.Equal(t, 2, m.Sync(ctx))
	assert.Equal(t, 0, m.Sync(ctx))

	src.books[1] = &domain.OrderBook{Exchange: "b", Symbol: "BTCUSDT", Version: 5}
	assert.Equal(t, 1, m.Sync(ctx))

	got, err := mirror.GetBook(ctx, "b", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version)
	assert.Equal(t, 3, mirror.writes)
}

func TestBookMirrorDropsVanishedExchanges(t *testing.T) {
	ctx := context.Background()
	src := &staticBooks{books: []*domain.OrderBook{
		{Exchange: "a", Symbol: "BTCUSDT", Version: 1},
		{Exchange: "b", Symbol: "BTCUSDT", Version: 2},
	}}
	mirror := newMapMirror()
	m := NewBookMirror(src, mirror, 0, discard())
	m.Sync(ctx)

	src.books = src.books[:1]
	m.Sync(ctx)
	assert.Equal(t, []string{"b"}, mirror.dropped)

	m.Sync(ctx)
	assert.Equal(t, []string{"b"}, mirror.dropped)
}
