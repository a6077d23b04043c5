package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
	memstore "github.com/alanyoungcy/arbsim/internal/store/memory"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	order   []string
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	w.order = append(w.order, path)
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func lines(t *testing.T, b []byte) []domain.Opportunity {
	t.Helper()
	var out []domain.Opportunity
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var o domain.Opportunity
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		out = append(out, o)
	}
	return out
}

func TestArchiveOpportunitiesPagesAndDeletes(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	opps := memstore.NewOpportunityStore(100)
	for i := 0; i < 5; i++ {
		require.NoError(t, opps.InsertBatch(ctx, []domain.Opportunity{{
			ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
			Symbol: "BTCUSDT", Status: domain.StatusDiscarded,
		}}))
	}
	recent := domain.Opportunity{ID: "recent", Timestamp: base.Add(48 * time.Hour), Symbol: "BTCUSDT", Status: domain.StatusAccepted}
	require.NoError(t, opps.InsertBatch(ctx, []domain.Opportunity{recent}))

	w := &memWriter{}
	audit := &memAudit{}
	a := NewArchiver(w, opps, memstore.NewTradeStore(10), audit, discard())
	a.SetPageSize(3)

	cutoff := base.Add(24 * time.Hour)
	n, err := a.ArchiveOpportunities(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	var ids []string
	for _, p := range w.order {
		assert.Contains(t, p, "archive/opportunities/2026-03/")
		for _, o := range lines(t, w.objects[p]) {
			ids = append(ids, o.ID)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	assert.Equal(t, []string{"archive.opportunities"}, audit.events)

	left, err := opps.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "recent", left[0].ID)

	n, err = a.ArchiveOpportunities(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, audit.events, 1, "empty runs are not audited")
}

func TestArchiveKeepsRowsSharingATimestamp(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	trades := memstore.NewTradeStore(100)
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, trades.InsertBatch(ctx, []domain.SimulatedTrade{{ID: id, Timestamp: ts, Symbol: "BTCUSDT"}}))
	}

	w := &memWriter{}
	a := NewArchiver(w, memstore.NewOpportunityStore(10), trades, nil, discard())
	a.SetPageSize(2)

	n, err := a.ArchiveTrades(ctx, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var count int
	for _, b := range w.objects {
		count += bytes.Count(b, []byte("\n"))
	}
	assert.Equal(t, 3, count)
	left, _ := trades.List(ctx, domain.ListOpts{})
	assert.Empty(t, left)
}

func TestArchivePath(t *testing.T) {
	before := time.Date(2026, 1, 31, 23, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "archive/trades/2026-01/20260131T220000Z-002.jsonl", archivePath("trades", before, 2))
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://minio:9000", withScheme("minio:9000", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", withScheme("https://s3.example.com", false))
}
