package clickhouse

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

func TestParseDSN(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		addr    string
		user    string
		pass    string
		db      string
		wantErr bool
	}{
		{name: "full", dsn: "clickhouse://u:p@ch:9440/metrics", addr: "ch:9440", user: "u", pass: "p", db: "metrics"},
		{name: "default port", dsn: "clickhouse://ch", addr: "ch:9000"},
		{name: "tcp scheme", dsn: "tcp://ch:9001/db", addr: "ch:9001", db: "db"},
		{name: "bad scheme", dsn: "http://ch:8123", wantErr: true},
		{name: "no host", dsn: "clickhouse:///db", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.addr}, opts.Addr)
			assert.Equal(t, tt.user, opts.Auth.Username)
			assert.Equal(t, tt.pass, opts.Auth.Password)
			assert.Equal(t, tt.db, opts.Auth.Database)
		})
	}
}

func TestSpreadStoreIntegration(t *testing.T) {
	if os.Getenv("ARBSIM_INTEGRATION") == "" {
		t.Skip("set ARBSIM_INTEGRATION to run clickhouse integration tests")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor:   wait.ForListeningPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/default", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store := NewSpreadStore(conn)
	require.NoError(t, store.EnsureSchema(ctx))

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBulk(ctx, []domain.SpreadPoint{
		{Timestamp: base, Symbol: "BTCUSDT", Pair: "a->b", Status: domain.StatusAccepted, NetSpreadPct: 0.3},
		{Timestamp: base.Add(time.Second), Symbol: "BTCUSDT", Pair: "b->a", Status: domain.StatusDiscarded},
		{Timestamp: base.Add(time.Second), Symbol: "ETHUSDT", Pair: "a->b", Status: domain.StatusNoFunds},
	}))

	got, err := store.Range(ctx, "btcusdt", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a->b", got[0].Pair)
	assert.Equal(t, domain.StatusDiscarded, got[1].Status)
	assert.True(t, got[0].Timestamp.Equal(base))
}
