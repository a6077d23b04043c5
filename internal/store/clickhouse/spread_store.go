package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

const createSpreadPoints = `
	CREATE TABLE IF NOT EXISTS spread_points (
		timestamp_ms     UInt64,
		symbol           LowCardinality(String),
		pair             LowCardinality(String),
		trigger_exchange LowCardinality(String),
		gross_spread_pct Float64,
		net_spread_pct   Float64,
		expected_profit  Float64,
		status           LowCardinality(String),
		reason           LowCardinality(String),
		latency_ms       Float64
	) ENGINE = MergeTree
	ORDER BY (symbol, timestamp_ms)`

// SpreadStore implements domain.SpreadStore using ClickHouse.
type SpreadStore struct {
	conn *Conn
}

var _ domain.SpreadStore = (*SpreadStore)(nil)

// NewSpreadStore creates a SpreadStore on conn.
func NewSpreadStore(conn *Conn) *SpreadStore {
	return &SpreadStore{conn: conn}
}

// EnsureSchema creates the spread_points table when missing.
func (s *SpreadStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createSpreadPoints); err != nil {
		return fmt.Errorf("clickhouse: create spread_points: %w", err)
	}
	return nil
}

// InsertBulk appends points in a single batch.
func (s *SpreadStore) InsertBulk(ctx context.Context, points []domain.SpreadPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO spread_points (
			timestamp_ms, symbol, pair, trigger_exchange, gross_spread_pct,
			net_spread_pct, expected_profit, status, reason, latency_ms
		)`)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare spread batch: %w", err)
	}
	for _, p := range points {
		if err := batch.Append(
			uint64(p.Timestamp.UnixMilli()), p.Symbol, p.Pair, p.TriggerExchange, p.GrossSpreadPct,
			p.NetSpreadPct, p.ExpectedProfit, p.Status.String(), p.Reason, p.LatencyMs,
		); err != nil {
			return fmt.Errorf("clickhouse: append spread point: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send spread batch: %w", err)
	}
	return nil
}

// Range returns the points of symbol within [from, to], oldest first.
func (s *SpreadStore) Range(ctx context.Context, symbol string, from, to time.Time) ([]domain.SpreadPoint, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms, symbol, pair, trigger_exchange, gross_spread_pct,
			net_spread_pct, expected_profit, status, reason, latency_ms
		FROM spread_points
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC`,
		domain.NormalizeSymbol(symbol), uint64(from.UnixMilli()), uint64(to.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("clickhouse: query spread range: %w", err)
	}
	defer rows.Close()

	var out []domain.SpreadPoint
	for rows.Next() {
		var (
			p      domain.SpreadPoint
			ts     uint64
			status string
		)
		if err := rows.Scan(
			&ts, &p.Symbol, &p.Pair, &p.TriggerExchange, &p.GrossSpreadPct,
			&p.NetSpreadPct, &p.ExpectedProfit, &status, &p.Reason, &p.LatencyMs,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: scan spread point: %w", err)
		}
		p.Timestamp = time.UnixMilli(int64(ts)).UTC()
		if p.Status, err = domain.ParseOpportunityStatus(status); err != nil {
			return nil, fmt.Errorf("clickhouse: spread point status: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: iterate spread points: %w", err)
	}
	return out, nil
}
