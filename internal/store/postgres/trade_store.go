package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, opportunity_id, ts, symbol, buy_exchange, sell_exchange,
	size, buy_vwap, sell_vwap, pnl, latency_ms,
	buy_latency_ms, sell_latency_ms, sync_delay_ms, settled_at`

func scanTrades(rows pgx.Rows) ([]domain.SimulatedTrade, error) {
	var out []domain.SimulatedTrade
	for rows.Next() {
		var t domain.SimulatedTrade
		if err := rows.Scan(
			&t.ID, &t.OpportunityID, &t.Timestamp, &t.Symbol, &t.BuyExchange, &t.SellExchange,
			&t.Size, &t.BuyVWAP, &t.SellVWAP, &t.PnL, &t.LatencyMs,
			&t.Legs.BuyLatencyMs, &t.Legs.SellLatencyMs, &t.Legs.SyncDelayMs, &t.SettledAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertBatch inserts trades in one pgx batch. Rows whose ID already exists
// are skipped.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.SimulatedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	const query = `
		INSERT INTO simulated_trades (` + tradeCols + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		) ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.OpportunityID, t.Timestamp, t.Symbol, t.BuyExchange, t.SellExchange,
			t.Size, t.BuyVWAP, t.SellVWAP, t.PnL, t.LatencyMs,
			t.Legs.BuyLatencyMs, t.Legs.SellLatencyMs, t.Legs.SyncDelayMs, t.SettledAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns the newest trades matching opts.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SimulatedTrade, error) {
	query, args := listQuery(tradeCols, "simulated_trades", opts.Normalize())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	out, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

// SumPnL returns the realized P&L of trades settled since the given time.
func (s *TradeStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM simulated_trades WHERE ts >= $1`, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return total, nil
}

// ListBefore returns up to limit trades older than before, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.SimulatedTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM simulated_trades WHERE ts < $1 ORDER BY ts ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	out, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes trades older than before.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM simulated_trades WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
