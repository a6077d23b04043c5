package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NewOpportunityStore creates a new OpportunityStore backed by pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, ts, symbol, buy_exchange, sell_exchange, trade_size,
	gross_spread_pct, net_spread_pct, expected_profit, latency_ms,
	buy_vwap, sell_vwap, network_fee, status, reason, trigger_exchange,
	buy_book_updated_at, sell_book_updated_at`

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for rows.Next() {
		var (
			o             domain.Opportunity
			fee           []byte
			status        string
			buyAt, sellAt *time.Time
		)
		if err := rows.Scan(
			&o.ID, &o.Timestamp, &o.Symbol, &o.BuyExchange, &o.SellExchange, &o.TradeSize,
			&o.GrossSpreadPct, &o.NetSpreadPct, &o.ExpectedProfit, &o.LatencyMs,
			&o.BuyVWAP, &o.SellVWAP, &fee, &status, &o.Reason, &o.TriggerExchange,
			&buyAt, &sellAt,
		); err != nil {
			return nil, err
		}
		if len(fee) > 0 {
			if err := json.Unmarshal(fee, &o.NetworkFee); err != nil {
				return nil, fmt.Errorf("network fee: %w", err)
			}
		}
		st, err := domain.ParseOpportunityStatus(status)
		if err != nil {
			return nil, err
		}
		o.Status = st
		if buyAt != nil {
			o.BuyBookUpdatedAt = *buyAt
		}
		if sellAt != nil {
			o.SellBookUpdatedAt = *sellAt
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// InsertBatch inserts opportunities in one pgx batch. Rows whose ID already
// exists are skipped.
func (s *OpportunityStore) InsertBatch(ctx context.Context, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	const query = `
		INSERT INTO opportunities (` + opportunityCols + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18
		) ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, o := range opps {
		fee, err := json.Marshal(o.NetworkFee)
		if err != nil {
			return fmt.Errorf("postgres: marshal network fee: %w", err)
		}
		batch.Queue(query,
			o.ID, o.Timestamp, o.Symbol, o.BuyExchange, o.SellExchange, o.TradeSize,
			o.GrossSpreadPct, o.NetSpreadPct, o.ExpectedProfit, o.LatencyMs,
			o.BuyVWAP, o.SellVWAP, fee, o.Status.String(), o.Reason, o.TriggerExchange,
			nullTime(o.BuyBookUpdatedAt), nullTime(o.SellBookUpdatedAt),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns the newest opportunities matching opts.
func (s *OpportunityStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	query, args := listQuery(opportunityCols, "opportunities", opts.Normalize())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	out, err := scanOpportunities(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities: %w", err)
	}
	return out, nil
}

// ListBefore returns up to limit opportunities older than before, oldest
// first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityCols+` FROM opportunities WHERE ts < $1 ORDER BY ts ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()

	out, err := scanOpportunities(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes opportunities older than before.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before: %w", err)
	}
	return tag.RowsAffected(), nil
}
