package domain

import (
	"context"
	"time"
)

// MaxListLimit bounds every log query.
const MaxListLimit = 5000

// DefaultListLimit applies when a query does not set a limit.
const DefaultListLimit = 100

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit   int
	Offset  int
	Symbols []string
	// Oldest returns the window in insertion order instead of newest first.
	Oldest bool
	Since  *time.Time
	Until  *time.Time
}

// Normalize clamps the limit into [1, MaxListLimit] and upper-cases symbols.
func (o ListOpts) Normalize() ListOpts {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultListLimit
	case o.Limit > MaxListLimit:
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if len(o.Symbols) > 0 {
		syms := make([]string, 0, len(o.Symbols))
		for _, s := range o.Symbols {
			if n := NormalizeSymbol(s); n != "" {
				syms = append(syms, n)
			}
		}
		o.Symbols = syms
	}
	return o
}

// MatchSymbol reports whether symbol passes the filter. An empty filter
// matches everything.
func (o ListOpts) MatchSymbol(symbol string) bool {
	if len(o.Symbols) == 0 {
		return true
	}
	for _, s := range o.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// OpportunityStore persists the opportunity log.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, opps []Opportunity) error
	List(ctx context.Context, opts ListOpts) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeStore persists the simulated trade log.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []SimulatedTrade) error
	List(ctx context.Context, opts ListOpts) ([]SimulatedTrade, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]SimulatedTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SpreadStore is a time series sink for spread points.
type SpreadStore interface {
	InsertBulk(ctx context.Context, points []SpreadPoint) error
	Range(ctx context.Context, symbol string, from, to time.Time) ([]SpreadPoint, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// EventSink exports engine records to an external stream.
type EventSink interface {
	Emit(ctx context.Context, topic, key string, value any) error
}
