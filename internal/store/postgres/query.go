package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// listQuery appends the ListOpts filters to a SELECT over a table with ts
// and symbol columns. The newest matching window is selected; with
// opts.Oldest it is returned in ascending order.
func listQuery(cols, table string, opts domain.ListOpts) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(opts.Symbols) > 0 {
		where = append(where, "symbol = ANY("+arg(opts.Symbols)+")")
	}
	if opts.Since != nil {
		where = append(where, "ts >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "ts <= "+arg(*opts.Until))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, table)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ts DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}

	query := b.String()
	if opts.Oldest {
		query = fmt.Sprintf("SELECT * FROM (%s) w ORDER BY ts ASC", query)
	}
	return query, args
}
