package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// window renders the time filter, newest-first ordering and paging of a list
// query over col. Placeholders continue after len(args).
type window struct {
	col          string
	defaultLimit int
}

func (w window) apply(base string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= %s", w.col, next(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= %s", w.col, next(*opts.Until))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", w.col)

	limit := opts.Limit
	if limit <= 0 {
		limit = w.defaultLimit
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", next(limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", next(opts.Offset))
	}
	return b.String(), args
}
