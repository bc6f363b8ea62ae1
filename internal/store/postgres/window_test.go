package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func TestWindowApply(t *testing.T) {
	since := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	q, args := window{col: "finished_at", defaultLimit: 50}.apply("SELECT * FROM executions WHERE TRUE", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT * FROM executions WHERE TRUE ORDER BY finished_at DESC LIMIT $1", q)
	assert.Equal(t, []any{50}, args)

	q, args = window{col: "created_at"}.apply("SELECT * FROM audit_log WHERE event = $1", []any{"x"},
		domain.ListOpts{Since: &since, Limit: 5, Offset: 10})
	assert.Equal(t, "SELECT * FROM audit_log WHERE event = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"x", since, 5, 10}, args)

	q, args = window{col: "created_at"}.apply("SELECT 1 WHERE TRUE", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT 1 WHERE TRUE ORDER BY created_at DESC", q)
	assert.Empty(t, args)
}
