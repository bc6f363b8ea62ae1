package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindReasonAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("oracle: fetch: %w", DataError(ErrSourceUnavailable, cause, "asset %s", "XLM"))

	assert.ErrorIs(t, err, ErrData)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrLiquidity)
	assert.Equal(t, "SourceUnavailable", ReasonOf(err))
	assert.Contains(t, err.Error(), "asset XLM")
}

func TestReasonOfPlainError(t *testing.T) {
	assert.Empty(t, ReasonOf(errors.New("boom")))
	assert.Empty(t, ReasonOf(nil))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ExecutionState
		want     bool
	}{
		{StateValidated, StateLoanRequested, true},
		{StateLoanRequested, StateBuyLegSubmitted, true},
		{StateBuyLegSubmitted, StateSellLegSubmitted, true},
		{StateSellLegSubmitted, StateLoanRepaid, true},
		{StateLoanRepaid, StateSettled, true},
		{StateValidated, StateBuyLegSubmitted, false},
		{StateBuyLegSubmitted, StateAborted, true},
		{StateLoanRepaid, StateAborted, true},
		{StateSettled, StateAborted, false},
		{StateAborted, StateValidated, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}
