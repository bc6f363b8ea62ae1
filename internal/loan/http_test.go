package loan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

func TestHTTPProviderLifecycle(t *testing.T) {
	var repaid int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /units", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(crypto.HeaderSignature))
		var req openRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xsig", req.Signature)
		_ = json.NewEncoder(w).Encode(openResponse{LoanID: "L1", Principal: req.Amount, Fee: req.Amount * 5 / 10_000, OpenedAt: time.Now().UnixMilli()})
	})
	mux.HandleFunc("POST /units/{id}/repay", func(w http.ResponseWriter, r *http.Request) {
		var req repayRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		repaid = req.Amount
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /units/{id}/settle", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(settleResponse{GasUsed: 21000, TxRef: "tx-" + r.PathValue("id")})
	})
	mux.HandleFunc("GET /units/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "settled"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTPProvider("xycloans", srv.URL, crypto.HMACAuth{Key: "k", Secret: "s"}, domain.FeeSchedule{FlashLoanFeeBps: 5}, time.Second)
	ctx := context.Background()

	l, err := p.Open(ctx, Request{UnitID: "u1", Asset: "USDC", Amount: decimal.NewFromInt(10_000), Signature: "0xsig"})
	require.NoError(t, err)
	assert.Equal(t, "L1", l.ID)
	assert.Equal(t, "5", l.Fee.String())
	assert.Equal(t, "10005", l.Owed().String())

	require.NoError(t, p.Repay(ctx, l, l.Owed()))
	assert.Equal(t, int64(10_005_0000000), repaid)

	s, err := p.Settle(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(21000), s.GasUsed)
	assert.Equal(t, "tx-u1", s.TxRef)

	st, err := p.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, st)

	_, err = p.Status(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
