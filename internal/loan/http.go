package loan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

// HTTPProvider talks to a flash-loan relay over REST.
//
//	POST /units                 open a unit (and its loan)
//	POST /units/{id}/repay      repay the loan
//	POST /units/{id}/settle     commit the unit
//	POST /units/{id}/abort      discard the unit
//	GET  /units/{id}            unit status
type HTTPProvider struct {
	name       string
	baseURL    string
	auth       crypto.HMACAuth
	fees       domain.FeeSchedule
	httpClient *http.Client
}

// NewHTTPProvider creates a REST provider.
func NewHTTPProvider(name, baseURL string, auth crypto.HMACAuth, fees domain.FeeSchedule, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		fees:       fees,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string             { return p.name }
func (p *HTTPProvider) Fees() domain.FeeSchedule { return p.fees }

type openRequest struct {
	UnitID    string             `json:"unit_id"`
	Asset     string             `json:"asset"`
	Amount    int64              `json:"amount"`
	Unit      crypto.UnitPayload `json:"unit"`
	Signature string             `json:"signature"`
}

type openResponse struct {
	LoanID    string `json:"loan_id"`
	Principal int64  `json:"principal"`
	Fee       int64  `json:"fee"`
	OpenedAt  int64  `json:"opened_at"` // unix ms
}

type repayRequest struct {
	LoanID string `json:"loan_id"`
	Amount int64  `json:"amount"`
}

type settleResponse struct {
	GasUsed   int64  `json:"gas_used"`
	TxRef     string `json:"tx_ref"`
	SettledAt int64  `json:"settled_at"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Open opens the unit and borrows req.Amount.
func (p *HTTPProvider) Open(ctx context.Context, req Request) (Loan, error) {
	body, err := p.do(ctx, http.MethodPost, "/units", req.UnitID, openRequest{
		UnitID:    req.UnitID,
		Asset:     string(req.Asset),
		Amount:    domain.ToFixed(req.Amount),
		Unit:      req.Unit,
		Signature: req.Signature,
	})
	if err != nil {
		return Loan{}, fmt.Errorf("loan/%s: open %s: %w", p.name, req.UnitID, err)
	}
	var resp openResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Loan{}, fmt.Errorf("loan/%s: decode open: %w", p.name, err)
	}
	return Loan{
		ID:        resp.LoanID,
		UnitID:    req.UnitID,
		Asset:     req.Asset,
		Principal: domain.FromFixed(resp.Principal),
		Fee:       domain.FromFixed(resp.Fee),
		OpenedAt:  time.UnixMilli(resp.OpenedAt),
	}, nil
}

// Repay returns amount to the lender.
func (p *HTTPProvider) Repay(ctx context.Context, l Loan, amount decimal.Decimal) error {
	path := "/units/" + url.PathEscape(l.UnitID) + "/repay"
	if _, err := p.do(ctx, http.MethodPost, path, l.UnitID, repayRequest{LoanID: l.ID, Amount: domain.ToFixed(amount)}); err != nil {
		return fmt.Errorf("loan/%s: repay %s: %w", p.name, l.UnitID, err)
	}
	return nil
}

// Settle commits the unit.
func (p *HTTPProvider) Settle(ctx context.Context, unitID string) (Settlement, error) {
	body, err := p.do(ctx, http.MethodPost, "/units/"+url.PathEscape(unitID)+"/settle", unitID, struct{}{})
	if err != nil {
		return Settlement{}, fmt.Errorf("loan/%s: settle %s: %w", p.name, unitID, err)
	}
	var resp settleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Settlement{}, fmt.Errorf("loan/%s: decode settle: %w", p.name, err)
	}
	return Settlement{GasUsed: resp.GasUsed, TxRef: resp.TxRef, SettledAt: time.UnixMilli(resp.SettledAt)}, nil
}

// Abort discards the unit.
func (p *HTTPProvider) Abort(ctx context.Context, unitID string) error {
	if _, err := p.do(ctx, http.MethodPost, "/units/"+url.PathEscape(unitID)+"/abort", unitID, struct{}{}); err != nil {
		return fmt.Errorf("loan/%s: abort %s: %w", p.name, unitID, err)
	}
	return nil
}

// Status returns the provider-side state of the unit.
func (p *HTTPProvider) Status(ctx context.Context, unitID string) (UnitStatus, error) {
	body, err := p.do(ctx, http.MethodGet, "/units/"+url.PathEscape(unitID), unitID, nil)
	if err != nil {
		return StatusUnknown, fmt.Errorf("loan/%s: status %s: %w", p.name, unitID, err)
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return StatusUnknown, fmt.Errorf("loan/%s: decode status: %w", p.name, err)
	}
	switch s := UnitStatus(resp.Status); s {
	case StatusOpen, StatusRepaid, StatusSettled, StatusAborted:
		return s, nil
	}
	return StatusUnknown, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path, unit string, reqBody any) ([]byte, error) {
	var raw []byte
	if reqBody != nil {
		var err error
		if raw, err = json.Marshal(reqBody); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.auth.Headers(method, path, unit, string(raw)) {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("status 404: %w", domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	default:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

var _ Provider = (*HTTPProvider)(nil)
