package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/fx"
	"github.com/radieske/surebet-ledger/internal/core/ledger"
	"github.com/radieske/surebet-ledger/internal/core/matching"
	"github.com/radieske/surebet-ledger/internal/core/risk"
	"github.com/radieske/surebet-ledger/internal/core/settlement"
	"github.com/radieske/surebet-ledger/internal/core/store/memory"
	"github.com/radieske/surebet-ledger/internal/ledger-service/dto"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
)

var t0 = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type fakeCache struct{ risk map[string]domain.Risk }

func (f *fakeCache) Cached(_ context.Context, id string) (domain.Risk, bool, error) {
	r, ok := f.risk[id]
	return r, ok, nil
}

func newAPI(t *testing.T) (http.Handler, *API) {
	t.Helper()
	st := memory.New()
	locker := lock.NewLocal()
	rates := fx.NewStatic("EUR")
	rates.Set("USD", t0.Add(-24*time.Hour), decimal.RequireFromString("0.62"))
	now := func() time.Time { return t0 }

	calc := risk.NewCalculator(rates, "EUR", 1.0)
	calc.Now = now
	m := matching.NewEngine(zap.NewNop(), st, locker, calc)
	m.Now = now
	s := settlement.NewEngine(zap.NewNop(), st, locker, rates, "EUR", "")
	s.Now = now
	p := ledger.NewPoster(zap.NewNop(), st, locker, rates, "EUR")
	p.Now = now

	a := &API{
		Log:        zap.NewNop(),
		Store:      st,
		Matcher:    m,
		Settler:    s,
		Poster:     p,
		Ledger:     ledger.NewReader(st),
		Reconciler: ledger.NewReconciler(st),
	}
	return a.Router(), a
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func betBody(id, participant, outcome, stake, odds string) map[string]any {
	return map[string]any{
		"betId": id, "participantId": participant, "bookmakerId": "bk",
		"eventId": "ev-1", "market": "totals", "period": "FT",
		"outcome": outcome, "stake": stake, "odds": odds, "currency": "USD",
	}
}

func matchedPair(t *testing.T, h http.Handler) string {
	rec := do(t, h, http.MethodPost, "/bets", betBody("a", "p1", "over", "50", "1.90"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, decodeBody[dto.IngestBetResponse](t, rec).Matched)

	rec = do(t, h, http.MethodPost, "/bets", betBody("b", "p2", "UNDER", "30", "1.95"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody[dto.IngestBetResponse](t, rec)
	require.True(t, out.Matched)
	return out.SurebetID
}

func TestSurebetLifecycle(t *testing.T) {
	h, _ := newAPI(t)
	id := matchedPair(t, h)

	rec := do(t, h, http.MethodGet, "/surebets/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sb := decodeBody[dto.SurebetResponse](t, rec)
	assert.Len(t, sb.Bets, 2)
	assert.Len(t, sb.Assignments, 2)

	rec = do(t, h, http.MethodGet, "/bets/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody[dto.BetResponse](t, rec).SurebetID)

	rec = do(t, h, http.MethodGet, "/surebets/"+id+"/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rk := decodeBody[dto.RiskResponse](t, rec)
	assert.Equal(t, "stored", rk.Source)
	assert.Equal(t, domain.Unsafe, rk.Risk.Classification)
	assert.Equal(t, "-13.33", rk.Risk.WorstCaseProfit.StringFixed(2))

	rec = do(t, h, http.MethodGet, "/surebets/"+id+"/risk?refresh=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "live", decodeBody[dto.RiskResponse](t, rec).Source)

	grades := map[string]any{"outcomes": map[string]string{"a": "won", "b": "lost"}}
	rec = do(t, h, http.MethodPost, "/surebets/"+id+"/preview", grades)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decodeBody[settlement.Plan](t, rec)
	assert.Equal(t, "9.30", plan.Profit.StringFixed(2))
	assert.Equal(t, "4.65", plan.Share.StringFixed(2))

	rec = do(t, h, http.MethodPost, "/surebets/"+id+"/settle", grades)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	batch := decodeBody[dto.SettleResponse](t, rec).BatchID
	assert.NotEmpty(t, batch)

	rec = do(t, h, http.MethodPost, "/surebets/"+id+"/settle", grades)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/ledger?batchId="+batch, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]domain.LedgerEntry](t, rec)
	require.Len(t, entries, 2)

	rec = do(t, h, http.MethodGet, "/ledger/"+strconv.FormatInt(entries[0].ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entries[0].BetID, decodeBody[domain.LedgerEntry](t, rec).BetID)

	rec = do(t, h, http.MethodGet, "/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decodeBody[[]ledger.Position](t, rec)
	require.Len(t, positions, 2)
	assert.Equal(t, "35.65", positions[0].Entitlement.StringFixed(2))
	assert.Equal(t, ledger.Balanced, positions[0].Status)
}

func TestFundingAndReconciliation(t *testing.T) {
	h, _ := newAPI(t)

	rec := do(t, h, http.MethodPost, "/ledger/deposits", map[string]any{"participantId": "p1", "amount": "100", "currency": "USD"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "62.00", decodeBody[domain.LedgerEntry](t, rec).Amount.StringFixed(2))

	rec = do(t, h, http.MethodPost, "/ledger/withdrawals", map[string]any{"participantId": "p1", "amount": "12", "currency": "EUR"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/ledger/corrections", map[string]any{"participantId": "p1", "amount": "-5", "currency": "EUR", "note": "fee"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/reconciliation/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[ledger.Position](t, rec)
	assert.Equal(t, "50.00", p.NetFunding.StringFixed(2))
	assert.Equal(t, "45.00", p.Imbalance.StringFixed(2))
	assert.Equal(t, ledger.Collect, p.Status)

	rec = do(t, h, http.MethodGet, "/ledger?participantId=p1&type=deposit,withdrawal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.LedgerEntry](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/reconciliation/p1?cutoff="+t0.Add(-time.Hour).Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[ledger.Position](t, rec).Entries)
}

func TestErrorMapping(t *testing.T) {
	h, _ := newAPI(t)
	id := matchedPair(t, h)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad json", http.MethodPost, "/bets", "{", http.StatusBadRequest},
		{"invalid payload", http.MethodPost, "/bets", map[string]any{"participantId": "p1"}, http.StatusBadRequest},
		{"unknown outcome", http.MethodPost, "/bets", betBody("x", "p1", "DRAW", "10", "2"), http.StatusBadRequest},
		{"missing bet", http.MethodGet, "/bets/nope", nil, http.StatusNotFound},
		{"missing surebet", http.MethodGet, "/surebets/nope", nil, http.StatusNotFound},
		{"partial grading", http.MethodPost, "/surebets/" + id + "/settle", map[string]any{"outcomes": map[string]string{"a": "won"}}, http.StatusBadRequest},
		{"missing fx", http.MethodPost, "/ledger/deposits", map[string]any{"participantId": "p1", "amount": "1", "currency": "JPY"}, http.StatusServiceUnavailable},
		{"invalid amount", http.MethodPost, "/ledger/withdrawals", map[string]any{"participantId": "p1", "amount": "-1", "currency": "EUR"}, http.StatusBadRequest},
		{"bad entry id", http.MethodGet, "/ledger/abc", nil, http.StatusBadRequest},
		{"missing entry", http.MethodGet, "/ledger/999", nil, http.StatusNotFound},
		{"bad cutoff", http.MethodGet, "/reconciliation?cutoff=yesterday", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodPost, "/surebets/"+id+"/settle", map[string]any{"outcomes": map[string]string{"a": "won"}})
	body := decodeBody[dto.ErrorResponse](t, rec)
	assert.Equal(t, []string{"b"}, body.Missing)

	// chave incompleta: gravada, pendente, 422
	incomplete := betBody("c", "p3", "YES", "10", "2")
	incomplete["market"] = ""
	rec = do(t, h, http.MethodPost, "/bets", incomplete)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "c", decodeBody[dto.ErrorResponse](t, rec).BetID)

	rec = do(t, h, http.MethodPost, "/bets/rematch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]dto.RematchItem](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].BetID)
	assert.NotEmpty(t, items[0].Error)
}

func TestRiskPrefersCacheAndObservesRoutes(t *testing.T) {
	h, a := newAPI(t)
	id := matchedPair(t, h)

	var routes []string
	a.Observe = func(route string, code int, _ time.Duration) { routes = append(routes, route) }
	a.RiskCache = &fakeCache{risk: map[string]domain.Risk{id: {Classification: domain.Safe}}}
	h = a.Router()

	rec := do(t, h, http.MethodGet, "/surebets/"+id+"/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[dto.RiskResponse](t, rec)
	assert.Equal(t, "cache", got.Source)
	assert.Equal(t, domain.Safe, got.Risk.Classification)

	assert.Equal(t, []string{"/surebets/{id}/risk"}, routes)
}
