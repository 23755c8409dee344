package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/ledger"
	"github.com/radieske/surebet-ledger/internal/core/matching"
	"github.com/radieske/surebet-ledger/internal/core/settlement"
	"github.com/radieske/surebet-ledger/internal/core/store"
	"github.com/radieske/surebet-ledger/internal/ledger-service/dto"
)

// RiskCache devolve o último risco publicado de uma surebet
type RiskCache interface {
	Cached(ctx context.Context, surebetID string) (domain.Risk, bool, error)
}

// API expõe intake, liquidação, movimentações e relatórios do ledger
// Leituras passam por snapshot; escritas só pelos engines
type API struct {
	Log        *zap.Logger
	Store      store.Store
	Matcher    *matching.Engine
	Settler    *settlement.Engine
	Poster     *ledger.Poster
	Ledger     *ledger.Reader
	Reconciler *ledger.Reconciler

	RiskCache RiskCache    // opcional
	WS        http.Handler // opcional: painel de risco ao vivo

	Observe func(route string, code int, d time.Duration) // métricas
}

// Router retorna o roteador HTTP com os endpoints REST
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.instrument)

	r.Post("/bets", a.ingestBet)
	r.Post("/bets/rematch", a.rematch)
	r.Get("/bets/{id}", a.getBet)

	r.Get("/surebets/{id}", a.getSurebet)
	r.Get("/surebets/{id}/risk", a.getRisk)
	r.Post("/surebets/{id}/preview", a.preview)
	r.Post("/surebets/{id}/settle", a.settle)

	r.Post("/ledger/deposits", a.deposit)
	r.Post("/ledger/withdrawals", a.withdraw)
	r.Post("/ledger/corrections", a.correct)
	r.Get("/ledger", a.listEntries)
	r.Get("/ledger/{id}", a.getEntry)

	r.Get("/reconciliation", a.reconcileAll)
	r.Get("/reconciliation/{participant}", a.reconcile)

	if a.WS != nil {
		r.Get("/ws/risk", a.WS.ServeHTTP)
	}
	return r
}

// instrument mede a latência pelo padrão da rota, não pelo path cru
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Observe == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		a.Observe(route, ww.Status(), time.Since(start))
	})
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: bad json: %v", errBadRequest, err)
	}
	return nil
}

func (a *API) ingestBet(w http.ResponseWriter, r *http.Request) {
	var req dto.IngestBetRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if !req.Valid() {
		a.writeError(w, fmt.Errorf("%w: participantId, currency, stake > 0 and odds > 1 are required", errBadRequest))
		return
	}

	out, err := a.Matcher.Ingest(r.Context(), req.Bet())
	if err != nil {
		body := errorBody(err)
		if !errors.Is(err, domain.ErrUnknownOutcome) {
			body.BetID = out.BetID
		}
		a.writeErrorBody(w, err, body)
		return
	}
	writeJSON(w, http.StatusCreated, dto.IngestBetResponse{BetID: out.BetID, SurebetID: out.SurebetID, Matched: out.Matched})
}

func (a *API) rematch(w http.ResponseWriter, r *http.Request) {
	outs, err := a.Matcher.RematchPending(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := make([]dto.RematchItem, 0, len(outs))
	for _, o := range outs {
		it := dto.RematchItem{BetID: o.BetID, SurebetID: o.SurebetID, Matched: o.Matched}
		if o.Err != nil {
			it.Error = o.Err.Error()
		}
		items = append(items, it)
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) getBet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var resp dto.BetResponse
	err := a.Store.ReadSnapshot(r.Context(), func(ctx context.Context, v store.View) error {
		b, err := v.GetBet(ctx, id)
		if err != nil {
			return err
		}
		resp.Bet = b
		resp.SurebetID, _, err = v.SurebetOfBet(ctx, id)
		return err
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getSurebet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var resp dto.SurebetResponse
	err := a.Store.ReadSnapshot(r.Context(), func(ctx context.Context, v store.View) error {
		var err error
		if resp.Surebet, err = v.GetSurebet(ctx, id); err != nil {
			return err
		}
		if resp.Bets, err = v.ListSurebetBets(ctx, id); err != nil {
			return err
		}
		resp.Assignments, err = v.ListSideAssignments(ctx, id)
		return err
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// getRisk prefere o cache; ?refresh=true recalcula com a taxa atual
func (a *API) getRisk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("refresh") == "true" {
		rk, err := a.Matcher.RefreshRisk(r.Context(), id)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.RiskResponse{SurebetID: id, Source: "live", Risk: rk})
		return
	}

	if a.RiskCache != nil {
		if rk, ok, err := a.RiskCache.Cached(r.Context(), id); err == nil && ok {
			writeJSON(w, http.StatusOK, dto.RiskResponse{SurebetID: id, Source: "cache", Risk: rk})
			return
		} else if err != nil {
			a.Log.Warn("risk cache read failed", zap.String("surebetId", id), zap.Error(err))
		}
	}

	var sb domain.Surebet
	err := a.Store.ReadSnapshot(r.Context(), func(ctx context.Context, v store.View) error {
		var err error
		sb, err = v.GetSurebet(ctx, id)
		return err
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if sb.Risk == nil {
		a.writeError(w, fmt.Errorf("risk for surebet %s: %w", id, domain.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, dto.RiskResponse{SurebetID: id, Source: "stored", Risk: *sb.Risk})
}

func (a *API) preview(w http.ResponseWriter, r *http.Request) {
	var req dto.SettleRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	plan, err := a.Settler.Preview(r.Context(), chi.URLParam(r, "id"), req.Outcomes)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) settle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dto.SettleRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	batch, err := a.Settler.Settle(r.Context(), id, req.Outcomes)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.SettleResponse{SurebetID: id, BatchID: batch})
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	a.fund(w, r, a.Poster.Deposit)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	a.fund(w, r, a.Poster.Withdraw)
}

func (a *API) fund(w http.ResponseWriter, r *http.Request, post func(context.Context, ledger.FundingRequest) (domain.LedgerEntry, error)) {
	var req ledger.FundingRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	e, err := post(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) correct(w http.ResponseWriter, r *http.Request) {
	var req ledger.CorrectionRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	e, err := a.Poster.Correct(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cutoff, err := parseCutoff(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	f := ledger.Filter{
		ParticipantID: q.Get("participantId"),
		SurebetID:     q.Get("surebetId"),
		BatchID:       q.Get("batchId"),
		Cutoff:        cutoff,
	}
	for _, t := range q["type"] {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Types = append(f.Types, domain.EntryType(part))
			}
		}
	}

	entries, err := a.Ledger.Entries(r.Context(), f)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: entry id must be an integer", errBadRequest))
		return
	}
	e, err := a.Ledger.Entry(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) reconcileAll(w http.ResponseWriter, r *http.Request) {
	cutoff, err := parseCutoff(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	positions, err := a.Reconciler.ReconcileAll(r.Context(), cutoff)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	cutoff, err := parseCutoff(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	p, err := a.Reconciler.Reconcile(r.Context(), chi.URLParam(r, "participant"), cutoff)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// parseCutoff lê ?cutoff=RFC3339; ausente significa "até agora"
func parseCutoff(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("cutoff")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: cutoff must be RFC3339", errBadRequest)
	}
	t = t.UTC()
	return &t, nil
}
