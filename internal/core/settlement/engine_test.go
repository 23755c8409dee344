package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/fx"
	"github.com/radieske/surebet-ledger/internal/core/matching"
	"github.com/radieske/surebet-ledger/internal/core/risk"
	"github.com/radieske/surebet-ledger/internal/core/store"
	"github.com/radieske/surebet-ledger/internal/core/store/memory"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
	"github.com/radieske/surebet-ledger/pkg/contracts/events"
)

var t0 = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	events []events.SettlementPosted
	err    error
}

func (f *fakePublisher) PublishSettlementPosted(_ context.Context, e events.SettlementPosted) error {
	f.events = append(f.events, e)
	return f.err
}

type harness struct {
	store    *memory.Store
	locker   *lock.Local
	rates    *fx.Static
	matcher  *matching.Engine
	settler  *Engine
	pub      *fakePublisher
	batchSeq int
}

func newHarness(coordinator string) *harness {
	h := &harness{store: memory.New(), locker: lock.NewLocal(), rates: fx.NewStatic("EUR"), pub: &fakePublisher{}}
	h.rates.Set("USD", t0.Add(-24*time.Hour), decimal.RequireFromString("0.62"))
	h.rates.Set("GBP", t0.Add(-24*time.Hour), decimal.RequireFromString("1.16"))

	calc := risk.NewCalculator(h.rates, "EUR", 1.0)
	calc.Now = func() time.Time { return t0 }
	h.matcher = matching.NewEngine(zap.NewNop(), h.store, h.locker, calc)
	h.matcher.Now = func() time.Time { return t0 }

	h.settler = NewEngine(zap.NewNop(), h.store, h.locker, h.rates, "EUR", coordinator)
	h.settler.Now = func() time.Time { return t0.Add(time.Hour) }
	h.settler.NewID = func() string { h.batchSeq++; return fmt.Sprintf("batch-%d", h.batchSeq) }
	h.settler.Publisher = h.pub
	return h
}

func bet(id, participant string, outcome domain.Outcome, stake, odds, currency string) domain.Bet {
	return domain.Bet{
		ID: id, ParticipantID: participant, BookmakerID: "bk-" + participant,
		Key:     domain.GroupingKey{EventID: "ev-1", Market: "totals", Period: "FT"},
		Outcome: outcome, Stake: decimal.RequireFromString(stake), Odds: decimal.RequireFromString(odds),
		Currency: currency,
	}
}

func (h *harness) surebet(t *testing.T, bets ...domain.Bet) string {
	var id string
	for _, b := range bets {
		out, err := h.matcher.Ingest(context.Background(), b)
		require.NoError(t, err)
		if out.Matched {
			id = out.SurebetID
		}
	}
	require.NotEmpty(t, id)
	return id
}

func (h *harness) entries(t *testing.T, f store.LedgerFilter) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	require.NoError(t, h.store.ReadSnapshot(context.Background(), func(ctx context.Context, v store.View) error {
		var err error
		out, err = v.LedgerEntries(ctx, f)
		return err
	}))
	return out
}

func (h *harness) assertUntouched(t *testing.T, surebetID string) {
	assert.Empty(t, h.entries(t, store.LedgerFilter{}))
	require.NoError(t, h.store.ReadSnapshot(context.Background(), func(ctx context.Context, v store.View) error {
		sb, err := v.GetSurebet(ctx, surebetID)
		require.NoError(t, err)
		assert.Equal(t, domain.SurebetOpen, sb.Status)
		bets, err := v.ListSurebetBets(ctx, surebetID)
		require.NoError(t, err)
		for _, b := range bets {
			assert.Equal(t, domain.BetMatched, b.Status)
			assert.Empty(t, b.Result)
		}
		return nil
	}))
}

func sumShares(entries []domain.LedgerEntry) decimal.Decimal {
	s := decimal.Zero
	for _, e := range entries {
		s = s.Add(e.BookedShare())
	}
	return s
}

func TestScenarioTwoBetsNoCoordinatorSeat(t *testing.T) {
	// coordenador apostou: nenhum assento extra
	h := newHarness("p1")
	id := h.surebet(t,
		bet("a", "p1", "OVER", "50", "1.90", "USD"),
		bet("b", "p2", "UNDER", "30", "1.95", "USD"),
	)

	batch, err := h.settler.Settle(context.Background(), id, map[string]domain.Result{"a": domain.ResultWon, "b": domain.ResultLost})
	require.NoError(t, err)

	entries := h.entries(t, store.LedgerFilter{BatchID: batch})
	require.Len(t, entries, 2)

	byBet := map[string]domain.LedgerEntry{}
	for _, e := range entries {
		byBet[e.BetID] = e
		assert.Equal(t, "4.65", e.EqualSplitShare.StringFixed(2))
		assert.Equal(t, "0.62", e.FXRate.String())
		assert.Equal(t, domain.EntryBetResult, e.Type)
		assert.True(t, e.SeatHolder)
	}
	assert.Equal(t, "27.90", byBet["a"].Amount.StringFixed(2))
	assert.Equal(t, "31.00", byBet["a"].PrincipalReturned.StringFixed(2))
	assert.Equal(t, "45.00", byBet["a"].NativeAmount.StringFixed(2))
	assert.Equal(t, "-18.60", byBet["b"].Amount.StringFixed(2))
	assert.True(t, byBet["b"].PrincipalReturned.IsZero())

	net := byBet["a"].Amount.Add(byBet["b"].Amount)
	assert.Equal(t, "9.30", net.StringFixed(2))
	assert.Equal(t, "9.30", sumShares(entries).StringFixed(2))

	require.NoError(t, h.store.ReadSnapshot(context.Background(), func(ctx context.Context, v store.View) error {
		sb, err := v.GetSurebet(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SurebetSettled, sb.Status)
		assert.Equal(t, batch, sb.BatchID)
		a, _ := v.GetBet(ctx, "a")
		b, _ := v.GetBet(ctx, "b")
		assert.Equal(t, domain.BetSettled, a.Status)
		assert.Equal(t, domain.ResultWon, a.Result)
		assert.Equal(t, domain.ResultLost, b.Result)
		return nil
	}))

	require.Len(t, h.pub.events, 1)
	assert.Equal(t, batch, h.pub.events[0].BatchID)
	assert.Len(t, h.pub.events[0].EntryIDs, 2)
}

func TestScenarioThreeBetsWithCoordinatorSeat(t *testing.T) {
	h := newHarness("coord")
	id := h.surebet(t,
		bet("a1", "p1", "OVER", "50", "1.90", "USD"),
		bet("a2", "p2", "OVER", "30", "1.95", "USD"),
		bet("b1", "p3", "UNDER", "100", "2.00", "GBP"),
	)

	plan, err := h.settler.Preview(context.Background(), id, map[string]domain.Result{
		"a1": domain.ResultWon, "a2": domain.ResultWon, "b1": domain.ResultLost,
	})
	require.NoError(t, err)
	assert.Equal(t, "-70.43", plan.Profit.StringFixed(2))
	assert.Equal(t, 4, plan.Seats)
	assert.True(t, plan.CoordinatorSeat)
	assert.Empty(t, h.entries(t, store.LedgerFilter{}), "preview must not write")

	batch, err := h.settler.Settle(context.Background(), id, map[string]domain.Result{
		"a1": domain.ResultWon, "a2": domain.ResultWon, "b1": domain.ResultLost,
	})
	require.NoError(t, err)

	entries := h.entries(t, store.LedgerFilter{BatchID: batch})
	require.Len(t, entries, 4)

	byParticipant := map[string]domain.LedgerEntry{}
	for _, e := range entries {
		byParticipant[e.ParticipantID] = e
		assert.Equal(t, "-17.61", e.EqualSplitShare.StringFixed(2))
		assert.Equal(t, batch, e.BatchID)
	}
	assert.Equal(t, "27.90", byParticipant["p1"].Amount.StringFixed(2))
	assert.Equal(t, "17.67", byParticipant["p2"].Amount.StringFixed(2))
	assert.Equal(t, "-116.00", byParticipant["p3"].Amount.StringFixed(2))
	assert.Equal(t, "1.16", byParticipant["p3"].FXRate.String())

	coord := byParticipant["coord"]
	assert.True(t, coord.Amount.IsZero())
	assert.True(t, coord.PrincipalReturned.IsZero())
	assert.Empty(t, coord.BetID)
	assert.True(t, coord.SeatHolder)

	// Σ cotas == lucro dentro da tolerância de arredondamento
	diff := sumShares(entries).Sub(plan.Profit).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.02")), "diff %s", diff)
}

func TestAllVoidSettlesWithZeroProfit(t *testing.T) {
	h := newHarness("coord")
	id := h.surebet(t,
		bet("a", "p1", "OVER", "50", "1.90", "USD"),
		bet("b", "p2", "UNDER", "30", "1.95", "USD"),
	)

	batch, err := h.settler.Settle(context.Background(), id, map[string]domain.Result{"a": domain.ResultVoid, "b": domain.ResultVoid})
	require.NoError(t, err)

	entries := h.entries(t, store.LedgerFilter{BatchID: batch})
	require.Len(t, entries, 3)
	principal := decimal.Zero
	for _, e := range entries {
		assert.True(t, e.EqualSplitShare.IsZero())
		assert.True(t, e.Amount.IsZero())
		principal = principal.Add(e.PrincipalReturned)
	}
	assert.Equal(t, "49.60", principal.StringFixed(2))
}

func TestPartialGradingIsRejectedBeforeAnyWrite(t *testing.T) {
	h := newHarness("coord")
	id := h.surebet(t,
		bet("a", "p1", "OVER", "50", "1.90", "USD"),
		bet("b", "p2", "UNDER", "30", "1.95", "USD"),
	)
	ctx := context.Background()

	_, err := h.settler.Settle(ctx, id, map[string]domain.Result{"a": domain.ResultWon})
	require.ErrorIs(t, err, domain.ErrPartialGrading)
	var pge *domain.PartialGradingError
	require.True(t, errors.As(err, &pge))
	assert.Equal(t, []string{"b"}, pge.Missing)

	_, err = h.settler.Settle(ctx, id, map[string]domain.Result{"a": domain.ResultWon, "b": "maybe"})
	assert.ErrorIs(t, err, domain.ErrPartialGrading)

	_, err = h.settler.Settle(ctx, id, map[string]domain.Result{"a": domain.ResultWon, "b": domain.ResultLost, "zz": domain.ResultLost})
	assert.ErrorIs(t, err, domain.ErrPartialGrading)

	h.assertUntouched(t, id)
}

func TestMissingRateBlocksSettlementWithoutSideEffects(t *testing.T) {
	h := newHarness("coord")
	id := h.surebet(t,
		bet("a", "p1", "OVER", "50", "1.90", "JPY"),
		bet("b", "p2", "UNDER", "30", "1.95", "USD"),
	)

	_, err := h.settler.Settle(context.Background(), id, map[string]domain.Result{"a": domain.ResultWon, "b": domain.ResultLost})
	assert.ErrorIs(t, err, domain.ErrMissingExchangeRate)
	h.assertUntouched(t, id)
	assert.Empty(t, h.pub.events)
}

func TestSettleTwiceAndContention(t *testing.T) {
	h := newHarness("")
	id := h.surebet(t,
		bet("a", "p1", "OVER", "50", "1.90", "USD"),
		bet("b", "p2", "UNDER", "30", "1.95", "USD"),
	)
	ctx := context.Background()
	grades := map[string]domain.Result{"a": domain.ResultWon, "b": domain.ResultLost}

	unlock, err := h.locker.TryLock(ctx, store.SurebetLock(id))
	require.NoError(t, err)
	_, err = h.settler.Settle(ctx, id, grades)
	assert.ErrorIs(t, err, domain.ErrConcurrentMutation)
	unlock()
	h.assertUntouched(t, id)

	_, err = h.settler.Settle(ctx, id, grades)
	require.NoError(t, err)

	_, err = h.settler.Settle(ctx, id, grades)
	assert.ErrorIs(t, err, domain.ErrSurebetNotOpen)
	assert.Len(t, h.entries(t, store.LedgerFilter{}), 2)
}

func TestParticipantWithSeveralBetsHoldsOneSeat(t *testing.T) {
	h := newHarness("p1")
	id := h.surebet(t,
		bet("a1", "p1", "OVER", "50", "1.90", "EUR"),
		bet("a2", "p1", "OVER", "20", "1.90", "EUR"),
		bet("b1", "p2", "UNDER", "60", "2.10", "EUR"),
	)

	batch, err := h.settler.Settle(context.Background(), id, map[string]domain.Result{
		"a1": domain.ResultWon, "a2": domain.ResultWon, "b1": domain.ResultLost,
	})
	require.NoError(t, err)

	entries := h.entries(t, store.LedgerFilter{BatchID: batch})
	require.Len(t, entries, 3)

	// lucro: 45 + 18 - 60 = 3.00, dois assentos
	seats := 0
	for _, e := range entries {
		assert.Equal(t, "1.50", e.EqualSplitShare.StringFixed(2))
		if e.SeatHolder {
			seats++
		}
	}
	assert.Equal(t, 2, seats)
	assert.Equal(t, "3.00", sumShares(entries).StringFixed(2))
}

func TestFrozenRateAndImmutableEntries(t *testing.T) {
	h := newHarness("coord")
	ctx := context.Background()
	id := h.surebet(t,
		bet("a", "p1", "OVER", "50", "1.90", "USD"),
		bet("b", "p2", "UNDER", "30", "1.95", "USD"),
	)
	_, err := h.settler.Settle(ctx, id, map[string]domain.Result{"a": domain.ResultWon, "b": domain.ResultLost})
	require.NoError(t, err)

	first := h.entries(t, store.LedgerFilter{})
	before, err := json.Marshal(first)
	require.NoError(t, err)

	// taxa muda e novas operações acontecem depois
	h.rates.Set("USD", t0.Add(90*time.Minute), decimal.RequireFromString("0.99"))
	h.settler.Now = func() time.Time { return t0.Add(2 * time.Hour) }
	id2 := h.surebet(t,
		domain.Bet{ID: "c", ParticipantID: "p1", Key: domain.GroupingKey{EventID: "ev-2", Market: "btts", Period: "FT"},
			Outcome: "YES", Stake: decimal.NewFromInt(10), Odds: decimal.NewFromInt(2), Currency: "USD"},
		domain.Bet{ID: "d", ParticipantID: "p2", Key: domain.GroupingKey{EventID: "ev-2", Market: "btts", Period: "FT"},
			Outcome: "NO", Stake: decimal.NewFromInt(10), Odds: decimal.NewFromInt(2), Currency: "USD"},
	)
	_, err = h.settler.Settle(ctx, id2, map[string]domain.Result{"c": domain.ResultWon, "d": domain.ResultLost})
	require.NoError(t, err)

	var reread []domain.LedgerEntry
	require.NoError(t, h.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		for _, e := range first {
			got, err := v.LedgerEntry(ctx, e.ID)
			if err != nil {
				return err
			}
			reread = append(reread, got)
		}
		return nil
	}))
	after, err := json.Marshal(reread)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	later := h.entries(t, store.LedgerFilter{BatchID: "batch-2"})
	require.NotEmpty(t, later)
	assert.Equal(t, "0.99", later[0].FXRate.String())
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	h := newHarness("")
	h.pub.err = errors.New("kafka down")
	id := h.surebet(t,
		bet("a", "p1", "OVER", "50", "1.90", "USD"),
		bet("b", "p2", "UNDER", "30", "1.95", "USD"),
	)

	var stages []string
	h.settler.OnError = func(stage string) { stages = append(stages, stage) }

	batch, err := h.settler.Settle(context.Background(), id, map[string]domain.Result{"a": domain.ResultWon, "b": domain.ResultLost})
	require.NoError(t, err)
	assert.NotEmpty(t, batch)
	assert.Equal(t, []string{"publish"}, stages)
}
