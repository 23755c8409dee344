package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/fx"
)

var hundred = decimal.NewFromInt(100)

// Calculator calcula o risco ao vivo de uma surebet aberta
// A taxa é sempre consultada em now e nunca guardada: não é escrita de ledger
type Calculator struct {
	fx        fx.Source
	currency  string
	threshold decimal.Decimal // ROI mínimo (%) para SAFE

	Now func() time.Time
}

func NewCalculator(src fx.Source, settlementCurrency string, lowReturnPct float64) *Calculator {
	return &Calculator{
		fx:        src,
		currency:  settlementCurrency,
		threshold: decimal.NewFromFloat(lowReturnPct),
		Now:       time.Now,
	}
}

// Compute converte stakes/payouts com a taxa corrente e escolhe o pior cenário
// Cada lado presente gera um cenário: payouts do lado menos o total apostado
func (c *Calculator) Compute(ctx context.Context, bets []domain.Bet, assignments []domain.SideAssignment) (domain.Risk, error) {
	now := c.Now()

	sideOf := make(map[string]domain.Side, len(assignments))
	for _, a := range assignments {
		sideOf[a.BetID] = a.Side
	}

	total := decimal.Zero
	payouts := map[domain.Side]decimal.Decimal{}
	for _, b := range bets {
		side, ok := sideOf[b.ID]
		if !ok {
			return domain.Risk{}, fmt.Errorf("bet %s has no side assignment", b.ID)
		}
		rate, err := c.fx.RateToSettlement(ctx, b.Currency, now)
		if err != nil {
			return domain.Risk{}, fmt.Errorf("risk bet %s: %w", b.ID, err)
		}
		total = total.Add(fx.Convert(b.Stake, rate))
		payouts[side] = payouts[side].Add(fx.Convert(b.ContractedPayout(), rate))
	}

	r := domain.Risk{
		TotalStaked: total,
		Scenarios:   make(map[domain.Side]decimal.Decimal, len(payouts)),
		Currency:    c.currency,
		ComputedAt:  now,
	}

	keys := make([]domain.Side, 0, len(payouts))
	for s := range payouts {
		keys = append(keys, s)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for i, s := range keys {
		profit := payouts[s].Sub(total)
		r.Scenarios[s] = profit
		if i == 0 || profit.LessThan(r.WorstCaseProfit) {
			r.WorstCaseProfit = profit
		}
	}

	roi := decimal.Zero
	if !total.IsZero() {
		roi = r.WorstCaseProfit.Div(total).Mul(hundred)
	}
	r.ROI = roi.Round(2)
	r.Classification = c.classify(r.WorstCaseProfit, roi)
	return r, nil
}

func (c *Calculator) classify(worst, roi decimal.Decimal) domain.Classification {
	switch {
	case worst.IsNegative():
		return domain.Unsafe
	case roi.LessThan(c.threshold):
		return domain.LowReturn
	default:
		return domain.Safe
	}
}
