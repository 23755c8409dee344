package fx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/surebet-ledger/internal/core/domain"
)

// Source converte uma moeda para a moeda de liquidação
// Retorna a taxa mais recente em ou antes de asOf
type Source interface {
	RateToSettlement(ctx context.Context, currency string, asOf time.Time) (decimal.Decimal, error)
}

// Convert aplica a taxa e arredonda para a precisão da moeda de liquidação
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

func normalize(currency string) string { return strings.ToUpper(strings.TrimSpace(currency)) }

type point struct {
	at   time.Time
	rate decimal.Decimal
}

// Static mantém uma tabela datada de taxas em memória
type Static struct {
	settlement string

	mu    sync.RWMutex
	rates map[string][]point // ordenado por at
}

func NewStatic(settlementCurrency string) *Static {
	return &Static{settlement: normalize(settlementCurrency), rates: make(map[string][]point)}
}

// Set registra a taxa válida a partir de from
func (s *Static) Set(currency string, from time.Time, rate decimal.Decimal) {
	cur := normalize(currency)
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := append(s.rates[cur], point{at: from, rate: rate})
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
	s.rates[cur] = pts
}

func (s *Static) RateToSettlement(_ context.Context, currency string, asOf time.Time) (decimal.Decimal, error) {
	cur := normalize(currency)
	if cur == s.settlement {
		return decimal.NewFromInt(1), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.rates[cur]
	for i := len(pts) - 1; i >= 0; i-- {
		if !pts[i].at.After(asOf) {
			return pts[i].rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s at %s", domain.ErrMissingExchangeRate, cur, asOf.Format(time.RFC3339))
}

// Load registra uma lista "USD=0.62,GBP=1.16" válida a partir de from
func (s *Static) Load(list string, from time.Time) error {
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cur, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("fx rate %q: expected CUR=rate", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !rate.IsPositive() {
			return fmt.Errorf("fx rate %q: invalid rate", pair)
		}
		s.Set(cur, from, rate)
	}
	return nil
}
