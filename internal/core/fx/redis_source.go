package fx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/radieske/surebet-ledger/internal/core/domain"
)

// Redis lê taxas de um sorted set por moeda
// Espera chave "fx:{CUR}" com score = unix seconds e membro "{unix}:{taxa}", ex: "1719878400:0.62"
type Redis struct {
	Rdb        *redis.Client
	settlement string
}

func NewRedis(r *redis.Client, settlementCurrency string) *Redis {
	return &Redis{Rdb: r, settlement: normalize(settlementCurrency)}
}

func key(currency string) string { return "fx:" + currency }

// Put grava uma taxa válida a partir de from
func (s *Redis) Put(ctx context.Context, currency string, from time.Time, rate decimal.Decimal) error {
	cur := normalize(currency)
	member := strconv.FormatInt(from.Unix(), 10) + ":" + rate.String()
	return s.Rdb.ZAdd(ctx, key(cur), redis.Z{Score: float64(from.Unix()), Member: member}).Err()
}

func (s *Redis) RateToSettlement(ctx context.Context, currency string, asOf time.Time) (decimal.Decimal, error) {
	cur := normalize(currency)
	if cur == s.settlement {
		return decimal.NewFromInt(1), nil
	}

	vals, err := s.Rdb.ZRevRangeByScore(ctx, key(cur), &redis.ZRangeBy{
		Max:   strconv.FormatInt(asOf.Unix(), 10),
		Min:   "-inf",
		Count: 1,
	}).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx lookup %s: %w", cur, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s at %s", domain.ErrMissingExchangeRate, cur, asOf.Format(time.RFC3339))
	}
	return parseMember(vals[0])
}

func parseMember(m string) (decimal.Decimal, error) {
	_, raw, ok := strings.Cut(m, ":")
	if !ok {
		return decimal.Zero, fmt.Errorf("fx: malformed member %q", m)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: malformed rate %q: %w", m, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("fx: non-positive rate %q", m)
	}
	return rate, nil
}
