package risk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/pkg/contracts/events"
)

// Publisher recebe o risco recalculado depois do commit
type Publisher interface {
	PublishRisk(ctx context.Context, surebetID string, r domain.Risk) error
}

// RedisPublisher guarda o último risco com TTL e publica no canal do live display
type RedisPublisher struct {
	Client  *redis.Client
	Channel string
	TTL     time.Duration
}

func NewRedisPublisher(c *redis.Client, channel string, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{Client: c, Channel: channel, TTL: ttl}
}

// key gera a chave Redis do risco atual de uma surebet
func key(surebetID string) string { return "surebet:risk:" + surebetID }

func (p *RedisPublisher) PublishRisk(ctx context.Context, surebetID string, r domain.Risk) error {
	b, err := json.Marshal(events.RiskUpdate{SurebetID: surebetID, Risk: r})
	if err != nil {
		return err
	}
	if err := p.Client.Set(ctx, key(surebetID), b, p.TTL).Err(); err != nil {
		return err
	}
	return p.Client.Publish(ctx, p.Channel, b).Err()
}

// Cached lê o último risco publicado, se ainda não expirou
func (p *RedisPublisher) Cached(ctx context.Context, surebetID string) (domain.Risk, bool, error) {
	b, err := p.Client.Get(ctx, key(surebetID)).Bytes()
	if err == redis.Nil {
		return domain.Risk{}, false, nil
	}
	if err != nil {
		return domain.Risk{}, false, err
	}
	var upd events.RiskUpdate
	if err := json.Unmarshal(b, &upd); err != nil {
		return domain.Risk{}, false, err
	}
	return upd.Risk, true, nil
}
