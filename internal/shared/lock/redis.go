package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// só apaga se o token ainda for nosso
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implementa Locker com SET NX PX, compartilhado entre processos
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedis(c *redis.Client, ttl time.Duration) *Redis {
	return &Redis{Client: c, TTL: ttl, Prefix: "lock:"}
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	k := r.Prefix + key

	ok, err := r.Client.SetNX(ctx, k, token, r.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		// contexto próprio: o do chamador pode já ter sido cancelado
		rctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_ = releaseScript.Run(rctx, r.Client, []string{k}, token).Err()
	}, nil
}
