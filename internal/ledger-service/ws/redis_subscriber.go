package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/pkg/contracts/events"
)

// StartRedisSubscriber escuta o canal de risco e repassa ao Hub
// Qualquer instância do serviço que recalcule risco alcança todos os clientes
func StartRedisSubscriber(ctx context.Context, log *zap.Logger, r *redis.Client, channel string, hub *Hub) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				if upd, err := decodeRiskUpdate([]byte(msg.Payload)); err != nil {
					log.Warn("ws subscriber unmarshal error", zap.Error(err))
				} else {
					hub.Broadcast(upd)
				}
			}
		}
	}()
}

func decodeRiskUpdate(payload []byte) (RiskUpdate, error) {
	var ev events.RiskUpdate
	if err := json.Unmarshal(payload, &ev); err != nil {
		return RiskUpdate{}, err
	}
	return RiskUpdate{SurebetID: ev.SurebetID, Risk: ev.Risk}, nil
}
