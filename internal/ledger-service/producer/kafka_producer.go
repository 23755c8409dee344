package producer

import (
	"context"
	"time"

	"github.com/radieske/surebet-ledger/internal/shared/kafka"
	"github.com/radieske/surebet-ledger/pkg/contracts/events"
)

// KafkaPublisher publica o lote liquidado em settlement_posted
// A chave é o id da surebet: lotes da mesma surebet ficam na mesma partição
type KafkaPublisher struct {
	Writer kafka.MessageWriter
	Now    func() time.Time
}

func NewKafkaPublisher(w kafka.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Writer: w, Now: time.Now}
}

func (p *KafkaPublisher) PublishSettlementPosted(ctx context.Context, e events.SettlementPosted) error {
	e.TsUnixMs = p.Now().UnixMilli()
	return kafka.WriteJSON(ctx, p.Writer, e.SurebetID, e)
}
