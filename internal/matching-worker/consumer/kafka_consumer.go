package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/matching"
	"github.com/radieske/surebet-ledger/pkg/contracts/events"
)

// MessageReader é o subconjunto de *kafka.Reader usado no loop
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// DLQWriter recebe mensagens que nunca vão casar
type DLQWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Ingester é o engine de matching
type Ingester interface {
	Ingest(ctx context.Context, b domain.Bet) (matching.Outcome, error)
}

// Processor consome bet_verified e alimenta o matching
// Mensagem que nunca vai casar segue para a DLQ
// Callbacks de métricas são opcionais
type Processor struct {
	Log    *zap.Logger
	Reader MessageReader
	Engine Ingester
	DLQ    DLQWriter

	RetryDelay time.Duration

	OnConsumed func()
	OnDLQ      func(reason string)
	OnError    func(stage string)
}

// Run inicia o loop principal até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.failed("read")
			p.sleep(ctx)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}
		p.Handle(ctx, m)
	}
}

// Handle processa uma mensagem; erros ficam no log, nunca param o loop
func (p *Processor) Handle(ctx context.Context, m kafka.Message) {
	var ev events.BetVerified
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		p.Log.Warn("invalid message", zap.Error(err))
		p.failed("decode")
		p.deadLetter(ctx, m, "decode", err)
		return
	}

	out, err := p.Engine.Ingest(ctx, ev.Bet())
	switch {
	case errors.Is(err, domain.ErrUnknownOutcome):
		p.Log.Warn("unknown outcome label", zap.String("betId", ev.BetID), zap.String("outcome", ev.Outcome))
		p.deadLetter(ctx, m, "unknown_outcome", err)
	case errors.Is(err, domain.ErrInvalidAmount):
		p.Log.Warn("invalid stake or odds", zap.String("betId", ev.BetID), zap.Error(err))
		p.deadLetter(ctx, m, "invalid_amount", err)
	case errors.Is(err, domain.ErrIncompleteGroupingKey), errors.Is(err, domain.ErrConcurrentMutation):
		// gravada como verificada; o rematch resolve depois
		p.Log.Info("bet left pending", zap.String("betId", out.BetID), zap.Error(err))
	case err != nil:
		p.Log.Warn("ingest failed", zap.String("betId", ev.BetID), zap.Error(err))
		p.failed("ingest")
	case out.Matched:
		p.Log.Debug("bet matched", zap.String("betId", out.BetID), zap.String("surebetId", out.SurebetID))
	}
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, reason string, cause error) {
	if p.OnDLQ != nil {
		p.OnDLQ(reason)
	}
	if p.DLQ == nil {
		return
	}
	msg := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: append(append([]kafka.Header(nil), m.Headers...),
			kafka.Header{Key: "dlq-reason", Value: []byte(reason)},
			kafka.Header{Key: "dlq-error", Value: []byte(cause.Error())},
		),
		Time: time.Now(),
	}
	if err := p.DLQ.WriteMessages(ctx, msg); err != nil {
		p.Log.Error("dlq write failed", zap.String("reason", reason), zap.Error(err))
		p.failed("dlq")
	}
}

func (p *Processor) failed(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}

func (p *Processor) sleep(ctx context.Context) {
	d := p.RetryDelay
	if d == 0 {
		d = 500 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
