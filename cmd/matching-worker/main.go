package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/fx"
	"github.com/radieske/surebet-ledger/internal/core/matching"
	"github.com/radieske/surebet-ledger/internal/core/risk"
	"github.com/radieske/surebet-ledger/internal/core/store/postgres"
	"github.com/radieske/surebet-ledger/internal/matching-worker/consumer"
	"github.com/radieske/surebet-ledger/internal/shared/cache"
	"github.com/radieske/surebet-ledger/internal/shared/config"
	"github.com/radieske/surebet-ledger/internal/shared/db"
	"github.com/radieske/surebet-ledger/internal/shared/kafka"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
	"github.com/radieske/surebet-ledger/internal/shared/logger"
	"github.com/radieske/surebet-ledger/internal/shared/metrics"
)

// o worker compartilha o ledger com o ledger-service: exige Postgres e Redis
func main() {
	cfg := config.LoadFor("matching-worker")
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Inicializa dependências: Postgres e Redis
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()
	st := postgres.New(pg)
	if err := st.Migrate(ctx); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	var rates fx.Source = fx.NewRedis(rdb, cfg.SettlementCurrency)
	if cfg.FXBackend != "redis" {
		static := fx.NewStatic(cfg.SettlementCurrency)
		if err := static.Load(cfg.FXRates, time.Unix(0, 0)); err != nil {
			log.Fatal("invalid FX_RATES", zap.Error(err))
		}
		rates = static
	}

	// Métricas Prometheus
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewLedger(reg)
	dlqCount := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "surebet_worker_dlq_total", Help: "mensagens enviadas à DLQ"}, []string{"reason"})
	reg.MustRegister(dlqCount)

	calc := risk.NewCalculator(rates, cfg.SettlementCurrency, cfg.LowReturnThresholdPct)
	engine := matching.NewEngine(logger.Component(log, "matching"), st, lock.NewRedis(rdb, cfg.LockTTL), calc)
	engine.Publisher = risk.NewRedisPublisher(rdb, cfg.RedisRiskChannel, cfg.RiskCacheTTL)
	engine.OnIngested = m.Ingested
	engine.OnMatched = m.Matched
	engine.OnRisk = func(c domain.Classification) { m.Risk(string(c)) }

	// Consumer group matching-worker e DLQ
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicBetVerified, "matching-worker")
	defer reader.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetVerifiedDLQ)
	defer dlq.Close()

	proc := &consumer.Processor{
		Log:        log.Named("consumer"),
		Reader:     reader,
		Engine:     engine,
		DLQ:        dlq,
		OnConsumed: func() { m.Consumed.Inc() },
		OnDLQ:      func(reason string) { dlqCount.WithLabelValues(reason).Inc() },
		OnError:    func(stage string) { m.Failed("consumer", stage) },
	}

	// Rematch periódico das apostas que ficaram pendentes
	go rematchLoop(ctx, log, engine, time.Minute)

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return pingRedis(ctx, rdb)
	})
	log.Info("metrics/health listening", zap.String("addr", msrv.Addr))

	log.Info("matching-worker started", zap.String("topic", cfg.TopicBetVerified))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = msrv.Shutdown(sctx)
	log.Info("matching-worker stopped")
}

func rematchLoop(ctx context.Context, log *zap.Logger, e *matching.Engine, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			outs, err := e.RematchPending(ctx)
			if err != nil {
				log.Warn("rematch sweep failed", zap.Error(err))
				continue
			}
			matched := 0
			for _, o := range outs {
				if o.Matched {
					matched++
				}
			}
			if len(outs) > 0 {
				log.Info("rematch sweep", zap.Int("pending", len(outs)), zap.Int("matched", matched))
			}
		}
	}
}

func pingRedis(ctx context.Context, r *redis.Client) error {
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
