package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/fx"
	"github.com/radieske/surebet-ledger/internal/core/ledger"
	"github.com/radieske/surebet-ledger/internal/core/matching"
	"github.com/radieske/surebet-ledger/internal/core/risk"
	"github.com/radieske/surebet-ledger/internal/core/settlement"
	"github.com/radieske/surebet-ledger/internal/core/store"
	"github.com/radieske/surebet-ledger/internal/core/store/memory"
	"github.com/radieske/surebet-ledger/internal/core/store/postgres"
	httpapi "github.com/radieske/surebet-ledger/internal/ledger-service/http"
	"github.com/radieske/surebet-ledger/internal/ledger-service/producer"
	"github.com/radieske/surebet-ledger/internal/ledger-service/ws"
	"github.com/radieske/surebet-ledger/internal/shared/cache"
	"github.com/radieske/surebet-ledger/internal/shared/config"
	"github.com/radieske/surebet-ledger/internal/shared/db"
	"github.com/radieske/surebet-ledger/internal/shared/kafka"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
	"github.com/radieske/surebet-ledger/internal/shared/logger"
	"github.com/radieske/surebet-ledger/internal/shared/metrics"
)

func main() {
	cfg := config.LoadFor("ledger-service")
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting service",
		zap.String("store", cfg.StoreBackend),
		zap.String("lock", cfg.LockBackend),
		zap.String("fx", cfg.FXBackend),
		zap.String("currency", cfg.SettlementCurrency),
		zap.String("coordinator", cfg.CoordinatorID),
	)

	// 1) Storage
	var (
		st store.Store
		pg *sql.DB
	)
	switch cfg.StoreBackend {
	case "postgres":
		pg, err = db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		pgStore := postgres.New(pg)
		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatal("migrate failed", zap.Error(err))
		}
		st = pgStore
		log.Info("postgres connected")
	default:
		st = memory.New()
		log.Warn("using in-memory store; ledger is lost on restart")
	}

	// 2) Redis só quando algum backend precisa
	var rdb *redis.Client
	if cfg.LockBackend == "redis" || cfg.FXBackend == "redis" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("redis connected")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.LockBackend == "redis" {
		locker = lock.NewRedis(rdb, cfg.LockTTL)
	}

	var rates fx.Source
	if cfg.FXBackend == "redis" {
		rates = fx.NewRedis(rdb, cfg.SettlementCurrency)
	} else {
		static := fx.NewStatic(cfg.SettlementCurrency)
		if err := static.Load(cfg.FXRates, time.Unix(0, 0)); err != nil {
			log.Fatal("invalid FX_RATES", zap.Error(err))
		}
		rates = static
	}

	// 3) Métricas
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewLedger(reg)

	// 4) Painel de risco: via Redis Pub/Sub se houver, senão direto no hub
	hub := ws.NewHub(log.Named("ws"), func(r *http.Request) bool { return true })
	var riskPub risk.Publisher = hub
	var riskCache httpapi.RiskCache
	if rdb != nil {
		rp := risk.NewRedisPublisher(rdb, cfg.RedisRiskChannel, cfg.RiskCacheTTL)
		riskPub, riskCache = rp, rp
		ws.StartRedisSubscriber(ctx, log.Named("ws"), rdb, cfg.RedisRiskChannel, hub)
	}

	// 5) Engines
	calc := risk.NewCalculator(rates, cfg.SettlementCurrency, cfg.LowReturnThresholdPct)

	matcher := matching.NewEngine(logger.Component(log, "matching"), st, locker, calc)
	matcher.Publisher = riskPub
	matcher.OnIngested = m.Ingested
	matcher.OnMatched = m.Matched
	matcher.OnRisk = func(c domain.Classification) { m.Risk(string(c)) }

	settler := settlement.NewEngine(logger.Component(log, "settlement"), st, locker, rates, cfg.SettlementCurrency, cfg.CoordinatorID)
	settler.OnSettled = func(p settlement.Plan) { m.Settled(len(p.Entries)) }
	settler.OnError = func(stage string) { m.Failed("settlement", stage) }
	if cfg.KafkaBrokers != "" {
		writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSettlementPosted)
		defer writer.Close()
		settler.Publisher = producer.NewKafkaPublisher(writer)
		log.Info("kafka writer ready", zap.String("topic", cfg.TopicSettlementPosted))
	}

	poster := ledger.NewPoster(logger.Component(log, "ledger"), st, locker, rates, cfg.SettlementCurrency)
	poster.OnPosted = func(t domain.EntryType) { m.Posted(string(t)) }

	api := &httpapi.API{
		Log:        log.Named("http"),
		Store:      st,
		Matcher:    matcher,
		Settler:    settler,
		Poster:     poster,
		Ledger:     ledger.NewReader(st),
		Reconciler: ledger.NewReconciler(st),
		RiskCache:  riskCache,
		WS:         http.HandlerFunc(hub.HandleWS),
		Observe: func(route string, code int, d time.Duration) {
			m.HTTPDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
		},
	}

	// Servidor de métricas e health check
	msrv := metrics.StartMetricsServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		if pg != nil {
			if err := pg.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	})
	log.Info("metrics/health listening", zap.String("addr", msrv.Addr))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	_ = msrv.Shutdown(sctx)
	log.Info("ledger-service stopped")
}
