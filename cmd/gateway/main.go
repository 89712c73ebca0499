package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/abenezerm/schoolpay/internal/config"
	"github.com/abenezerm/schoolpay/internal/payment/application"
	paymenthttp "github.com/abenezerm/schoolpay/internal/payment/infrastructure/http"
	"github.com/abenezerm/schoolpay/internal/payment/infrastructure/memory"
	paymentpg "github.com/abenezerm/schoolpay/internal/payment/infrastructure/postgres"
	"github.com/abenezerm/schoolpay/internal/provider"
	"github.com/abenezerm/schoolpay/pkg/idempotency"
	"github.com/abenezerm/schoolpay/pkg/logging"
	"github.com/abenezerm/schoolpay/pkg/outbox"
	"github.com/abenezerm/schoolpay/pkg/shutdown"
	"github.com/abenezerm/schoolpay/pkg/tracing"

	// Registered payment providers.
	_ "github.com/abenezerm/schoolpay/internal/provider/cbe"
	_ "github.com/abenezerm/schoolpay/internal/provider/cbebirr"
	_ "github.com/abenezerm/schoolpay/internal/provider/telebirr"
)

func main() {
	log := logging.New()
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg := config.Load()
	if len(cfg.Providers) == 0 {
		log.Error("no payment provider configured; set TELEBIRR_*/CBEBIRR_*/CBE_* env vars")
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "payment-gateway", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	// Ledger: durable when Postgres is configured, in-memory otherwise.
	var ledger application.Ledger
	if cfg.PGURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PGURL)
		if err != nil {
			log.Error("pg connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := paymentpg.NewLedger(log, pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("pg schema failed", "err", err)
			os.Exit(1)
		}
		ledger = pg

		// Outbox relay publishes payment lifecycle events.
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaAddr),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		}
		defer writer.Close()
		dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
		relay := outbox.NewRelay(log, paymentpg.NewOutboxStore(log, pool), dispatch, "payment-gateway-relay")
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("relay stopped", "err", err)
			}
		}()
	} else {
		log.Warn("PG_URL not set, using in-memory ledger")
		ledger = memory.NewLedger()
	}

	var guard paymenthttp.ReplayGuard
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		guard = idempotency.NewStore(rdb, 24*time.Hour)
	} else {
		log.Warn("REDIS_ADDR not set, callback replay protection disabled")
	}

	procs := make(map[string]*application.Processor, len(cfg.Providers))
	for name, creds := range cfg.Providers {
		hc := provider.NewHTTPClient(name, cfg.ProviderTimeout)
		proc, err := application.NewProcessor(log, name, creds, hc, ledger)
		if err != nil {
			log.Error("provider setup failed", "provider", name, "err", err)
			os.Exit(1)
		}
		procs[name] = proc
		log.Info("provider configured", "provider", name)
	}
	if _, ok := procs[cfg.DefaultProvider]; !ok {
		log.Error("default provider not configured", "provider", cfg.DefaultProvider)
		os.Exit(1)
	}

	handler := paymenthttp.NewHandler(log, procs, ledger, guard, cfg.DefaultProvider, cfg.PublicURL)
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("payment-gateway shutdown complete")
}
