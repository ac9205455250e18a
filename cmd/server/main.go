package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	admhandler "cardvault/internal/admission/handler"
	admservice "cardvault/internal/admission/service"
	admstore "cardvault/internal/admission/store"
	"cardvault/internal/blobstore"
	"cardvault/internal/events"
	exhandler "cardvault/internal/exchange/handler"
	exservice "cardvault/internal/exchange/service"
	exstore "cardvault/internal/exchange/store"
	"cardvault/internal/funds"
	fundshandler "cardvault/internal/funds/handler"
	jwttoken "cardvault/internal/jwt_token"
	"cardvault/internal/ledger"
	"cardvault/internal/platform/config"
	"cardvault/internal/platform/httpserver"
	"cardvault/internal/platform/logger"
	"cardvault/internal/platform/metrics"
	platformredis "cardvault/internal/platform/redis"
	regcache "cardvault/internal/registry/cache"
	reghandler "cardvault/internal/registry/handler"
	regservice "cardvault/internal/registry/service"
	regstore "cardvault/internal/registry/store"
	httptransport "cardvault/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	health := map[string]httptransport.HealthCheck{}

	// Registry store: postgres when a DSN is configured, in-memory otherwise.
	var registryStore regservice.Store
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := regstore.Migrate(ctx, db); err != nil {
			log.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		registryStore = regstore.NewPostgres(db)
		health["postgres"] = db.PingContext
		log.Info("registry store: postgres")
	} else {
		registryStore = regstore.NewInMemory()
		log.Info("registry store: in-memory")
	}

	// Record read cache, enabled when Redis is configured.
	var recordCache regcache.RecordCache = regcache.Noop{}
	rdb, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		recordCache = regcache.NewRedis(rdb.Client, cfg.RecordCacheTTL)
		health["redis"] = rdb.Health
		log.Info("record cache: redis", "ttl", cfg.RecordCacheTTL)
	}

	// Event publisher with an optional Kafka sink.
	publisherOpts := []events.Option{
		events.WithLogger(log),
		events.WithAsyncBuffer(256),
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := events.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		publisherOpts = append(publisherOpts, events.WithSink(sink))
		log.Info("event sink: kafka", "topic", cfg.KafkaTopic)
	}
	publisher := events.NewPublisher(events.NewInMemoryStore(), publisherOpts...)
	defer publisher.Close()

	seq := &ledger.Sequencer{}
	book := funds.NewInMemoryBook()

	registrySvc := regservice.New(registryStore, seq, cfg.Issuer,
		regservice.WithLogger(log),
		regservice.WithEventPublisher(publisher),
		regservice.WithMetrics(m),
		regservice.WithCache(recordCache),
	)

	admissionSvc := admservice.New(admstore.NewInMemory(), seq, registrySvc, book,
		cfg.QueueIdentity, cfg.QueueVault, cfg.MinGradingFee,
		admservice.WithLogger(log),
		admservice.WithEventPublisher(publisher),
		admservice.WithMetrics(m),
	)

	exchangeSvc, err := exservice.New(exstore.NewInMemory(), seq, registrySvc, book,
		cfg.ExchangeVault, cfg.FeeRecipient, cfg.FeeRateBps,
		exservice.WithLogger(log),
		exservice.WithEventPublisher(publisher),
		exservice.WithMetrics(m),
	)
	if err != nil {
		log.Error("invalid exchange configuration", "error", err)
		os.Exit(1)
	}
	registrySvc.SetLister(exchangeSvc)

	// The queue finalizes grades through the registry's authorized-caller
	// path, so its identity goes on the allow-list up front.
	if err := registrySvc.RegisterAuthorizedCaller(ctx, cfg.Issuer, cfg.QueueIdentity, true); err != nil {
		log.Error("failed to authorize queue identity", "error", err)
		os.Exit(1)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "cardvault", "cardvault")
	validator := jwttoken.NewJWTServiceAdapter(jwtService)

	rootHandler := httptransport.NewHandler(jwtService, admissionSvc, cfg.AdminToken, log, health)
	router := httptransport.NewRouter(rootHandler, promReg,
		reghandler.New(registrySvc, log, validator),
		admhandler.New(admissionSvc, log, validator, cfg.AdminToken),
		exhandler.New(exchangeSvc, log, validator, cfg.AdminToken),
		fundshandler.New(book, log, cfg.AdminToken),
		blobstore.NewHandler(blobstore.NewInMemory(), log),
	)

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting cardvault", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
