package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/ariefcatur/go-stockflow/internal/config"
	"github.com/ariefcatur/go-stockflow/internal/events"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	kafkax "github.com/ariefcatur/go-stockflow/internal/kafka"
	"github.com/ariefcatur/go-stockflow/internal/observability"
	"github.com/ariefcatur/go-stockflow/internal/postgres"
	"github.com/ariefcatur/go-stockflow/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-billing"
	logger := observability.NewLogger(service, cfg.LogLevel)

	err := run(cfg, service, logger)
	_ = logger.Sync()
	if err != nil {
		// non-zero exit: the orchestrator restarts us from the last committed offset
		os.Exit(1)
	}
}

func run(cfg config.Config, service string, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cal, err := billing.NewCalendar(cfg.BillingTimezone)
	if err != nil {
		logger.Error("billing calendar", zap.Error(err))
		return err
	}
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Service:  service,
		Endpoint: cfg.OTelEndpoint,
		Insecure: cfg.OTelInsecure,
	})
	if err != nil {
		logger.Error("tracing setup", zap.Error(err))
		return err
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("db connect", zap.Error(err))
		return err
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: invoice.generated + billing.run.completed
	// Own ctx so results of in-flight runs are still flushed after the
	// consumer stops.
	prodCtx, stopProd := context.WithCancel(context.Background())
	defer stopProd()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(prodCtx)
	emitter := events.NewEmitter(prod, service)

	worker := &invoicing.RunWorker{
		Generator: &invoicing.Generator{
			Store:     &postgres.InvoiceRepo{DB: db},
			Customers: &postgres.Directory{DB: db},
			Calendar:  cal,
			Locker:    &redisx.BillingLocker{RDB: rdb, Log: logger},
			Events:    emitter,
			Log:       logger.Named("invoicing"),
		},
		Dedup:  &redisx.Dedup{RDB: rdb, Service: "billing"},
		Events: emitter,
		Log:    logger.Named("worker"),
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.BillingGroup, events.TopicBillingRunRequested, cfg.BillingWorkers, logger)
	consumerErr := make(chan error, 1)
	go func() {
		logger.Info("billing consumer started",
			zap.String("group", cfg.BillingGroup),
			zap.String("topic", events.TopicBillingRunRequested),
			zap.Int("workers", cfg.BillingWorkers))
		consumerErr <- cons.Start(ctx, worker.HandleRunRequested)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-sig:
		logger.Info("shutting down consumer")
		cancel()
		runErr = <-consumerErr
	case runErr = <-consumerErr:
		if runErr == nil {
			runErr = errors.New("consumer stopped unexpectedly")
		}
	}
	if runErr != nil {
		logger.Error("consumer exit", zap.Error(runErr))
	}

	// workers are done; flush whatever they published
	prod.Close()
	prod.WaitClosed()
	stopProd()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	return runErr
}
