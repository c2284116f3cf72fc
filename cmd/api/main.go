package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/ariefcatur/go-stockflow/internal/config"
	"github.com/ariefcatur/go-stockflow/internal/events"
	"github.com/ariefcatur/go-stockflow/internal/httpx"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	kafkax "github.com/ariefcatur/go-stockflow/internal/kafka"
	"github.com/ariefcatur/go-stockflow/internal/observability"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"github.com/ariefcatur/go-stockflow/internal/postgres"
	"github.com/ariefcatur/go-stockflow/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := observability.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AuthSecret == "" {
		logger.Fatal("AUTH_SECRET is required")
	}
	cal, err := billing.NewCalendar(cfg.BillingTimezone)
	if err != nil {
		logger.Fatal("billing calendar", zap.Error(err))
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Service:  cfg.ServiceName,
		Endpoint: cfg.OTelEndpoint,
		Insecure: cfg.OTelInsecure,
	})
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, topic dipilih per event. Own ctx: it must outlive the
	// HTTP server so handlers still running can publish.
	prodCtx, stopProd := context.WithCancel(context.Background())
	defer stopProd()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(prodCtx)
	emitter := events.NewEmitter(prod, cfg.ServiceName)

	dir := &postgres.Directory{DB: db}
	ledger := &inventory.Ledger{
		Store:   &postgres.InventoryRepo{DB: db},
		Catalog: dir,
		Events:  emitter,
		Log:     logger.Named("inventory"),
	}
	srv := &httpx.Server{
		Inventory: ledger,
		Orders: &orders.Engine{
			Orders: &postgres.OrderRepo{DB: db},
			Stock:  ledger,
			Events: emitter,
			Log:    logger.Named("orders"),
		},
		Invoices: &invoicing.Generator{
			Store:     &postgres.InvoiceRepo{DB: db},
			Customers: dir,
			Calendar:  cal,
			Locker:    &redisx.BillingLocker{RDB: rdb, Log: logger},
			Events:    emitter,
			Log:       logger.Named("invoicing"),
		},
		Verifier:    auth.NewVerifier(cfg.AuthSecret),
		Idempotency: &redisx.Idempotency{RDB: rdb},
		Checks: map[string]func(context.Context) error{
			"postgres": db.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		Log:     logger,
		Timeout: cfg.RequestTimeout,
	}

	// HTTP server
	hs := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router(), ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := hs.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	prod.Close()      // tutup inbox -> flush & close writer; late Publish is dropped
	prod.WaitClosed() // drain
	stopProd()
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
