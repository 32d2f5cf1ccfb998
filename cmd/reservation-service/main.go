package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/session"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "reservation-service")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("reservation service stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	scope := store.NewPostgresScope(pool)

	// --- AMQP ---
	var notifier checkout.Notifier
	var consumer *events.Consumer
	if cfg.RabbitURL != "" {
		conn, err := events.Dial(cfg.RabbitURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		if cfg.PublishEvents {
			pub, err := events.NewPublisher(conn, events.NewSequenceRepository(pool))
			if err != nil {
				return fmt.Errorf("start publisher: %w", err)
			}
			defer pub.Close()
			notifier = pub
		}

		finalizer := checkout.NewFinalizer(scope, logger, notifier, m)
		consumer = events.NewConsumer(conn, events.PaymentConfirmedRoutingKey,
			events.PaymentConfirmedHandler(finalizer, logger), logger)
	} else {
		logger.Warn().Msg("RABBITMQ_URL empty, payment confirmations will not be consumed")
	}

	svc := checkout.NewService(scope, pricing.NewCatalogPricer(pool), logger, checkout.Options{
		TTL:      cfg.ReservationTTL,
		Notifier: notifier,
		Metrics:  m,
	})
	sweeper := checkout.NewSweeper(scope, logger, checkout.SweeperOptions{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
		Metrics:   m,
	})

	// --- HTTP ---
	h := httpapi.NewHandler(scope, session.NewPostgresResolver(pool), svc, cfg.Currency, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Start(gctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}

	return g.Wait()
}
