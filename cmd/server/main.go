package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/config"
	"github.com/iliyamo/venue-booking-payments/internal/database"
	"github.com/iliyamo/venue-booking-payments/internal/handler"
	"github.com/iliyamo/venue-booking-payments/internal/middleware"
	"github.com/iliyamo/venue-booking-payments/internal/provider/click"
	"github.com/iliyamo/venue-booking-payments/internal/provider/payme"
	"github.com/iliyamo/venue-booking-payments/internal/queue"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
	"github.com/iliyamo/venue-booking-payments/internal/repository"
	"github.com/iliyamo/venue-booking-payments/internal/router"
	"github.com/iliyamo/venue-booking-payments/internal/service"
	"github.com/iliyamo/venue-booking-payments/internal/sweeper"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := service.NewRabbitNotifier(cfg.RabbitURL, logger.Named("notifier"))
	coord := reconcile.New(repository.NewStore(db), reconcile.Options{
		Window:     cfg.Payment.OpenWindow,
		MaxRetries: cfg.Payment.MaxRetries,
		Notifier:   notifier,
		Logger:     logger.Named("reconcile"),
	})

	providers := handler.NewProviderHandler(
		payme.New(coord, payme.Config{
			Login:        cfg.Payme.Login,
			Key:          cfg.Payme.Key,
			TestKey:      cfg.Payme.TestKey,
			Sandbox:      cfg.Payme.Sandbox,
			AccountField: cfg.Payme.AccountField,
		}, logger.Named("payme")),
		click.New(coord, click.Config{
			ServiceID: cfg.Click.ServiceID,
			SecretKey: cfg.Click.SecretKey,
		}, logger.Named("click")),
	)

	rdb := config.NewRedisClient(logger)
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID(), middleware.AccessLog(logger.Named("http")))
	router.RegisterRoutes(e, db)
	providerLimit := config.LoadProviderRateLimitConfig()
	router.RegisterProviders(e, providers, func(reject middleware.RejectFunc) echo.MiddlewareFunc {
		return middleware.NewTokenBucketWith(providerLimit, rdb, logger, reject)
	})
	router.RegisterPayments(e, handler.NewPaymentHandler(coord, logger.Named("api")), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger))

	go (&sweeper.Sweeper{
		Target:   coord,
		Interval: cfg.Payment.SweepInterval,
		Batch:    cfg.Payment.SweepBatch,
		Log:      logger.Named("sweeper"),
	}).Run(ctx)

	if cfg.ConsumeLog {
		consumer := &queue.Consumer{URL: cfg.RabbitURL, LogDir: cfg.EventsLogDir, Log: logger.Named("consumer")}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("payment consumer stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env),
			zap.Duration("open_window", coord.Window()))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	notifier.Wait()
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
