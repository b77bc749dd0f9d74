package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pharmacy_checkout/internal/config"
	"pharmacy_checkout/internal/database"
	"pharmacy_checkout/internal/gateway"
	"pharmacy_checkout/internal/pricing"
	"pharmacy_checkout/internal/queue"
	"pharmacy_checkout/internal/router"
	"pharmacy_checkout/internal/service"
	redispkg "pharmacy_checkout/pkg/redis"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogDev)
	defer func() { _ = logger.Sync() }()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	dsn := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := database.Open(database.Options{Driver: cfg.DBDriver, DSN: dsn, Verbose: cfg.LogDev})
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		rdb      *rd.Client
		cache    service.PaymentStateCache
		locker   service.CheckoutLocker
		marker   service.DeliveryMarker
		producer *queue.Producer
	)
	if cfg.KafkaEnabled() {
		producer = queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = producer.Close() }()
	}
	if cfg.RedisEnabled() {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cache = redispkg.NewPaymentStateCache(rdb, cfg.PaymentStateTTL)
		locker = redispkg.NewCheckoutLocker(rdb, cfg.CheckoutLockTTL)
		marker = redispkg.NewWebhookMarker(rdb)
	}

	publisher := eventPublisher(rdb, producer, cfg.OrderEventStream)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.RazorpayAPIBase,
		KeyID:         cfg.RazorpayKeyID,
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
		Timeout:       cfg.GatewayTimeout,
	})

	carts := service.NewCartService(db, logger)
	orders := service.NewOrderService(db, logger, publisher, cache)
	payments := service.NewPaymentService(db, logger, gw, service.PaymentConfig{
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
	}, orders, marker)
	checkout := service.NewCheckoutService(db, logger, carts, orders, payments, locker, service.CheckoutConfig{
		Policy:             pricing.NewPercentOfSubtotal(cfg.CheckoutDiscountPercent),
		ClearCartByDefault: cfg.CheckoutClearCart,
	})

	var wg sync.WaitGroup
	if rdb != nil && producer != nil {
		relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
	}

	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Services{
		Carts:     carts,
		Orders:    orders,
		Checkout:  checkout,
		Payments:  payments,
		Catalog:   service.NewCatalogService(db),
		Addresses: service.NewAddressService(db),
	}, rdb, cfg, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("db_driver", cfg.DBDriver),
			zap.Bool("redis", rdb != nil),
			zap.Bool("kafka", producer != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	wg.Wait()
}

// eventPublisher picks where order events go. With Redis and Kafka they go
// through the stream outbox that the relay drains; with Kafka alone straight to
// the producer. Redis alone has no relay, so events are not published.
func eventPublisher(rdb *rd.Client, producer *queue.Producer, stream string) service.EventPublisher {
	switch {
	case producer == nil:
		return nil
	case rdb != nil:
		return queue.NewStreamPublisher(rdb, stream)
	default:
		return producer
	}
}

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
