// Command notifier consumes order events from Kafka and logs a customer
// notification for each one.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pharmacy_checkout/internal/config"
	"pharmacy_checkout/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := zap.NewProduction()
	if cfg.LogDev {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, notify(logger), logger)
	defer func() { _ = c.Close() }()

	logger.Info("notifier started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaGroupID))
	c.Run(ctx)
}

func notify(logger *zap.Logger) queue.Handler {
	return func(_ context.Context, ev queue.OrderEvent) error {
		var msg string
		switch ev.EventType {
		case queue.EventOrderPlaced:
			msg = "order received"
		case queue.EventOrderPaid:
			msg = "payment received"
		case queue.EventOrderPaymentFailed:
			msg = "payment failed"
		case queue.EventOrderStatusChanged:
			msg = "order is now " + ev.Status
		default:
			return nil
		}
		logger.Info(msg,
			zap.String("event_id", ev.EventID),
			zap.String("order_number", ev.OrderNumber),
			zap.Uint("user_id", ev.UserID),
			zap.String("payment_status", ev.PaymentStatus),
			zap.String("total", ev.Total))
		return nil
	}
}
