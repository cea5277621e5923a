package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/events"
	"github.com/platewise/orderflow/internal/orders"
)

// reconcileHandler replays the idempotent order-confirm for payments that
// were captured while the original confirm call failed.
type reconcileHandler struct {
	store  orders.Store
	logger *logrus.Logger
}

func (h *reconcileHandler) HandleConfirmLost(ctx context.Context, event events.ConfirmLostEvent) error {
	log := h.logger.WithFields(logrus.Fields{
		"order_id":  event.OrderID,
		"intent_id": event.IntentID,
	})
	log.Info("Reconciling confirm-lost order")

	order, err := h.store.ConfirmOrder(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrIllegalTransition) {
			// Payment captured but the order was cancelled in the meantime;
			// that is a refund case, not a retry case.
			log.Error("Confirm-lost order is cancelled; manual refund required")
			return nil
		}
		return err
	}

	log.WithField("status", order.Status).Info("Confirm-lost order reconciled")
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment")
	}

	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")

	pg, err := orders.NewPostgresStore(orders.PostgresConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "orderflow"),
		Password: getEnv("DB_PASSWORD", "orderflow"),
		DBName:   getEnv("DB_NAME", "orders"),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer pg.Close()
	if err := pg.WaitReady(30, 2*time.Second); err != nil {
		logger.WithError(err).Fatal("Database never became ready")
	}

	handler := &reconcileHandler{store: pg, logger: logger}

	// Kafka may come up after us; retry the connection.
	var consumer *events.KafkaConsumer
	for i := 0; i < 10; i++ {
		consumer, err = events.NewKafkaConsumer(kafkaBrokers, "reconciler-group", handler, logger)
		if err == nil {
			logger.Info("Successfully connected to Kafka")
			break
		}
		logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer after retries")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Consumer stopped")
		}
	}()

	logger.Info("Reconciler started - monitoring order.confirm.lost")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Reconciler shutting down")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
