package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/api"
	"github.com/platewise/orderflow/internal/cart"
	"github.com/platewise/orderflow/internal/checkout"
	"github.com/platewise/orderflow/internal/events"
	"github.com/platewise/orderflow/internal/gateway"
	"github.com/platewise/orderflow/internal/metrics"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/internal/payment"
	"github.com/platewise/orderflow/internal/websocket"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment")
	}

	port := getEnv("PORT", "8080")
	currency := getEnv("CURRENCY", "usd")
	gatewayURL := getEnv("GATEWAY_URL", "")
	gatewayKey := getEnv("GATEWAY_API_KEY", "")
	kafkaBrokers := getEnv("KAFKA_BROKERS", "")
	dbHost := getEnv("DB_HOST", "")

	// Order store: Postgres when configured, in-memory otherwise.
	var store orders.Store
	if dbHost != "" {
		pg, err := orders.NewPostgresStore(orders.PostgresConfig{
			Host:     dbHost,
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
		if err := pg.Migrate(); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		store = pg
	} else {
		logger.Info("DB_HOST not configured - using in-memory order store")
		store = orders.NewMemoryStore(logger)
	}

	// Gateway adapters. No GATEWAY_URL means every intent is mock-tagged and
	// the checkout view shows the development-mode notice.
	mock := gateway.NewMockGateway(logger)
	var real gateway.Adapter
	if gatewayURL != "" {
		real = gateway.NewRealGateway(gatewayURL, gatewayKey, logger)
		logger.WithField("url", gatewayURL).Info("Real payment gateway configured")
	} else {
		logger.Info("GATEWAY_URL not configured - running with mock gateway only")
	}

	cartStore := cart.NewMemoryStore()
	manager := payment.NewManager(real, mock, store, currency, logger)
	session := &checkout.Session{}
	orchestrator := checkout.NewOrchestrator(manager, store, cartStore, session, logger)
	canceller := checkout.NewCanceller(store, session, logger)

	handler := api.NewHandler(manager, orchestrator, canceller, store, cartStore, logger)

	if kafkaBrokers != "" {
		producer, err := events.NewKafkaProducer(kafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		orchestrator.SetPublisher(producer)
		canceller.SetPublisher(producer)
		handler.SetPublisher(producer)
	} else {
		logger.Info("KAFKA_BROKERS not configured - events disabled")
	}

	hub := websocket.NewHub(logger)
	hub.SetStore(store)
	go hub.Run()
	handler.SetBroadcaster(hub)

	router := mux.NewRouter()
	handler.Register(router)
	router.HandleFunc("/ws", hub.HandleWebSocket)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.Use(metrics.Middleware())
	router.Use(api.LoggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
