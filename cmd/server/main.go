package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"design-marketplace/config"
	"design-marketplace/internal/api"
	"design-marketplace/internal/auth"
	"design-marketplace/internal/broker"
	"design-marketplace/internal/payment"
	"design-marketplace/internal/redisclient"
	"design-marketplace/internal/service"
	"design-marketplace/internal/store"
	"design-marketplace/internal/util"
	"design-marketplace/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting design marketplace")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	migrateCancel()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMarket)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicMarket))

	eventPublisher := broker.NewEventPublisher(producer)
	blobs := store.NewBlobStore(db, cfg.Storage.PublicBaseURL)
	stripeClient := payment.NewStripeClient(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret, cfg.Stripe.APIBase)
	identity := auth.NewProvider(cfg.Auth.JWTSecret, db)

	checkoutService := service.NewCheckoutService(db, stripeClient, cfg.Server.AppBaseURL)
	webhookService := service.NewWebhookService(stripeClient, db, redisClient, eventPublisher, cfg.Business.WebhookTimeout)
	licenseService := service.NewLicenseService(db, db, db, blobs, redisClient, eventPublisher)
	designService := service.NewDesignService(db, blobs)
	transactionService := service.NewTransactionService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	licenseConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicMarket, cfg.Kafka.ConsumerGroup)
	licenseWorker := worker.NewLicenseWorker(licenseConsumer, licenseService,
		cfg.Business.LicenseMaxAttempts, cfg.Business.LicenseRetryBase)
	go func() {
		if err := licenseWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("License worker error", zap.Error(err))
		}
	}()

	licenseSweeper := worker.NewLicenseSweeper(db, licenseWorker, cfg.Business.LicenseSweepInterval)
	go func() {
		if err := licenseSweeper.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error("License sweeper error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Dependencies{
		Checkout:     checkoutService,
		Webhooks:     webhookService,
		Licenses:     licenseService,
		Designs:      designService,
		Transactions: transactionService,
		Files:        blobs,
		Identity:     identity,
		Database:     db,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := licenseWorker.Stop(); err != nil {
		logger.Warn("Error stopping license worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
