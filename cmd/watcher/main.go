package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hashpay/backend/internal/bitcoin"
	"github.com/hashpay/backend/internal/config"
	"github.com/hashpay/backend/internal/database"
	"github.com/hashpay/backend/internal/services"
	"github.com/hashpay/backend/internal/store"
	"github.com/hashpay/backend/internal/worker"
)

func main() {
	if err := config.Load(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.InitDB()
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := database.InitRedis(logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	chainClient := bitcoin.NewClient(
		viper.GetString("bitcoin.rpc_host"),
		viper.GetInt("bitcoin.rpc_port"),
		viper.GetString("bitcoin.rpc_user"),
		viper.GetString("bitcoin.rpc_password"),
	)

	rateService := services.NewRateService(db, store.NewExchangeRateStore(), viper.GetString("rates.price_url"), logger)
	fiatService := services.NewFiatRateService(
		redisClient,
		viper.GetString("fiat.api_url"),
		viper.GetString("fiat.currency"),
		viper.GetDuration("fiat.cache_ttl"),
		logger,
	)
	walletService := services.NewWalletService(db, chainClient, rateService,
		viper.GetInt64("watcher.min_confirmations"), logger)

	watcher := worker.NewWatcher(chainClient, walletService, fiatService,
		viper.GetInt("watcher.batch_size"), logger)

	// Skip a tick rather than overlap passes when the node is slow.
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	pollSpec := "@every " + viper.GetString("watcher.poll_interval")
	if _, err := scheduler.AddFunc(pollSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := watcher.PollOnce(ctx); err != nil {
			logger.Error("Reconciliation pass failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule reconciliation", zap.Error(err))
	}
	scheduler.Start()

	logger.Info("Watcher started", zap.String("interval", viper.GetString("watcher.poll_interval")))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Watcher shutting down")
	<-scheduler.Stop().Done()
	logger.Info("Watcher stopped")
}
