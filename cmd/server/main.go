package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hashpay/backend/internal/bitcoin"
	"github.com/hashpay/backend/internal/config"
	"github.com/hashpay/backend/internal/database"
	"github.com/hashpay/backend/internal/handlers"
	mW "github.com/hashpay/backend/internal/middleware"
	"github.com/hashpay/backend/internal/services"
	"github.com/hashpay/backend/internal/store"
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
	if err := rateService.FetchAndCache(context.Background()); err != nil {
		logger.Warn("Initial rate fetch failed, serving from snapshots until refresh", zap.Error(err))
	}

	fiatService := services.NewFiatRateService(
		redisClient,
		viper.GetString("fiat.api_url"),
		viper.GetString("fiat.currency"),
		viper.GetDuration("fiat.cache_ttl"),
		logger,
	)

	walletService := services.NewWalletService(db, chainClient, rateService,
		viper.GetInt64("watcher.min_confirmations"), logger)
	authService := services.NewAuthService(db, redisClient, logger)
	walletHandler := handlers.NewWalletHandler(walletService, rateService, fiatService, logger)

	// Keep the cached rate warm so quotes and fee math stay close to market.
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	refreshSpec := "@every " + viper.GetString("rates.refresh_interval")
	if _, err := scheduler.AddFunc(refreshSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		rateService.Refresh(ctx)
	}); err != nil {
		logger.Fatal("Failed to schedule rate refresh", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Node-side deposit notifications; the watcher covers missed pushes.
		r.Post("/webhooks/btc/deposit", walletHandler.RecordDeposit)

		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(redisClient))

			r.Get("/wallet/balances", walletHandler.GetBalances)
			r.Get("/wallet/transactions", walletHandler.ListTransactions)
			r.Post("/wallet/btc/address", walletHandler.CreateDepositAddress)
			r.Post("/wallet/btc/send", walletHandler.SendBitcoin)
			r.Post("/wallet/usd/send", walletHandler.SendUsd)
			r.Post("/conversion/quote", walletHandler.Quote)
			r.Post("/conversion", walletHandler.Convert)
			r.Get("/rates/fiat", walletHandler.GetFiatRate)
		})
	})

	port := viper.GetString("server.port")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
