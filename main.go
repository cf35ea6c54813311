package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/username/carteira/src/config"
	"github.com/username/carteira/src/database"
	"github.com/username/carteira/src/handlers"
	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/processors"
	"github.com/username/carteira/src/security"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/services/quotes"
)

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Carteira backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations()
	defer database.DB.Close()

	quoteProvider, err := quotes.New(config.Cfg.QuoteProvider, config.Cfg.AlphaVantageAPIKey, config.Cfg.QuoteCacheTTL)
	if err != nil {
		logger.L.Error("Quote provider configuration invalid", "provider", config.Cfg.QuoteProvider, "error", err)
		os.Exit(1)
	}

	authService := security.NewAuthService(config.Cfg.SessionSecret, config.Cfg.SessionMaxAge)
	transactionProcessor := processors.NewTransactionProcessor(config.Cfg.DefaultCurrency)

	ledgerService := services.NewLedgerService(database.DB, transactionProcessor)
	svc := handlers.Services{
		Auth:      authService,
		Accounts:  services.NewAccountService(database.DB, authService),
		Catalog:   services.NewCatalogService(database.DB),
		Prices:    services.NewPriceService(database.DB, quoteProvider, config.Cfg.BaseCurrency, config.Cfg.PriceSyncLimit),
		Ledger:    ledgerService,
		Valuation: services.NewValuationService(database.DB, config.Cfg.BaseCurrency),
		Imports:   services.NewImportService(database.DB, ledgerService, config.Cfg.UploadDir, config.Cfg.MaxUploadSizeBytes),
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins:             config.Cfg.AllowedOrigins,
		CSRFEnabled:                config.Cfg.CSRFEnabled,
		RequestTimeout:             config.Cfg.RequestTimeout,
		RateLimitInterval:          config.Cfg.RateLimitInterval,
		RateLimitBurst:             config.Cfg.RateLimitBurst,
		MaxUploadSizeBytes:         config.Cfg.MaxUploadSizeBytes,
		RecentPricesPerInstrument:  config.Cfg.RecentPricesPerInstrument,
		UsingFallbackSessionSecret: config.Cfg.UsingFallbackSessionSecret,
	}, svc)

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: config.Cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.L.Info("Server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stdlog.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.L.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Graceful shutdown failed", "error", err)
	}
}
