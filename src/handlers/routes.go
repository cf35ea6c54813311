package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/username/carteira/src/security"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
	"golang.org/x/time/rate"
)

// RouterConfig carries the request-level settings of the API.
type RouterConfig struct {
	AllowedOrigins             []string
	CSRFEnabled                bool
	RequestTimeout             time.Duration
	RateLimitInterval          time.Duration
	RateLimitBurst             int
	MaxUploadSizeBytes         int64
	RecentPricesPerInstrument  int
	UsingFallbackSessionSecret bool
}

// Services are the dependencies the handlers call into.
type Services struct {
	Auth      *security.AuthService
	Accounts  services.AccountService
	Catalog   services.CatalogService
	Prices    services.PriceService
	Ledger    services.LedgerService
	Valuation services.ValuationService
	Imports   services.ImportService
}

// NewRouter builds the HTTP surface. Everything except the health check
// lives under /api.
func NewRouter(cfg RouterConfig, svc Services) http.Handler {
	authHandler := NewAuthHandler(svc.Accounts, svc.Auth, cfg.UsingFallbackSessionSecret)
	accountHandler := NewAccountHandler(svc.Accounts)
	catalogHandler := NewCatalogHandler(svc.Catalog)
	priceHandler := NewPriceHandler(svc.Prices, cfg.RecentPricesPerInstrument)
	txHandler := NewTransactionHandler(svc.Ledger)
	dashboardHandler := NewDashboardHandler(svc.Valuation, svc.Ledger)
	uploadHandler := NewUploadHandler(svc.Imports, cfg.MaxUploadSizeBytes)

	interval := cfg.RateLimitInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 30
	}
	limiter := rate.NewLimiter(rate.Every(interval), burst)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(ContextualLoggerMiddleware)
	r.Use(ProxyHeadersMiddleware)
	r.Use(CORSMiddleware(cfg.AllowedOrigins))
	r.Use(RateLimitMiddleware(limiter))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Carteira backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Get("/auth/csrf", GetCSRFToken)
			r.Get("/auth/config", authHandler.HandleConfig)
		})

		r.Group(func(r chi.Router) {
			r.Use(CSRFMiddleware(cfg.CSRFEnabled))
			r.Post("/auth/register", authHandler.HandleRegister)
			r.Post("/auth/login", authHandler.HandleLogin)
			r.Post("/auth/logout", authHandler.HandleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(CSRFMiddleware(cfg.CSRFEnabled))
			r.Use(authHandler.AuthMiddleware)

			r.Get("/auth/me", authHandler.HandleMe)

			r.Get("/accounts", accountHandler.HandleList)
			r.Post("/accounts", accountHandler.HandleUpsert)
			r.Put("/accounts", accountHandler.HandleUpdate)
			r.Delete("/accounts", accountHandler.HandleDelete)

			r.Get("/instrument-types", catalogHandler.HandleListTypes)
			r.Post("/instrument-types", catalogHandler.HandleUpsertType)
			r.Put("/instrument-types", catalogHandler.HandleUpdateType)
			r.Delete("/instrument-types", catalogHandler.HandleDeleteType)
			r.Get("/instruments/types", catalogHandler.HandleListTypes)

			r.Get("/instruments", catalogHandler.HandleListInstruments)
			r.Post("/instruments", catalogHandler.HandleUpsertInstrument)
			r.Put("/instruments", catalogHandler.HandleUpdateInstrument)
			r.Delete("/instruments", catalogHandler.HandleDeleteInstrument)

			r.Get("/prices", priceHandler.HandleList)
			r.Post("/prices", priceHandler.HandleUpsert)
			r.Put("/prices", priceHandler.HandleUpdate)
			r.Delete("/prices", priceHandler.HandleDelete)
			r.Post("/prices/sync", priceHandler.HandleSync)

			r.Get("/transactions", txHandler.HandleList)
			r.Post("/transactions", txHandler.HandleRecord)
			r.Put("/transactions", txHandler.HandleAmend)
			r.Delete("/transactions", txHandler.HandleRemove)

			r.Delete("/holdings", txHandler.HandleRemoveHolding)
			r.Post("/holdings/rebuild", txHandler.HandleRebuild)

			r.Get("/dashboard/valuations", dashboardHandler.HandleValuations)
			r.Get("/dashboard/portfolio-totals", dashboardHandler.HandlePortfolioTotals)
			r.Get("/dashboard/performance", dashboardHandler.HandlePerformance)
			r.Get("/dashboard/transactions", dashboardHandler.HandleTransactions)

			r.Post("/upload", uploadHandler.HandleUpload)
			r.Post("/process-transactions", uploadHandler.HandleProcess)
			r.Get("/uploads", uploadHandler.HandleListFiles)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			utils.SendJSONError(w, "route not found", http.StatusNotFound)
			return
		}
		http.NotFound(w, r)
	})

	return r
}
