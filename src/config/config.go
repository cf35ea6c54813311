package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port           string
	DatabasePath   string
	LogLevel       string
	RequestTimeout time.Duration
	AllowedOrigins []string

	// Session & request protection
	SessionSecret              string
	UsingFallbackSessionSecret bool
	SessionMaxAge              time.Duration
	CSRFEnabled                bool
	RateLimitInterval          time.Duration
	RateLimitBurst             int

	// Ledger defaults
	BaseCurrency    string
	DefaultCurrency string

	// Import
	MaxUploadSizeBytes int64
	UploadDir          string

	// Market data
	QuoteProvider             string
	AlphaVantageAPIKey        string
	QuoteCacheTTL             time.Duration
	PriceSyncLimit            int
	RecentPricesPerInstrument int
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}

	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found in current or parent directory. Relying on OS environment variables.")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	sessionSecret := strings.TrimSpace(getEnv("SESSION_SECRET", ""))
	usingFallback := false
	if sessionSecret == "" {
		sessionSecret = generateFallbackSecret()
		usingFallback = true
		log.Println("WARNING: SESSION_SECRET is not set. Using a random per-process secret; sessions will not survive a restart.")
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760") // 10MB default
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil || maxUploadSizeBytes <= 0 {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	Cfg = &AppConfig{
		Port:           getEnv("PORT", "8080"),
		DatabasePath:   getEnv("DATABASE_PATH", "./carteira.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", "http://localhost:3000"),

		SessionSecret:              sessionSecret,
		UsingFallbackSessionSecret: usingFallback,
		SessionMaxAge:              getEnvAsDuration("SESSION_MAX_AGE", 30*24*time.Hour),
		CSRFEnabled:                getEnvAsBool("CSRF_ENABLED", true),
		RateLimitInterval:          getEnvAsDuration("RATE_LIMIT_INTERVAL", 100*time.Millisecond),
		RateLimitBurst:             getEnvAsInt("RATE_LIMIT_BURST", 30),

		BaseCurrency:    strings.ToUpper(getEnv("BASE_CURRENCY", "ARS")),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "ARS")),

		MaxUploadSizeBytes: maxUploadSizeBytes,
		UploadDir:          getEnv("UPLOAD_DIR", filepath.Join(os.TempDir(), "carteira-uploads")),

		QuoteProvider:             strings.ToLower(getEnv("QUOTE_PROVIDER", "yahoo")),
		AlphaVantageAPIKey:        getEnv("ALPHA_VANTAGE_API_KEY", ""),
		QuoteCacheTTL:             getEnvAsDuration("QUOTE_CACHE_TTL", 5*time.Minute),
		PriceSyncLimit:            getEnvAsInt("PRICE_SYNC_LIMIT", 50),
		RecentPricesPerInstrument: getEnvAsInt("RECENT_PRICES_PER_INSTRUMENT", 5),
	}

	if Cfg.QuoteProvider == "alphavantage" && Cfg.AlphaVantageAPIKey == "" {
		log.Println("WARNING: QUOTE_PROVIDER=alphavantage but ALPHA_VANTAGE_API_KEY is empty. Price sync will fail.")
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, BaseCurrency=%s, QuoteProvider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.BaseCurrency, Cfg.QuoteProvider)
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsBool retrieves an environment variable as a bool or returns a fallback.
func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid boolean value for %s ('%s'), using default: %t", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func generateFallbackSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("FATAL: could not generate fallback session secret: %v", err)
	}
	return hex.EncodeToString(b)
}
