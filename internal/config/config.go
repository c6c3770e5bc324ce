package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"NutriChat/internal/session"
)

const (
	DefaultGatewayURL = "https://nutriai-rag-system.onrender.com/ask"
	DefaultTimeout    = 60 * time.Second
	DefaultLogDir     = "logs"
	DefaultLedgerPath = "nutrichat.db"

	DefaultMetricsInterval = 10 * time.Second
)

// Config holds application configuration
type Config struct {
	GatewayURL string        // URL of the question-answering endpoint
	Timeout    time.Duration // Per-request HTTP client timeout, 0 disables it
	Debug      bool

	LogDir     string // Directory for the rotating log, trace and metric files
	LedgerPath string // SQLite file for the exchange ledger, empty disables it

	Telemetry       bool          // Export traces and metrics to files in LogDir
	MetricsInterval time.Duration // How often metrics are exported

	Greeting string // Seeded assistant message of every new session
	Fallback string // Assistant message appended when the gateway fails
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GatewayURL: DefaultGatewayURL,
		Timeout:    DefaultTimeout,
		LogDir:     DefaultLogDir,
		LedgerPath: DefaultLedgerPath,

		Telemetry:       true,
		MetricsInterval: DefaultMetricsInterval,

		Greeting: session.DefaultGreeting,
		Fallback: session.DefaultFallback,
	}
}

// Load builds the configuration from defaults, an optional .env file, the
// NUTRICHAT_* environment variables and finally the command-line args.
// Later sources override earlier ones.
func Load(args []string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := FromEnv(Default())
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("nutrichat", flag.ContinueOnError)
	fs.StringVar(&cfg.GatewayURL, "gateway", cfg.GatewayURL, "URL of the NutriAI /ask endpoint")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP timeout for one question (0 = none)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	fs.StringVar(&cfg.LedgerPath, "ledger", cfg.LedgerPath, "SQLite file recording gateway exchanges (empty = off)")
	fs.BoolVar(&cfg.Telemetry, "telemetry", cfg.Telemetry, "Export traces and metrics to the log directory")
	fs.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "How often metrics are exported")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv overlays NUTRICHAT_* environment variables on base.
func FromEnv(base Config) (Config, error) {
	cfg := base
	cfg.GatewayURL = getEnv("NUTRICHAT_GATEWAY_URL", cfg.GatewayURL)
	cfg.LogDir = getEnv("NUTRICHAT_LOG_DIR", cfg.LogDir)
	if v, ok := os.LookupEnv("NUTRICHAT_LEDGER"); ok {
		cfg.LedgerPath = v
	}

	if v := os.Getenv("NUTRICHAT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NUTRICHAT_TIMEOUT %q: %w", v, err)
		}
		cfg.Timeout = d
	}

	if v := os.Getenv("NUTRICHAT_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NUTRICHAT_DEBUG %q: %w", v, err)
		}
		cfg.Debug = b
	}

	if v := os.Getenv("NUTRICHAT_TELEMETRY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NUTRICHAT_TELEMETRY %q: %w", v, err)
		}
		cfg.Telemetry = b
	}

	if v := os.Getenv("NUTRICHAT_METRICS_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NUTRICHAT_METRICS_INTERVAL %q: %w", v, err)
		}
		cfg.MetricsInterval = d
	}

	return cfg, nil
}

// Validate reports configuration that cannot produce a working session.
func (c Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway URL must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.LogDir == "" {
		return fmt.Errorf("log directory must not be empty")
	}
	if c.Telemetry && c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics interval must be positive, got %s", c.MetricsInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
