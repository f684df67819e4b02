package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	// Config represents an application configuration.
	Config struct {
		// The data source name (DSN) for connecting to the database.
		DSN string `yaml:"dsn" env:"DATABASE_URI"`
		// Subconfigs.
		HTTPServer HTTPServer `yaml:"http_server"`
		Session    Session    `yaml:"session"`
		Logger     Logger     `yaml:"logger"`
		Backends   Backends   `yaml:"backends"`
		RabbitMQ   RabbitMQ   `yaml:"rabbitmq"`
		Orchestra  Orchestra  `yaml:"orchestration"`
		Metrics    Metrics    `yaml:"metrics"`
		// Cost of the password to hash. Must be greater than 3.
		PasswordHashCost int `yaml:"password_hash_cost" env-default:"14"`
	}
	// Config for HTTP server.
	HTTPServer struct {
		// The server startup address.
		Address string `yaml:"run_address" env:"RUN_ADDRESS" env-default:"127.0.0.1:8080"`
		// Read Header Timeout in seconds.
		Timeout time.Duration `yaml:"timeout" env-default:"5s"`
		// Idle timeout in seconds.
		IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
		// Shutdown timeout in seconds.
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	}
	// Config for application's logger.
	Logger struct {
		// Path to store log files.
		Path string `yaml:"path" env:"LOG_PATH"`
		// Application logging level.
		Level string `yaml:"level" env:"LOG_LEVEL"`
		// Log files details.
		MaxSizeMB  int `yaml:"max_size_mb"`
		MaxBackups int `yaml:"max_backups"`
		MaxAgeDays int `yaml:"max_age_days"`
	}
	// Config for staff session tokens.
	Session struct {
		// JWT signing key.
		SigningKey string `yaml:"signing_key" env:"SESSION_SIGNING_KEY"`
		// Session expiration.
		Expiration time.Duration `yaml:"expiration" env:"SESSION_EXPIRATION" env-default:"12h"`
	}
	// Addresses of the consumed backends.
	Backends struct {
		// Order store base URL (the critical operation's target).
		OrderStoreAddr string `yaml:"order_store_addr" env:"ORDER_STORE_ADDRESS"`
		// Payment ledger base URL.
		LedgerAddr string `yaml:"ledger_addr" env:"LEDGER_ADDRESS"`
		// Seating resource base URL.
		SeatingAddr string `yaml:"seating_addr" env:"SEATING_ADDRESS"`
		// Outbound request rate: minimum interval between requests and burst.
		RateInterval time.Duration `yaml:"rate_interval" env-default:"10ms"`
		RateBurst    int           `yaml:"rate_burst" env-default:"20"`
	}
	// Config for the cross-process completion signal.
	RabbitMQ struct {
		Host     string `yaml:"host" env:"RABBITMQ_HOST" env-default:"localhost"`
		Port     int    `yaml:"port" env:"RABBITMQ_PORT" env-default:"5672"`
		User     string `yaml:"user" env:"RABBITMQ_USER" env-default:"guest"`
		Password string `yaml:"password" env:"RABBITMQ_PASSWORD" env-default:"guest"`
	}
	// Per-step orchestration policy knobs.
	Orchestra struct {
		// Critical order-update step.
		CriticalTimeout     time.Duration `yaml:"critical_timeout" env-default:"5s"`
		CriticalRetries     int           `yaml:"critical_retries" env-default:"2"`
		CriticalBackoffBase time.Duration `yaml:"critical_backoff_base" env-default:"1s"`
		CriticalBackoffCap  time.Duration `yaml:"critical_backoff_cap" env-default:"3s"`
		// Non-critical ledger step.
		LedgerTimeout     time.Duration `yaml:"ledger_timeout" env-default:"10s"`
		LedgerRetries     int           `yaml:"ledger_retries" env-default:"2"`
		LedgerBackoffBase time.Duration `yaml:"ledger_backoff_base" env-default:"500ms"`
		LedgerBackoffCap  time.Duration `yaml:"ledger_backoff_cap" env-default:"2s"`
		// Hard per-step ceiling bounding total latency.
		StepCeiling time.Duration `yaml:"step_ceiling" env-default:"12s"`
	}
	// Alert thresholds for the diagnostics sink. Evaluated externally;
	// carried in config so deployments can tune them without a rebuild.
	Metrics struct {
		MinSuccessRate float64       `yaml:"min_success_rate" env-default:"0.7"`
		P95Duration    time.Duration `yaml:"p95_duration" env-default:"10s"`
	}
)

// MustLoad returns an application configuration which is populated
// from the given configuration file, environment variables and flags.
func MustLoad() *Config {
	// Configuration yaml file path.
	configPath := flag.String("config", "./config/local.yml", "path to the config file")
	flag.Parse()

	// Check if file exists.
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %s", *configPath)
	}

	var cfg Config

	// Load from YAML cfg file.
	bytes, err := os.Open(*configPath)
	if err != nil {
		log.Fatalf("failed to open config file: %s", *configPath)
	}
	if err = cleanenv.ParseYAML(bytes, &cfg); err != nil {
		log.Fatalf("failed to parse config file: %s", *configPath)
	}

	// Read given flags.
	flag.StringVar(&cfg.HTTPServer.Address, "a", "127.0.0.1:8080", "server startup address")
	flag.StringVar(&cfg.DSN, "d", "", "server data source name")
	flag.StringVar(&cfg.Backends.OrderStoreAddr, "o", "", "order store base URL")
	flag.Parse()

	// Read environment variables.
	if err = cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to read environment variables: %v", err)
	}

	return &cfg
}
