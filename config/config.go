package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"wealthwars/database"
	"wealthwars/domain/entities"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all application configuration.
// Values are read from defaults, then the optional CONFIG_FILE, then the environment.
type Config struct {
	Environment string `yaml:"environment"` // "development", "production" or "test"
	LogLevel    string `yaml:"log_level"`   // debug | info | warn | error
	LogFormat   string `yaml:"log_format"`  // text | json

	StoreDriver  string `yaml:"store_driver"`
	DatabaseURL  string `yaml:"database_url"`
	DatabaseName string `yaml:"database_name"`
	DBMaxConns   int32  `yaml:"db_max_conns"`

	NATSServers string `yaml:"nats_servers"` // empty disables event streaming

	SolanaRPCURL      string        `yaml:"solana_rpc_url"`
	TokenMint         string        `yaml:"token_mint"` // empty means native lamports
	TokenDecimals     uint8         `yaml:"token_decimals"`
	TreasuryKey       string        `yaml:"-"` // base58 private key, env only
	TransferTimeout   time.Duration `yaml:"transfer_timeout"`
	SignatureLookback int           `yaml:"signature_lookback"`

	AuthorityName   string `yaml:"authority_name"`
	AuthoritySecret string `yaml:"-"` // env only

	AllowMultipleEntries bool `yaml:"allow_multiple_entries"`
	RequireBalance       bool `yaml:"require_balance"`
	MaxTicketsPerEntry   int  `yaml:"max_tickets_per_entry"`

	LinkWindow         time.Duration `yaml:"link_window"`
	ClaimLease         time.Duration `yaml:"claim_lease"`
	BalanceTTL         time.Duration `yaml:"balance_ttl"`
	BalanceDegradedTTL time.Duration `yaml:"balance_degraded_ttl"`
	BalanceCacheSize   int           `yaml:"balance_cache_size"`
	BalanceRateLimit   float64       `yaml:"balance_rate_limit"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
	WorkerInterval     time.Duration `yaml:"worker_interval"`

	OTelEnabled              bool   `yaml:"otel_enabled"`
	OTelExporterType         string `yaml:"otel_exporter_type"` // console | otlp | none
	OTelOTLPEndpoint         string `yaml:"otel_otlp_endpoint"`
	OTelServiceName          string `yaml:"otel_service_name"`
	OTelExportIntervalMillis int    `yaml:"otel_export_interval_millis"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the process configuration, loading it on first use
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = Load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL returns the database URL with the configured database name applied
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// Load reads the configuration without touching the singleton
func Load() (*Config, error) {
	// a missing .env file is fine
	_ = godotenv.Load()

	config := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaults() *Config {
	return &Config{
		Environment:              "development",
		LogLevel:                 "info",
		LogFormat:                "text",
		StoreDriver:              StoreDriverPostgres,
		SolanaRPCURL:             "https://api.devnet.solana.com",
		TokenDecimals:            9,
		TransferTimeout:          60 * time.Second,
		SignatureLookback:        100,
		AuthorityName:            "house",
		RequireBalance:           true,
		LinkWindow:               10 * time.Minute,
		ClaimLease:               2 * time.Minute,
		BalanceTTL:               30 * time.Second,
		BalanceDegradedTTL:       5 * time.Second,
		BalanceCacheSize:         1000,
		BalanceRateLimit:         10,
		OperationTimeout:         10 * time.Second,
		WorkerInterval:           5 * time.Second,
		OTelExporterType:         "none",
		OTelOTLPEndpoint:         "localhost:4317",
		OTelServiceName:          "wealthwars",
		OTelExportIntervalMillis: 15000,
	}
}

func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

// applyEnv overrides file and default values with any environment variables that are set
func applyEnv(config *Config) error {
	setString(&config.Environment, "ENVIRONMENT")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.LogFormat, "LOG_FORMAT")
	setString(&config.StoreDriver, "STORE_DRIVER")
	setString(&config.DatabaseURL, "DATABASE_URL")
	setString(&config.DatabaseName, "DATABASE_NAME")
	setString(&config.NATSServers, "NATS_SERVERS")
	setString(&config.SolanaRPCURL, "SOLANA_RPC_URL")
	setString(&config.TokenMint, "TOKEN_MINT")
	setString(&config.TreasuryKey, "TREASURY_PRIVATE_KEY")
	setString(&config.AuthorityName, "AUTHORITY_NAME")
	setString(&config.AuthoritySecret, "AUTHORITY_SECRET")
	setString(&config.OTelExporterType, "OTEL_EXPORTER_TYPE")
	setString(&config.OTelOTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&config.OTelServiceName, "OTEL_SERVICE_NAME")

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	collect(setBool(&config.AllowMultipleEntries, "ALLOW_MULTIPLE_ENTRIES"))
	collect(setBool(&config.RequireBalance, "REQUIRE_BALANCE"))
	collect(setBool(&config.OTelEnabled, "OTEL_ENABLED"))
	collect(setInt(&config.MaxTicketsPerEntry, "MAX_TICKETS_PER_ENTRY"))
	collect(setInt(&config.BalanceCacheSize, "BALANCE_CACHE_SIZE"))
	collect(setInt(&config.SignatureLookback, "SIGNATURE_LOOKBACK"))
	collect(setInt(&config.OTelExportIntervalMillis, "OTEL_EXPORT_INTERVAL_MILLIS"))
	collect(setDuration(&config.LinkWindow, "LINK_WINDOW"))
	collect(setDuration(&config.ClaimLease, "CLAIM_LEASE"))
	collect(setDuration(&config.BalanceTTL, "BALANCE_TTL"))
	collect(setDuration(&config.BalanceDegradedTTL, "BALANCE_DEGRADED_TTL"))
	collect(setDuration(&config.OperationTimeout, "OPERATION_TIMEOUT"))
	collect(setDuration(&config.WorkerInterval, "WORKER_INTERVAL"))
	collect(setDuration(&config.TransferTimeout, "TRANSFER_TIMEOUT"))

	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS: %v", err))
		} else {
			config.DBMaxConns = int32(n)
		}
	}
	if v := os.Getenv("TOKEN_DECIMALS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			errs = append(errs, fmt.Sprintf("TOKEN_DECIMALS: %v", err))
		} else {
			config.TokenDecimals = uint8(n)
		}
	}
	if v := os.Getenv("BALANCE_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("BALANCE_RATE_LIMIT: %v", err))
		} else {
			config.BalanceRateLimit = f
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks required settings outside the test environment
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.OTelExporterType {
	case "console", "otlp", "none":
	default:
		return fmt.Errorf("unknown OTEL_EXPORTER_TYPE %q", c.OTelExporterType)
	}
	if c.LinkWindow <= 0 || c.ClaimLease <= 0 || c.OperationTimeout <= 0 || c.WorkerInterval <= 0 {
		return fmt.Errorf("LINK_WINDOW, CLAIM_LEASE, OPERATION_TIMEOUT and WORKER_INTERVAL must be positive")
	}
	if c.LinkWindow < 5*time.Minute || c.LinkWindow > 10*time.Minute {
		return fmt.Errorf("LINK_WINDOW must be between 5m and 10m, got %s", c.LinkWindow)
	}
	if c.MaxTicketsPerEntry < 0 {
		return fmt.Errorf("MAX_TICKETS_PER_ENTRY cannot be negative")
	}
	if c.TokenDecimals > entities.MaxTokenDecimals {
		return fmt.Errorf("TOKEN_DECIMALS cannot exceed %d, got %d", entities.MaxTokenDecimals, c.TokenDecimals)
	}
	// stakes are lamports; an SPL balance cannot cover them
	if c.RequireBalance && c.TokenMint != "" {
		return fmt.Errorf("REQUIRE_BALANCE checks native balances and cannot be combined with TOKEN_MINT")
	}
	// an unconfirmed transfer keeps its lease until its blockhash has expired
	if c.ClaimLease <= c.TransferTimeout {
		return fmt.Errorf("CLAIM_LEASE (%s) must be longer than TRANSFER_TIMEOUT (%s)", c.ClaimLease, c.TransferTimeout)
	}

	if c.Environment == "test" {
		return nil
	}
	if c.StoreDriver == StoreDriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DatabaseName != "" && strings.TrimSpace(c.DatabaseName) == "" {
		return fmt.Errorf("DATABASE_NAME cannot be empty when provided")
	}
	if c.AuthoritySecret == "" {
		return fmt.Errorf("AUTHORITY_SECRET is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// SetTestConfig sets a test configuration
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the configuration singleton
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a configuration for tests backed by the memory store
func NewTestConfig() *Config {
	config := defaults()
	config.Environment = "test"
	config.StoreDriver = StoreDriverMemory
	config.AuthoritySecret = "test-secret"
	config.LogLevel = "debug"
	return config
}
