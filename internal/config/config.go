package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the agent
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Chains   map[uint64]ChainConfig
	Exchange ExchangeConfig
	Agent    AgentConfig
	Worker   WorkerConfig
	Redis    RedisConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ChainConfig holds configuration for an EVM chain
type ChainConfig struct {
	ChainID     uint64
	Name        string
	RPCEndpoint string
}

// ExchangeConfig holds Coinbase Exchange credentials and guards
type ExchangeConfig struct {
	BaseURL           string
	SpotURL           string
	Key               string
	Secret            string // base64 encoded
	Passphrase        string
	AllowedWithdrawTo []string
	MaxFeeUSDEthereum float64
	MaxFeeUSDDefault  float64
}

// AgentConfig holds the signer used for proxy contract releases
type AgentConfig struct {
	PrivateKey string
}

// WorkerConfig holds sweep timing and transaction safety settings
type WorkerConfig struct {
	SweepInterval  time.Duration
	StepPause      time.Duration
	LogCooldown    time.Duration
	SubmitCooldown time.Duration
	ReleaseLease   time.Duration

	ReceiptTimeout         time.Duration
	ReceiptPollInterval    time.Duration
	ReceiptFallbackTimeout time.Duration

	GasLimitMultiplierBps    int64 // 15000 = x1.5
	GasPriceMultiplierBps    int64 // 10200 = x1.02
	GasPriceCeilingBps       int64 // 13000 = x1.30
	EstimateGasMultiplierBps int64 // 11000 = +10%

	// 0 disables escalation of unmatched withdrawal logs
	UnmatchedLogEscalateAfter time.Duration
}

// RedisConfig is optional; an empty Addr keeps cooldowns in memory
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IsProduction reports whether the agent runs with ENV=production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "boxbridge"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Exchange: ExchangeConfig{
			BaseURL:           getEnv("CBEX_BASE_URL", "https://api.exchange.coinbase.com"),
			SpotURL:           getEnv("CBEX_SPOT_URL", "https://api.coinbase.com/v2/exchange-rates"),
			Key:               getEnv("CBEX_KEY", ""),
			Secret:            getEnv("CBEX_SECRET", ""),
			Passphrase:        getEnv("CBEX_PASSPHRASE", ""),
			AllowedWithdrawTo: splitAndTrim(getEnv("CBEX_ALLOWED_WITHDRAW_TO", "")),
			MaxFeeUSDEthereum: getEnvFloat("CBEX_MAX_FEE_USD_ETHEREUM", 10),
			MaxFeeUSDDefault:  getEnvFloat("CBEX_MAX_FEE_USD_DEFAULT", 2),
		},
		Agent: AgentConfig{
			PrivateKey: getEnv("AGENT_PRIVATE_KEY", ""),
		},
		Worker: WorkerConfig{
			SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 2500*time.Millisecond),
			StepPause:      getEnvDuration("STEP_PAUSE", 500*time.Millisecond),
			LogCooldown:    getEnvDuration("LOG_COOLDOWN", time.Minute),
			SubmitCooldown: getEnvDuration("SUBMIT_COOLDOWN", time.Minute),
			ReleaseLease:   getEnvDuration("RELEASE_CLAIM_LEASE", 5*time.Minute),

			ReceiptTimeout:         getEnvDuration("RECEIPT_TIMEOUT", time.Minute),
			ReceiptPollInterval:    getEnvDuration("RECEIPT_POLL_INTERVAL", 5*time.Second),
			ReceiptFallbackTimeout: getEnvDuration("RECEIPT_FALLBACK_TIMEOUT", 2*time.Minute),

			GasLimitMultiplierBps:    int64(getEnvInt("GAS_LIMIT_MULTIPLIER_BPS", 15000)),
			GasPriceMultiplierBps:    int64(getEnvInt("GAS_PRICE_MULTIPLIER_BPS", 10200)),
			GasPriceCeilingBps:       int64(getEnvInt("GAS_PRICE_CEILING_BPS", 13000)),
			EstimateGasMultiplierBps: int64(getEnvInt("ESTIMATE_GAS_MULTIPLIER_BPS", 11000)),

			UnmatchedLogEscalateAfter: getEnvDuration("UNMATCHED_LOG_ESCALATE_AFTER", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Chains: make(map[uint64]ChainConfig),
	}

	// Load chain configurations
	if err := loadChainConfigs(cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadChainConfigs reads CHAIN_IDS and the CHAIN_<ID>_* variables for each id
func loadChainConfigs(cfg *Config) error {
	for _, raw := range splitAndTrim(getEnv("CHAIN_IDS", "")) {
		chainID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chain id %q in CHAIN_IDS: %w", raw, err)
		}

		prefix := fmt.Sprintf("CHAIN_%d_", chainID)
		rpc := getEnv(prefix+"RPC_ENDPOINT", "")
		if rpc == "" {
			return fmt.Errorf("%sRPC_ENDPOINT is required", prefix)
		}

		cfg.Chains[chainID] = ChainConfig{
			ChainID:     chainID,
			Name:        getEnv(prefix+"NAME", fmt.Sprintf("chain-%d", chainID)),
			RPCEndpoint: rpc,
		}
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	if c.Worker.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	// The applied gas price must stay below its safety ceiling
	if c.Worker.GasPriceCeilingBps <= c.Worker.GasPriceMultiplierBps {
		return fmt.Errorf("gas price ceiling (%d bps) must exceed gas price multiplier (%d bps)",
			c.Worker.GasPriceCeilingBps, c.Worker.GasPriceMultiplierBps)
	}

	return nil
}

// ValidateAgent checks the settings only the sweeping agent needs
func (c *Config) ValidateAgent() error {
	if c.Agent.PrivateKey == "" {
		return fmt.Errorf("agent private key is required")
	}

	if c.Exchange.Key == "" || c.Exchange.Secret == "" || c.Exchange.Passphrase == "" {
		return fmt.Errorf("exchange key, secret and passphrase are required")
	}

	if len(c.Exchange.AllowedWithdrawTo) == 0 {
		return fmt.Errorf("at least one allowed withdraw address is required")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitAndTrim splits a comma-separated string and drops empty entries
func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
