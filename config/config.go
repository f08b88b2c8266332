// Package config loads greendish settings: built-in defaults, then an
// optional TOML file, then GREENDISH_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/contract"
	"github.com/vitwit/greendish/registry"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/utils"
)

const envPrefix = "GREENDISH_"

// Config holds all configuration for greendish
type Config struct {
	Contract ContractConfig `toml:"contract"`
	Network  NetworkConfig  `toml:"network"`
	Wallet   WalletConfig   `toml:"wallet"`
	Fallback FallbackConfig `toml:"fallback"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Server   ServerConfig   `toml:"server"`
}

// ContractConfig locates the GreenDish contract
type ContractConfig struct {
	Address             string        `toml:"address" validate:"required,ethaddr"`
	GasLimit            uint64        `toml:"gas_limit" validate:"gte=21000"`
	RegistrationTimeout time.Duration `toml:"registration_timeout" validate:"gte=0"`
}

// NetworkConfig selects the target chain and how it is reached
type NetworkConfig struct {
	TargetChainID uint64 `toml:"target_chain_id" validate:"required"`
	// Adapter is "ethclient" or "wallet".
	Adapter      string        `toml:"adapter" validate:"oneof=ethclient wallet"`
	NetworksFile string        `toml:"networks_file"`
	ProbeTimeout time.Duration `toml:"probe_timeout" validate:"gte=0"`
}

// WalletConfig configures the key-backed wallet. The key is read from the
// environment only.
type WalletConfig struct {
	PrivateKey string `toml:"-"`
	ChainID    uint64 `toml:"chain_id"`
}

// FallbackConfig limits the direct eth_getCode fallback
type FallbackConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
	Burst             int     `toml:"burst" validate:"gte=1"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

// MetricsConfig toggles the Prometheus recorder
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr           string        `toml:"addr" validate:"required"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Contract: ContractConfig{
			Address:             contract.DefaultAddress,
			GasLimit:            contract.DefaultGasLimit,
			RegistrationTimeout: 2 * time.Minute,
		},
		Network: NetworkConfig{
			TargetChainID: registry.AxiomeshGeminiChainID,
			Adapter:       clients.AdapterEthClient,
			ProbeTimeout:  30 * time.Second,
		},
		Wallet: WalletConfig{
			ChainID: registry.AxiomeshGeminiChainID,
		},
		Fallback: FallbackConfig{
			RequestsPerSecond: 5,
			Burst:             2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   3 * time.Minute,
			RequestTimeout: 150 * time.Second,
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("reading config %s", path), err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, types.NewError(types.ErrConfigError, "parsing TOML", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	return utils.ValidateStruct(c, types.ErrConfigError)
}

func (c *Config) applyEnv() {
	c.Contract.Address = getEnv("CONTRACT_ADDRESS", c.Contract.Address)
	c.Contract.GasLimit = getEnvUint("GAS_LIMIT", c.Contract.GasLimit)
	c.Contract.RegistrationTimeout = getEnvDuration("REGISTRATION_TIMEOUT", c.Contract.RegistrationTimeout)

	c.Network.TargetChainID = getEnvUint("TARGET_CHAIN_ID", c.Network.TargetChainID)
	c.Network.Adapter = getEnv("ADAPTER", c.Network.Adapter)
	c.Network.NetworksFile = getEnv("NETWORKS_FILE", c.Network.NetworksFile)
	c.Network.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", c.Network.ProbeTimeout)

	c.Wallet.PrivateKey = getEnv("PRIVATE_KEY", c.Wallet.PrivateKey)
	c.Wallet.ChainID = getEnvUint("WALLET_CHAIN_ID", c.Wallet.ChainID)

	c.Fallback.RequestsPerSecond = getEnvFloat("FALLBACK_RPS", c.Fallback.RequestsPerSecond)
	c.Fallback.Burst = getEnvInt("FALLBACK_BURST", c.Fallback.Burst)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)

	c.Server.Addr = getEnv("LISTEN_ADDR", c.Server.Addr)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if i, err := utils.ParseChainID(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
