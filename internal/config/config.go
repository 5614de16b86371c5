// Package config loads the recognized configuration keys of spec.md §6
// (and the ambient keys SPEC_FULL.md §6 adds) from defaults, an optional
// YAML file, environment variables, and CLI flags. It is grounded on the
// vocdoni-davinci-node example's spf13/viper + spf13/pflag wiring,
// generalizing the teacher's own internal/app.AppConfig JSON-file settings
// object (arcsign) into a layered config source.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// GasBounds are the per-chain gwei bounds GasPolicy enforces.
type GasBounds struct {
	MinGwei       float64 `mapstructure:"min_gwei"`
	MaxGwei       float64 `mapstructure:"max_gwei"`
	WarnGwei      float64 `mapstructure:"warn_gwei"`
	EmergencyGwei float64 `mapstructure:"emergency_gwei"`
}

// ChainConfig is one entry of the configured chain list, which ChainRegistry
// turns into immutable models.ChainEntry values at startup.
type ChainConfig struct {
	ID                string    `mapstructure:"id"`
	NumericChainID    int64     `mapstructure:"numeric_chain_id"`
	RPCPrimary        string    `mapstructure:"rpc_primary"`
	RPCBackups        []string  `mapstructure:"rpc_backups"`
	ForwarderContract string    `mapstructure:"forwarder_contract"`
	RelayEndpoint     string    `mapstructure:"relay_endpoint"`
	ExplorerBase      string    `mapstructure:"explorer_base"`
	NativeSymbol      string    `mapstructure:"native_symbol"`
	NativeDecimals    uint8     `mapstructure:"native_decimals"`
	Gas               GasBounds `mapstructure:"gas"`
}

// Config is the fully resolved configuration for a payment-core process.
type Config struct {
	MaxOfflineDuration time.Duration `mapstructure:"max_offline_duration"`
	WarningThreshold   time.Duration `mapstructure:"warning_threshold"`
	CleanupPeriod      time.Duration `mapstructure:"cleanup_period"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`

	MaxPasswordAttempts int           `mapstructure:"max_password_attempts"`
	LockoutDuration     time.Duration `mapstructure:"lockout_duration"`

	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	PayloadMaxAge       time.Duration `mapstructure:"payload_max_age"`
	PayloadMaxAgeStrict time.Duration `mapstructure:"payload_max_age_strict"`

	FreshBalanceTTL time.Duration `mapstructure:"fresh_balance_ttl"`

	LogLevel  string `mapstructure:"log.level"`
	LogFormat string `mapstructure:"log.format"`

	StorageRootDir string `mapstructure:"storage.root_dir"`

	Chains []ChainConfig `mapstructure:"chains"`
}

// Defaults mirrors spec.md §6's recognized configuration options.
func Defaults() *Config {
	return &Config{
		MaxOfflineDuration: 24 * time.Hour,
		WarningThreshold:   12 * time.Hour,
		CleanupPeriod:      time.Hour,
		MaxRetries:         3,
		RetryDelay:         30 * time.Minute,

		MaxPasswordAttempts: 5,
		LockoutDuration:     5 * time.Minute,

		SessionTimeout: 5 * time.Minute,

		PayloadMaxAge:       30 * time.Minute,
		PayloadMaxAgeStrict: 5 * time.Minute,

		FreshBalanceTTL: 5 * time.Minute,

		LogLevel:  "info",
		LogFormat: "json",

		StorageRootDir: "./airchainpay-data",
	}
}

// Load resolves configuration from (in increasing precedence): built-in
// defaults, an optional YAML file at configPath, AIRCHAINPAY_*-prefixed
// environment variables, and flags already registered on fs.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AIRCHAINPAY")
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("max_offline_duration", defaults.MaxOfflineDuration)
	v.SetDefault("warning_threshold", defaults.WarningThreshold)
	v.SetDefault("cleanup_period", defaults.CleanupPeriod)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("retry_delay", defaults.RetryDelay)
	v.SetDefault("max_password_attempts", defaults.MaxPasswordAttempts)
	v.SetDefault("lockout_duration", defaults.LockoutDuration)
	v.SetDefault("session_timeout", defaults.SessionTimeout)
	v.SetDefault("payload_max_age", defaults.PayloadMaxAge)
	v.SetDefault("payload_max_age_strict", defaults.PayloadMaxAgeStrict)
	v.SetDefault("fresh_balance_ttl", defaults.FreshBalanceTTL)
	v.SetDefault("log.level", defaults.LogLevel)
	v.SetDefault("log.format", defaults.LogFormat)
	v.SetDefault("storage.root_dir", defaults.StorageRootDir)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, err
			}
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	// Dotted keys sit in nested sections of viper's settings map, where the
	// flat mapstructure tags above do not reach, so they are read by key.
	cfg.LogLevel = v.GetString("log.level")
	cfg.LogFormat = v.GetString("log.format")
	cfg.StorageRootDir = v.GetString("storage.root_dir")
	return cfg, nil
}
