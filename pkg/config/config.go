package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Source      ChainConfig      `mapstructure:"source"`
	Destination ChainConfig      `mapstructure:"destination"`
	Relayer     RelayerConfig    `mapstructure:"relayer"`
	State       StateConfig      `mapstructure:"state"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gt=0"`
}

// ChainConfig contains connection settings for one chain endpoint
type ChainConfig struct {
	RPCURL         string `mapstructure:"rpc_url" validate:"required,url"`
	ChainID        int64  `mapstructure:"chain_id"`
	BridgeContract string `mapstructure:"bridge_contract" validate:"required,eth_addr"`
}

// RelayerConfig contains relay pipeline settings
type RelayerConfig struct {
	PrivateKey          string        `mapstructure:"private_key" validate:"required,hexadecimal"`
	ConfirmationBlocks  uint64        `mapstructure:"confirmation_blocks"`
	ScanIntervalSeconds int           `mapstructure:"scan_interval_seconds" validate:"gt=0"`
	MaxScanBlocks       uint64        `mapstructure:"max_scan_blocks" validate:"gt=0"`
	HeadSafetyMargin    uint64        `mapstructure:"head_safety_margin"`
	StartBlock          uint64        `mapstructure:"start_block"`
	GasLimit            uint64        `mapstructure:"gas_limit" validate:"gt=0"`
	WaitForReceipt      bool          `mapstructure:"wait_for_receipt"`
	UnhealthyBackoff    time.Duration `mapstructure:"unhealthy_backoff" validate:"gt=0"`
}

// ScanInterval returns the inter-cycle sleep as a duration.
func (c RelayerConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// StateConfig contains durable state file locations
type StateConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables.
// Missing or invalid values are startup errors; nothing degrades silently.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Relayer defaults
	v.SetDefault("relayer.confirmation_blocks", 12)
	v.SetDefault("relayer.scan_interval_seconds", 15)
	v.SetDefault("relayer.max_scan_blocks", 100)
	v.SetDefault("relayer.head_safety_margin", 0)
	v.SetDefault("relayer.gas_limit", 200000)
	v.SetDefault("relayer.wait_for_receipt", false)
	v.SetDefault("relayer.unhealthy_backoff", "60s")

	// State defaults
	v.SetDefault("state.dir", "data")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// bindEnv maps the documented environment variables onto config keys so the
// relayer can run from environment alone, without a config file.
func bindEnv(v *viper.Viper) {
	v.BindEnv("source.rpc_url", "SOURCE_RPC_URL")
	v.BindEnv("destination.rpc_url", "DEST_RPC_URL")
	v.BindEnv("relayer.private_key", "RELAYER_PRIVATE_KEY")
	v.BindEnv("source.bridge_contract", "SOURCE_CONTRACT_ADDRESS")
	v.BindEnv("destination.bridge_contract", "DEST_CONTRACT_ADDRESS")
	v.BindEnv("relayer.confirmation_blocks", "CONFIRMATION_BLOCKS")
	v.BindEnv("relayer.scan_interval_seconds", "SCAN_INTERVAL_SECONDS")
}

func validate(config *Config) error {
	val := validator.New()
	err := val.Struct(config)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		// Report every failed constraint at once so a misconfigured
		// deployment is fixed in one pass, not one restart per field.
		msgs := make([]string, 0, len(verrs))
		for _, verr := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q constraint", verr.Namespace(), verr.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}
