package config

// Package config provides a reusable loader for State Entity configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"stateentity/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Network identifies which Bitcoin network the SE is custodying UTXOs for.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Config represents the unified configuration for a State Entity node. It
// mirrors the recognized options of spec.md §6 plus the options this module
// adds: LocktimeInit and the ambient server options HTTPAddr and LogLevel.
type Config struct {
	Network Network `mapstructure:"network" json:"network"`

	ElectrumServer string `mapstructure:"electrum_server" json:"electrum_server"`
	TestingMode    bool   `mapstructure:"testing_mode" json:"testing_mode"`

	FeeAddress string `mapstructure:"fee_address" json:"fee_address"`
	FeeDeposit uint64 `mapstructure:"fee_deposit" json:"fee_deposit"`
	FeeWithdraw uint64 `mapstructure:"fee_withdraw" json:"fee_withdraw"`

	BlockTimeMS        int `mapstructure:"block_time_ms" json:"block_time_ms"`
	BatchLifetimeSec   int `mapstructure:"batch_lifetime" json:"batch_lifetime"`
	PunishmentDuration int `mapstructure:"punishment_duration" json:"punishment_duration"`

	LocktimeInit int `mapstructure:"locktime_init" json:"locktime_init"`

	Mainstay *MainstayConfig `mapstructure:"mainstay_config" json:"mainstay_config,omitempty"`

	HTTPAddr string `mapstructure:"http_addr" json:"http_addr"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// MainstayConfig configures the external timestamping-service attestation of
// SMT roots (spec.md §4.7). No code in this module reads it: roots are not
// submitted to the timestamping service whether or not it is set.
type MainstayConfig struct {
	BaseURL  string `mapstructure:"base_url" json:"base_url"`
	Position int    `mapstructure:"position" json:"position"`
	Token    string `mapstructure:"token" json:"token"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

func setDefaults() {
	viper.SetDefault("network", string(Regtest))
	viper.SetDefault("testing_mode", true)
	viper.SetDefault("fee_deposit", 300)
	viper.SetDefault("fee_withdraw", 300)
	viper.SetDefault("block_time_ms", 600000)
	viper.SetDefault("batch_lifetime", 3600)
	viper.SetDefault("punishment_duration", 21600)
	viper.SetDefault("locktime_init", 10000)
	viper.SetDefault("http_addr", ":8000")
	viper.SetDefault("log_level", "info")
}

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.SetEnvPrefix("SE")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SE_ENV", ""))
}
