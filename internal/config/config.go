// Package config loads host configuration from file, environment and
// defaults.
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"

	"github.com/hiroki077/communication-esp32-tauri/internal/transport"
	"github.com/hiroki077/communication-esp32-tauri/pkg/crypto"
)

// DefaultSeed is the demo key seed both sides fall back to when no key
// material is configured. Real deployments override it.
const DefaultSeed = "ESP32_TAURI_DEMO_KEY_2025"

// Config is the top-level host configuration.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	Crypto CryptoConfig `mapstructure:"crypto"`
}

// SerialConfig selects the port.
type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

// CryptoConfig holds key material. Key (hex-encoded raw bytes) takes
// precedence over Seed when both are set. Both peers must be provisioned
// with identical material or every encrypted exchange fails authentication.
type CryptoConfig struct {
	Seed      string `mapstructure:"seed"`
	Key       string `mapstructure:"key"`
	Encrypted bool   `mapstructure:"encrypted"`
}

// Load reads configuration from cfgFile if given, otherwise from
// espbridge.toml in the usual locations, with ESPBRIDGE_* environment
// variables layered on top.
func Load(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("serial.baud", transport.DefaultBaud)
	v.SetDefault("crypto.seed", DefaultSeed)
	v.SetDefault("crypto.encrypted", true)

	v.SetConfigType("toml")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("espbridge")
		v.AddConfigPath("$HOME/.config/espbridge")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ESPBRIDGE")
	v.AutomaticEnv()
	v.BindEnv("serial.port", "ESPBRIDGE_SERIAL_PORT")
	v.BindEnv("crypto.seed", "ESPBRIDGE_CRYPTO_SEED")
	v.BindEnv("crypto.key", "ESPBRIDGE_CRYPTO_KEY")

	// Config file is optional.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// System builds the cipher from the configured key material.
func (c CryptoConfig) System() (*crypto.System, error) {
	if c.Key != "" {
		raw, err := hex.DecodeString(c.Key)
		if err != nil {
			return nil, fmt.Errorf("crypto.key is not valid hex: %w", err)
		}
		return crypto.NewFromKey(raw)
	}
	return crypto.NewFromSeed(c.Seed), nil
}
