// Package config loads service configuration from the environment and
// an optional config file.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds everything the server needs at startup
type Config struct {
	ServerAddress string
	DatabasePath  string
	GrantsPath    string
	ProxyBaseURL  string
	OrdersBaseURL string
	BusinessName  string
	LogLevel      string
}

// Load reads configuration. Environment variables win over the config
// file; every key has a default so a bare environment still boots.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_ADDRESS", "0.0.0.0:12212")
	v.SetDefault("DATABASE_PATH", "posprint.db")
	v.SetDefault("GRANTS_PATH", "device_grants.json")
	v.SetDefault("PROXY_BASE_URL", "")
	v.SetDefault("ORDERS_BASE_URL", "")
	v.SetDefault("BUSINESS_NAME", "")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetConfigName("posprint")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/posprint")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return Config{
		ServerAddress: v.GetString("SERVER_ADDRESS"),
		DatabasePath:  v.GetString("DATABASE_PATH"),
		GrantsPath:    v.GetString("GRANTS_PATH"),
		ProxyBaseURL:  v.GetString("PROXY_BASE_URL"),
		OrdersBaseURL: v.GetString("ORDERS_BASE_URL"),
		BusinessName:  v.GetString("BUSINESS_NAME"),
		LogLevel:      v.GetString("LOG_LEVEL"),
	}, nil
}
