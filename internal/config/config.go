package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	App      App      `mapstructure:"app"`
	Binance  Binance  `mapstructure:"binance"`
	Engine   Engine   `mapstructure:"engine"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// App holds application-level settings.
type App struct {
	Name string `mapstructure:"name"`
	Mode string `mapstructure:"mode"` // simulation | real
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Engine holds the configuration for the cycle scheduler and indicator sync.
type Engine struct {
	TickInterval   int    `mapstructure:"tick_interval"`   // seconds between cycles
	SyncInterval   int    `mapstructure:"sync_interval"`   // min seconds between indicator syncs per symbol
	CandleInterval string `mapstructure:"candle_interval"` // e.g. 5m
	CandleLimit    int    `mapstructure:"candle_limit"`    // klines fetched per sync
	StartRunning   bool   `mapstructure:"start_running"`   // initial system_running state
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Simulated reports whether trades should be recorded as simulated fills.
func (a App) Simulated() bool {
	return a.Mode != "real"
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("app.name", "bbot")
	viper.SetDefault("app.mode", "simulation")
	viper.SetDefault("binance.testnet", true)
	viper.SetDefault("binance.rate_limit", 20) // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5)
	viper.SetDefault("binance.timeout_seconds", 10)
	viper.SetDefault("engine.tick_interval", 5)
	viper.SetDefault("engine.sync_interval", 60)
	viper.SetDefault("engine.candle_interval", "5m")
	viper.SetDefault("engine.candle_limit", 200)
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("database.dsn", "data/bbot.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
