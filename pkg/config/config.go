package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type AppConfig struct {
	Port      string `mapstructure:"port"`
	Env       string `mapstructure:"env"` // e.g., "local", "prod"
	StaticDir string `mapstructure:"static_dir"`
}

type ServerConfig struct {
	// Tickers is the fixed symbol universe; prices exist for exactly
	// these symbols and the set never changes after startup.
	Tickers      []string      `mapstructure:"tickers"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	LogCapacity  int           `mapstructure:"log_capacity"`
	FeedMode     string        `mapstructure:"feed_mode"` // "local" or "kafka"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	NumWorkers int      `mapstructure:"num_workers"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

const (
	FeedModeLocal = "local"
	FeedModeKafka = "kafka"
)

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	// This ensures variables like APP_PORT are available as real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.static_dir", "")

	v.SetDefault("server.tickers", []string{"GOOG", "TSLA", "AMZN", "META", "NVDA"})
	v.SetDefault("server.tick_interval", time.Second)
	v.SetDefault("server.log_capacity", 100)
	v.SetDefault("server.feed_mode", FeedModeLocal)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "tickerhub-server")
	v.SetDefault("kafka.num_workers", 4)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.limit", 20)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("logger.level", "info")

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env", "app.static_dir")
	bindEnv(v, "server.tickers", "server.tick_interval", "server.log_capacity", "server.feed_mode")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.num_workers")
	bindEnv(v, "ratelimit.enabled", "ratelimit.limit", "ratelimit.window")
	bindEnv(v, "logger.level")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if len(cfg.Server.Tickers) == 0 {
		return nil, fmt.Errorf("server tickers cannot be empty")
	}
	if cfg.Server.TickInterval <= 0 {
		return nil, fmt.Errorf("server tick_interval must be positive")
	}
	if cfg.Server.FeedMode != FeedModeLocal && cfg.Server.FeedMode != FeedModeKafka {
		return nil, fmt.Errorf("unknown feed_mode %q", cfg.Server.FeedMode)
	}
	if cfg.Server.FeedMode == FeedModeKafka && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty in kafka feed mode")
	}

	for i, t := range cfg.Server.Tickers {
		cfg.Server.Tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
