package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Broker    BrokerConfig
	Presence  PresenceConfig
	WebSocket WebSocketConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	TCPPort         int // NDJSON transport; 0 disables it
	ReadTimeout     int // Seconds
	WriteTimeout    int // Seconds
	ShutdownTimeout int // Seconds
	MaxUploadMB     int
}

type StorageConfig struct {
	Dir string
}

type AuthConfig struct {
	Mode              string // "token" or "jwt"
	Token             string // shared register token; empty means open
	JWTSecret         string
	RevocationListKey string
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int // Seconds
}

type BrokerConfig struct {
	Type    string // "none", "redis" or "kafka"
	Channel string
	Kafka   KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type PresenceConfig struct {
	Enabled bool
	TTL     int // Seconds
}

type WebSocketConfig struct {
	MessageSizeLimit int
	HandshakeTimeout int // Seconds
	PingInterval     int // Seconds
	WriteTimeout     int // Seconds
	SendBuffer       int // queued outbound messages per connection
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LogConfig struct {
	Level  string
	Format string
}

// NeedsRedis reports whether any enabled component talks to Redis.
func (c *AppConfig) NeedsRedis() bool {
	return c.Presence.Enabled ||
		strings.EqualFold(c.Broker.Type, "redis") ||
		strings.EqualFold(c.Auth.Mode, "jwt")
}

var (
	instance *AppConfig
	once     sync.Once
)

// Load reads config.<env>.yaml from paths (default ./configs and .), applies
// defaults and environment overrides, and validates the result. A missing
// file is not an error; defaults and environment still apply.
func Load(env string, paths ...string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("SCANHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Initialize loads the process-wide configuration once.
func Initialize(env string, paths ...string) error {
	var initErr error
	once.Do(func() {
		instance, initErr = Load(env, paths...)
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
