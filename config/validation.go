package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	if c.Server.TCPPort < 0 || c.Server.TCPPort > 65535 {
		return errors.New("invalid tcp port")
	}
	if c.Server.TCPPort != 0 && c.Server.TCPPort == c.Server.Port {
		return errors.New("tcp port must differ from server port")
	}
	if c.Server.MaxUploadMB < 1 {
		return errors.New("max upload size must be at least 1 MB")
	}

	if strings.TrimSpace(c.Storage.Dir) == "" {
		return errors.New("storage.dir must be set")
	}

	switch strings.ToLower(c.Auth.Mode) {
	case "token":
	case "jwt":
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth.mode is jwt")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s. Must be 'token' or 'jwt'", c.Auth.Mode)
	}

	switch strings.ToLower(c.Broker.Type) {
	case "none", "":
	case "redis":
		if c.Broker.Channel == "" {
			return errors.New("broker.channel must be configured for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
		if c.Broker.Channel == "" {
			return errors.New("broker.channel must be configured for kafka broker")
		}
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'none', 'redis' or 'kafka'", c.Broker.Type)
	}

	if c.NeedsRedis() && c.Redis.Address == "" {
		return errors.New("redis address must be specified")
	}

	if c.Presence.Enabled && c.Presence.TTL <= c.WebSocket.PingInterval {
		return errors.New("presence TTL should be greater than ping interval")
	}

	if c.WebSocket.PingInterval < 1 {
		return errors.New("ping interval must be at least 1 second")
	}
	if c.WebSocket.HandshakeTimeout < 1 {
		return errors.New("handshake timeout must be at least 1 second")
	}
	if c.WebSocket.SendBuffer < 1 {
		return errors.New("send buffer must be positive")
	}
	if c.WebSocket.MessageSizeLimit < 1 {
		return errors.New("message size limit must be positive")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	return nil
}

func bindEnvVars(v *viper.Viper) {
	// Server; PORT and HOST are honored for drop-in deployments.
	v.BindEnv("server.port", "SCANHUB_PORT", "PORT")
	v.BindEnv("server.host", "SCANHUB_HOST", "HOST")
	v.BindEnv("server.tcpPort", "SCANHUB_TCP_PORT")

	v.BindEnv("storage.dir", "SCANHUB_STORAGE_DIR")

	// Auth
	v.BindEnv("auth.mode", "SCANHUB_AUTH_MODE")
	v.BindEnv("auth.token", "SCANHUB_AUTH_TOKEN", "NODE_TOKEN")
	v.BindEnv("auth.jwtSecret", "SCANHUB_AUTH_JWT_SECRET")
	v.BindEnv("auth.revocationListKey", "SCANHUB_AUTH_REVOCATION_KEY")

	// Redis
	v.BindEnv("redis.address", "SCANHUB_REDIS_ADDRESS")
	v.BindEnv("redis.password", "SCANHUB_REDIS_PASSWORD")

	// Broker
	v.BindEnv("broker.type", "SCANHUB_BROKER_TYPE")
	v.BindEnv("broker.channel", "SCANHUB_BROKER_CHANNEL")
	v.BindEnv("broker.kafka.brokers", "SCANHUB_KAFKA_BROKERS")
	v.BindEnv("broker.kafka.groupID", "SCANHUB_KAFKA_GROUPID")

	v.BindEnv("presence.enabled", "SCANHUB_PRESENCE_ENABLED")

	v.BindEnv("log.level", "SCANHUB_LOG_LEVEL")
	v.BindEnv("log.format", "SCANHUB_LOG_FORMAT")
}
