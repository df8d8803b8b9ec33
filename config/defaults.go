package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.tcpPort", 0)
	v.SetDefault("server.readTimeout", 15)
	v.SetDefault("server.writeTimeout", 15)
	v.SetDefault("server.shutdownTimeout", 10)
	v.SetDefault("server.maxUploadMB", 20)

	// Storage
	v.SetDefault("storage.dir", "./storage")

	// Auth
	v.SetDefault("auth.mode", "token")
	v.SetDefault("auth.token", "") // open system unless set
	v.SetDefault("auth.jwtSecret", "default-secret")
	v.SetDefault("auth.revocationListKey", "jwt:revoked")

	// Redis
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 20)
	v.SetDefault("redis.poolTimeout", 5)

	// Broker
	v.SetDefault("broker.type", "none")
	v.SetDefault("broker.channel", "scanhub-events")
	v.SetDefault("broker.kafka.brokers", []string{})
	v.SetDefault("broker.kafka.groupID", "scanhub")

	// Presence
	v.SetDefault("presence.enabled", false)
	v.SetDefault("presence.ttl", 90)

	// WebSocket
	v.SetDefault("websocket.messageSizeLimit", 1<<20)
	v.SetDefault("websocket.handshakeTimeout", 10)
	v.SetDefault("websocket.pingInterval", 25)
	v.SetDefault("websocket.writeTimeout", 10)
	v.SetDefault("websocket.sendBuffer", 256)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
