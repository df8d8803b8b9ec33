package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/abdelmounim-dev/scanhub/api"
	"github.com/abdelmounim-dev/scanhub/auth"
	"github.com/abdelmounim-dev/scanhub/broker"
	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/hub"
	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/metrics"
	"github.com/abdelmounim-dev/scanhub/ndjson"
	"github.com/abdelmounim-dev/scanhub/server"
	"github.com/abdelmounim-dev/scanhub/services"
	"github.com/abdelmounim-dev/scanhub/session"
	"github.com/abdelmounim-dev/scanhub/store"
	"github.com/abdelmounim-dev/scanhub/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scanhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaultEnv := os.Getenv("ENVIRONMENT")
	if defaultEnv == "" {
		defaultEnv = "dev"
	}
	env := pflag.String("env", defaultEnv, "configuration environment (reads config.<env>.yaml)")
	configDirs := pflag.StringSlice("config-dir", nil, "directories searched for the config file (default ./configs and .)")
	pflag.Parse()

	if err := config.Initialize(*env, *configDirs...); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	cfg := config.Get()
	logger := config.NewLogger(cfg.Log, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Unique ID for this hub instance, stamped on relayed events and
	// presence records.
	serverID := uuid.New().String()
	logger.Info("Starting scanhub", "serverId", serverID, "env", *env, "storage", cfg.Storage.Dir)

	cache, err := store.OpenCache(filepath.Join(cfg.Storage.Dir, "students_cache.json"), logger)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	state, err := store.OpenState(filepath.Join(cfg.Storage.Dir, "state.json"), logger)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	events, err := journal.Open(filepath.Join(cfg.Storage.Dir, "events.jsonl"), logger)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = services.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer services.CloseRedisClient(redisClient)
		logger.Info("Connected to Redis", "addr", cfg.Redis.Address)
	}

	var authenticator auth.Authenticator
	switch strings.ToLower(cfg.Auth.Mode) {
	case "jwt":
		authenticator = auth.NewJWTValidator(&cfg.Auth, redisClient, logger)
		logger.Info("Register tokens are validated as JWTs")
	default:
		shared := auth.NewSharedToken(cfg.Auth.Token)
		if !shared.Enabled() {
			logger.Warn("No node token configured; any node may register")
		}
		authenticator = shared
	}

	opts := []hub.Option{hub.WithServerID(serverID)}

	var relay *broker.Relay
	messageBroker, err := newBroker(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	if messageBroker != nil {
		defer messageBroker.Close()
		relay = broker.NewRelay(messageBroker, cfg.Broker.Channel, serverID, logger)
		opts = append(opts, hub.WithRelay(relay))
		logger.Info("Relaying events", "broker", messageBroker.Type(), "channel", cfg.Broker.Channel)
	}

	if cfg.Presence.Enabled {
		presence := session.NewRedisStore(redisClient, serverID, time.Duration(cfg.Presence.TTL)*time.Second)
		opts = append(opts, hub.WithPresence(presence))
	}

	handler := hub.NewHandler(hub.NewRegistry(authenticator), cache, state, events, logger, opts...)

	clients := websocket.NewClientManager()
	wsHandler := websocket.NewHandler(handler, clients, &cfg.WebSocket, logger)
	adminAPI := api.New(handler, state, events.Path(), cfg.Server.MaxUploadMB, logger)

	var tcp *ndjson.Server
	if cfg.Server.TCPPort != 0 {
		tcp = ndjson.NewServer(handler, &cfg.WebSocket, logger)
	}

	srv := server.NewServer(&cfg.Server, adminAPI.Handler(), wsHandler, clients, tcp, logger)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		defer metricsServer.Close()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	var relayWaiter server.Relay
	if relay != nil {
		relayWaiter = relay
	}
	if err := srv.Shutdown(shutdownCtx, relayWaiter); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func newBroker(cfg *config.AppConfig, redisClient *redis.Client, logger *slog.Logger) (broker.MessageBroker, error) {
	switch strings.ToLower(cfg.Broker.Type) {
	case "redis":
		// The Redis broker re-uses the presence/revocation client.
		return broker.NewRedisBroker(redisClient, logger), nil
	case "kafka":
		b, err := broker.NewKafkaBroker(cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.GroupID, logger)
		if err != nil {
			return nil, fmt.Errorf("creating kafka broker: %w", err)
		}
		return b, nil
	}
	return nil, nil
}
