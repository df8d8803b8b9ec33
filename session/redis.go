package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements the Store interface using Redis.
type RedisStore struct {
	client   *redis.Client
	serverID string
	ttl      time.Duration
}

// NewRedisStore creates a new RedisStore. Keys are scoped by serverID
// because node IDs are only unique within one hub process.
func NewRedisStore(client *redis.Client, serverID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:   client,
		serverID: serverID,
		ttl:      ttl,
	}
}

func (s *RedisStore) key(nodeID string) string {
	return fmt.Sprintf("presence:%s:%s", s.serverID, nodeID)
}

// Create stores a presence record in Redis with a TTL.
func (s *RedisStore) Create(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.client.Set(ctx, s.key(session.NodeID), data, s.ttl).Err()
}

// Get retrieves a presence record from Redis.
func (s *RedisStore) Get(ctx context.Context, nodeID string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(nodeID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Not found is not an error, just means no session
		}
		return nil, err
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes a presence record from Redis.
func (s *RedisStore) Delete(ctx context.Context, nodeID string) error {
	return s.client.Del(ctx, s.key(nodeID)).Err()
}

// RefreshTTL updates the expiration time of a presence key. A missing key
// is a no-op.
func (s *RedisStore) RefreshTTL(ctx context.Context, nodeID string) error {
	return s.client.Expire(ctx, s.key(nodeID), s.ttl).Err()
}
