package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"

	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/domain"
)

// NodeClaims are the claims of a station token. Roles, when present,
// limits the roles the holder may register as. The jti is checked against
// the Redis revocation list.
type NodeClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AllowsRole reports whether the claims permit role. No roles claim means
// any role.
func (c *NodeClaims) AllowsRole(role domain.Role) bool {
	if len(c.Roles) == 0 {
		return true
	}
	for _, r := range c.Roles {
		if r == "*" || domain.Role(r) == role {
			return true
		}
	}
	return false
}

// JWTValidator authenticates register tokens that are HMAC-signed JWTs.
type JWTValidator struct {
	cfg         *config.AuthConfig
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewJWTValidator creates a validator. redisClient may be nil, which turns
// off the revocation check.
func NewJWTValidator(cfg *config.AuthConfig, redisClient *redis.Client, logger *slog.Logger) *JWTValidator {
	return &JWTValidator{
		cfg:         cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (v *JWTValidator) Authenticate(ctx context.Context, token string, role domain.Role) error {
	claims, err := v.ValidateToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !claims.AllowsRole(role) {
		return fmt.Errorf("%w: role %s not permitted", domain.ErrUnauthorized, role)
	}
	return nil
}

// ValidateToken parses and validates a JWT string: signature, standard
// claims such as expiry, and the revocation list.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*NodeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &NodeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse/validation error: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(*NodeClaims)
	if !ok {
		return nil, fmt.Errorf("could not cast claims to NodeClaims")
	}

	revoked, err := v.isTokenRevoked(ctx, claims.ID)
	if err != nil {
		// A Redis outage must not lock every station out.
		v.logger.Error("Failed to check token revocation status", "error", err)
	}
	if revoked {
		return nil, fmt.Errorf("token has been revoked")
	}
	return claims, nil
}

func (v *JWTValidator) isTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if v.redisClient == nil || jti == "" {
		if v.redisClient != nil {
			v.logger.Warn("JWT token is missing 'jti' claim, cannot check for revocation")
		}
		return false, nil
	}

	key := fmt.Sprintf("%s:%s", v.cfg.RevocationListKey, jti)
	exists, err := v.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis command failed: %w", err)
	}
	return exists == 1, nil
}
