// Package auth decides whether a register message may bind a role.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/abdelmounim-dev/scanhub/domain"
)

// Authenticator checks the token presented in a register message for the
// role the node asks for. Failures wrap domain.ErrUnauthorized.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, role domain.Role) error
}

// SharedToken accepts exactly one configured token. An empty token disables
// the check.
type SharedToken struct {
	token string
}

// NewSharedToken returns a SharedToken for token.
func NewSharedToken(token string) *SharedToken {
	return &SharedToken{token: token}
}

// Enabled reports whether a token is configured.
func (s *SharedToken) Enabled() bool { return s.token != "" }

func (s *SharedToken) Authenticate(_ context.Context, token string, _ domain.Role) error {
	if s.token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return fmt.Errorf("%w", domain.ErrUnauthorized)
	}
	return nil
}
