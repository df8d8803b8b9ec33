package domain

import (
	"fmt"
	"strings"
)

// Role is the declared function of a node. It is the key the broadcast
// router filters on.
type Role string

const (
	RoleFirstScan Role = "first_scan"
	RoleLastScan  Role = "last_scan"
	RoleManager   Role = "manager"
)

// DefaultRole is bound when a register message carries no role.
const DefaultRole = RoleFirstScan

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFirstScan, RoleLastScan, RoleManager:
		return true
	}
	return false
}

// ParseRole maps a client supplied role to a Role. An empty value yields
// DefaultRole; anything outside the closed set is ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRole, nil
	}
	r := Role(strings.ToLower(s))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}
