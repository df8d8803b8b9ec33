package domain

import "errors"

var (
	// ErrUnauthorized is returned when a register message presents a token
	// the hub does not accept. The connection is closed.
	ErrUnauthorized = errors.New("unauthorized: invalid token")

	// ErrInvalidRole is returned for a role outside first_scan, last_scan
	// and manager.
	ErrInvalidRole = errors.New("invalid role")

	// ErrUnknownNode is returned when an operation names a node that is not
	// (or no longer) connected.
	ErrUnknownNode = errors.New("unknown node")
)
