package types

import "errors"

var (
	// ErrSessionNotFound is returned by every store and by the gateway when
	// a session identifier (or key) is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSchemaNotFound is returned when a category name has no registered
	// schema.
	ErrSchemaNotFound = errors.New("schema not found")
)
