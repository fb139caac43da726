package postgres

import "errors"

var (
	// ErrMissingConnectionURL is returned when the connection URL is not provided.
	ErrMissingConnectionURL = errors.New("postgres: connection URL is required")

	// ErrMissingSlotName is returned when the replication slot name is not provided.
	ErrMissingSlotName = errors.New("postgres: replication slot name is required")

	// ErrMissingPublicationName is returned when the publication name is not provided.
	ErrMissingPublicationName = errors.New("postgres: publication name is required")

	// ErrConnectionFailed is returned when the connection to PostgreSQL fails.
	ErrConnectionFailed = errors.New("postgres: connection failed")

	// ErrReplicationFailed is returned when replication streaming fails.
	ErrReplicationFailed = errors.New("postgres: replication failed")

	// ErrNotRecord is returned by Deserialize for payloads that carry no row change.
	ErrNotRecord = errors.New("postgres: payload is not a change record")
)
