// Package postgres provides a PostgreSQL change-event engine backed by
// pgstream logical replication, together with the connector operations a
// partition reader needs to interpret its events.
package postgres

import (
	"time"
)

// Config holds configuration for the PostgreSQL engine.
type Config struct {
	// Name is a unique identifier for this source.
	Name string

	// ConnectionURL is the PostgreSQL connection URL.
	ConnectionURL string

	// SlotName is the name of the replication slot.
	SlotName string

	// PublicationName is the name of the publication to subscribe to.
	PublicationName string

	// Tables is a list of tables to capture (empty means all tables in publication).
	Tables []string

	// Heartbeat is the interval at which idle-stream heartbeat events are
	// emitted when the server sends no keepalives.
	Heartbeat time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:            "postgres",
		SlotName:        "iris_cdc",
		PublicationName: "iris_pub",
		Heartbeat:       10 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ConnectionURL == "" {
		return ErrMissingConnectionURL
	}
	if c.SlotName == "" {
		return ErrMissingSlotName
	}
	if c.PublicationName == "" {
		return ErrMissingPublicationName
	}
	return nil
}
