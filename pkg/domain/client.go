package domain

import (
	"context"
)

// Client represents a live connection held by the hub
type Client interface {
	// ID returns the connection identifier, unique per physical connection
	ID() string

	// Send queues an encoded frame for delivery to the connection.
	// Frames queued by one goroutine are written in the order they were queued.
	Send(ctx context.Context, message []byte) error

	// Close closes the client connection
	Close() error

	// Context returns a context that is cancelled once the connection is gone
	Context() context.Context
}

// MessageHandler is a function that handles inbound frames of a connection
type MessageHandler func(message []byte) error
