package domain

import "errors"

// Common domain errors
var (
	// ErrRecordNotFound is returned by stores when the requested row does not exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrConnectionClosed is returned when trying to use a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a connection's outbound queue is saturated
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrHubStopped is returned when trying to use a hub that has been stopped
	ErrHubStopped = errors.New("hub stopped")

	// ErrInvalidMessage is returned when an inbound frame cannot be decoded
	ErrInvalidMessage = errors.New("invalid message")
)
