package gateway

import (
	"errors"
	"fmt"

	"github.com/gatewaykit/gatewaylib/connection/compression"
)

var (
	// ErrConnectionClosed is returned for writes after the writer has been closed
	ErrConnectionClosed = errors.New("connection closed")

	ErrInvalidAddress = errors.New("invalid gateway address")

	// ErrConcurrentPull means two goroutines tried to read the same stream at once
	ErrConcurrentPull = errors.New("inbound stream is already being read")
)

// DecompressError means a compressed binary frame could not be inflated
type DecompressError = compression.DecompressError

// ConnectionFailedError means the websocket could not be opened at all
type ConnectionFailedError struct {
	Cause error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("failed to connect to gateway: %s", e.Cause)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Cause }
