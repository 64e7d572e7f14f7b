package transporter

import (
	"errors"
)

// MessageType values match RFC 6455 opcodes, and therefore gorilla's constants
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

func (m MessageType) String() string {
	switch m {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// ErrNotConnected is how a Channel reports that the connection ended cleanly. Every other error
// out of Receive means the connection failed.
var ErrNotConnected = errors.New("channel is not connected")

// Channel is a raw duplex websocket. Implementations classify their own transport errors so that
// callers only ever need to check for ErrNotConnected.
//
// One goroutine may Receive while another calls Send or Close; Send itself is not safe for
// concurrent use.
type Channel interface {
	Receive() (MessageType, []byte, error)
	Send(messageType MessageType, data []byte) error

	// Close starts the close handshake with a native close code. Calling it more than once is
	// harmless.
	Close(code int, reason string) error

	// Abort drops the connection without a handshake
	Abort()

	// CloseFrame returns the first close frame sent or received. It is available as soon as
	// either side starts closing, which can be before Done is closed.
	CloseFrame() (code int, reason string, ok bool)
	Done() <-chan struct{}
}
