package gateway

import (
	"fmt"

	"github.com/gatewaykit/gatewaylib/connection/closecode"
)

// Message is something received from the gateway, either a TextMessage or a BinaryMessage
type Message interface {
	isMessage()
}

type TextMessage struct {
	Text string
}

type BinaryMessage struct {
	Data []byte

	// False when the payload is exactly what came off the wire, either because the connection is
	// uncompressed or because inflating it failed in lenient mode
	Inflated bool
}

func (TextMessage) isMessage()   {}
func (BinaryMessage) isMessage() {}

// Frame is something to send to the gateway: a TextFrame, BinaryFrame or CustomFrame
type Frame interface {
	isFrame()
}

type TextFrame struct {
	Text string
}

type BinaryFrame struct {
	Data []byte
}

// CustomFrame names an opcode explicitly. The transport only speaks whole text and binary
// messages, so it is remapped before sending.
type CustomFrame struct {
	Fin    bool
	Opcode Opcode
	Data   []byte
}

func (TextFrame) isFrame()   {}
func (BinaryFrame) isFrame() {}
func (CustomFrame) isFrame() {}

type Opcode uint8

const (
	OpContinuation Opcode = 0
	OpText         Opcode = 1
	OpBinary       Opcode = 2
	OpClose        Opcode = 8
	OpPing         Opcode = 9
	OpPong         Opcode = 10
)

// ParseOpcode accepts only the opcodes RFC 6455 defines
func ParseOpcode(value byte) (Opcode, error) {
	switch op := Opcode(value); op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return op, nil
	default:
		return 0, fmt.Errorf("unknown websocket opcode %d", value)
	}
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// CloseFrame is how a connection was, or should be, closed. Reason is only meaningful when
// HasReason is set; 1005 and 1006 never carry one.
type CloseFrame struct {
	Code      closecode.CloseCode
	Reason    string
	HasReason bool
}

func (c CloseFrame) String() string {
	if c.HasReason {
		return fmt.Sprintf("%s: %q", c.Code, c.Reason)
	}
	return c.Code.String()
}
