package gateway

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/gatewaykit/gatewaylib/connection/closecode"
	"github.com/gatewaykit/gatewaylib/connection/transporter"
	"github.com/gatewaykit/gatewaylib/logger"
)

// Writer is the only thing allowed to write to a Connection's channel. Writes and the close
// handshake are serialized and once Close has run nothing else goes out.
type Writer struct {
	logger  *logger.Logger
	channel transporter.Channel

	lock   sync.Mutex
	closed bool
}

func newWriter(logger *logger.Logger, channel transporter.Channel) *Writer {
	return &Writer{
		logger:  logger,
		channel: channel,
	}
}

func (w *Writer) Write(frame Frame) error {
	messageType, data, err := w.encode(frame)
	if err != nil {
		return err
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return ErrConnectionClosed
	}

	if err := w.channel.Send(messageType, data); errors.Is(err, transporter.ErrNotConnected) {
		return ErrConnectionClosed
	} else if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// Close sends a close frame with code and reason, an empty reason sends none. Only the first
// call does anything.
func (w *Writer) Close(code closecode.CloseCode, reason string) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	native := code.ToNative()
	if native != int(code) {
		w.logger.Infof("Close code %s cannot be sent as is, closing with %d instead", code, native)
	}

	return w.channel.Close(native, reason)
}

func (w *Writer) Closed() bool {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.closed
}

func (w *Writer) encode(frame Frame) (transporter.MessageType, []byte, error) {
	switch f := frame.(type) {
	case TextFrame:
		return transporter.TextMessage, []byte(f.Text), nil
	case BinaryFrame:
		return transporter.BinaryMessage, f.Data, nil
	case CustomFrame:
		if _, err := ParseOpcode(byte(f.Opcode)); err != nil {
			return 0, nil, fmt.Errorf("cannot write custom frame: %w", err)
		}
		if !f.Fin {
			w.logger.Debugf("Sending non-final %s fragment as a complete message", f.Opcode)
		}

		if f.Opcode == OpText && utf8.Valid(f.Data) {
			return transporter.TextMessage, f.Data, nil
		}
		return transporter.BinaryMessage, f.Data, nil
	default:
		return 0, nil, fmt.Errorf("cannot write unsupported frame %T", frame)
	}
}
