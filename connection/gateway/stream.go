package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gatewaykit/gatewaylib/connection/compression"
	"github.com/gatewaykit/gatewaylib/connection/transporter"
	"github.com/gatewaykit/gatewaylib/logger"
)

// Stream is the inbound side of a Connection. It does no buffering of its own: every call to
// Next is one read off the channel. It ends for good with io.EOF when the connection closes, or
// with the error that broke it.
type Stream struct {
	logger       *logger.Logger
	channel      transporter.Channel
	decompressor *compression.Decompressor

	// hand undecodable compressed frames to the caller as-is instead of failing the pull
	lenient bool

	pulling  atomic.Bool
	terminal error
}

func newStream(logger *logger.Logger, channel transporter.Channel, decompressor *compression.Decompressor, lenient bool) *Stream {
	return &Stream{
		logger:       logger,
		channel:      channel,
		decompressor: decompressor,
		lenient:      lenient,
	}
}

// Next blocks until the next message arrives. Cancelling ctx mid-read drops the connection,
// since a websocket read cannot be abandoned halfway through.
//
// A *DecompressError only spoils the frame it came from and the stream can still be read. If it
// wraps compression.ErrStreamBroken every later binary frame will fail the same way.
func (s *Stream) Next(ctx context.Context) (Message, error) {
	if !s.pulling.CompareAndSwap(false, true) {
		return nil, ErrConcurrentPull
	}
	defer s.pulling.Store(false)

	if s.terminal != nil {
		return nil, s.terminal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, s.channel.Abort)
	defer stop()

	message, err := s.pull()

	var decompressErr *DecompressError
	switch {
	case err == nil:
	case errors.As(err, &decompressErr):
		s.logger.Errorf("Dropping compressed frame: %s", err)
	case ctx.Err() != nil:
		s.terminal = ctx.Err()
		err = s.terminal
	default:
		s.terminal = err
	}

	return message, err
}

func (s *Stream) pull() (Message, error) {
	for {
		messageType, data, err := s.channel.Receive()
		if errors.Is(err, transporter.ErrNotConnected) {
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}

		switch messageType {
		case transporter.TextMessage:
			return TextMessage{Text: string(data)}, nil

		case transporter.BinaryMessage:
			if s.decompressor == nil || len(data) == 0 {
				return BinaryMessage{Data: data}, nil
			}

			inflated, err := s.decompressor.Decompress(data)
			switch {
			case err == nil:
				return BinaryMessage{Data: inflated, Inflated: true}, nil
			case errors.Is(err, compression.ErrIncompleteMessage):
				s.logger.Tracef("Compressed message continues in the next frame")
			case s.lenient:
				s.logger.Warnf("Decompression failed, returning raw data: %s", err)
				return BinaryMessage{Data: data}, nil
			default:
				return nil, err
			}

		default:
			return nil, fmt.Errorf("received unsupported %s message", messageType)
		}
	}
}
