package gateway

import (
	"context"
	"errors"
	"io"

	"gopkg.in/tomb.v2"

	"github.com/gatewaykit/gatewaylib/logger"
)

const inboundBufferSize = 200

// Receiver drains a Connection's Stream on its own goroutine for callers that would rather
// select on a channel than loop over Next
type Receiver struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	stream *Stream

	inbound chan Message
}

func NewReceiver(logger *logger.Logger, conn *Connection) *Receiver {
	r := &Receiver{
		logger:  logger,
		stream:  conn.Inbound(),
		inbound: make(chan Message, inboundBufferSize),
	}

	r.tmb.Go(r.receive)
	return r
}

// Inbound is closed once the receiver stops
func (r *Receiver) Inbound() <-chan Message {
	return r.inbound
}

func (r *Receiver) Done() <-chan struct{} {
	return r.tmb.Dead()
}

// Err is nil if the connection ended cleanly
func (r *Receiver) Err() error {
	return r.tmb.Err()
}

// Close stops receiving. If the connection is still open this drops it, so close the Writer
// first for a clean handshake.
func (r *Receiver) Close(reason error) {
	if r.tmb.Alive() {
		r.logger.Infof("Receiver stopping because: %s", reason)
		r.tmb.Kill(reason)
	}
	r.tmb.Wait()
}

func (r *Receiver) receive() error {
	defer close(r.inbound)
	defer r.logger.Infof("Receiver stopped")

	// a blocked read only notices the tomb dying through its context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.tmb.Dying():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		message, err := r.stream.Next(ctx)

		var decompressErr *DecompressError
		if errors.Is(err, io.EOF) {
			return nil
		} else if errors.As(err, &decompressErr) {
			continue
		} else if err != nil {
			if !r.tmb.Alive() {
				return tomb.ErrDying
			}
			return err
		}

		select {
		case r.inbound <- message:
		case <-r.tmb.Dying():
			return tomb.ErrDying
		}
	}
}
