/*
Package gateway turns a raw websocket into the two halves a gateway session is built from: a
Stream of decoded inbound messages and a Writer that owns everything outbound. Heartbeats,
identify, resume and rate limiting belong to whoever drives these.

A Connection is good for exactly one websocket. Reconnecting means calling Connect again, which
also starts a fresh decompression context.
*/
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gatewaykit/gatewaylib/connection/closecode"
	"github.com/gatewaykit/gatewaylib/connection/compression"
	"github.com/gatewaykit/gatewaylib/connection/transporter"
	"github.com/gatewaykit/gatewaylib/connection/transporter/websocket"
	"github.com/gatewaykit/gatewaylib/logger"
)

type Options struct {
	Address string

	// Binary frames are chunks of one zlib stream
	Compress bool

	// Return frames that fail to inflate as raw bytes rather than as a *DecompressError
	LenientDecompression bool

	Headers   http.Header
	Websocket websocket.Options
}

type Connection struct {
	address *url.URL

	channel      transporter.Channel
	decompressor *compression.Decompressor

	inbound  *Stream
	outbound *Writer
}

// Connect opens a websocket to the gateway. It does not say anything on it; identifying is up
// to the caller.
func Connect(ctx context.Context, logger *logger.Logger, options Options) (*Connection, error) {
	address, err := parseAddress(options.Address)
	if err != nil {
		return nil, err
	}

	connLogger := logger.GetConnectionLogger(address.Redacted())

	ws := websocket.New(connLogger.GetComponentLogger("Websocket"), options.Websocket)
	if err := ws.Dial(ctx, address, options.Headers); err != nil {
		return nil, &ConnectionFailedError{Cause: err}
	}

	conn, err := Bind(connLogger, ws, options.Compress, options.LenientDecompression)
	if err != nil {
		ws.Abort()
		return nil, err
	}

	conn.address = address
	return conn, nil
}

// Bind builds a Connection around a channel that has already been opened
func Bind(logger *logger.Logger, channel transporter.Channel, compress bool, lenient bool) (*Connection, error) {
	var decompressor *compression.Decompressor
	if compress {
		var err error
		if decompressor, err = compression.New(compression.DefaultWindowBits); err != nil {
			return nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
	}

	return &Connection{
		channel:      channel,
		decompressor: decompressor,
		inbound:      newStream(logger.GetComponentLogger("Inbound"), channel, decompressor, lenient),
		outbound:     newWriter(logger.GetComponentLogger("Outbound"), channel),
	}, nil
}

func (c *Connection) Inbound() *Stream {
	return c.inbound
}

func (c *Connection) Outbound() *Writer {
	return c.outbound
}

func (c *Connection) Channel() transporter.Channel {
	return c.channel
}

// Decompressor is nil when the connection is not compressed
func (c *Connection) Decompressor() *compression.Decompressor {
	return c.decompressor
}

// Address is nil for connections made with Bind
func (c *Connection) Address() *url.URL {
	return c.address
}

func (c *Connection) Done() <-chan struct{} {
	return c.channel.Done()
}

// CloseFrame reports how the connection ended or is ending. It is available from the moment
// either side starts the close handshake, so Done may still be open.
func (c *Connection) CloseFrame() (CloseFrame, bool) {
	native, reason, ok := c.channel.CloseFrame()
	if !ok {
		return CloseFrame{}, false
	}

	code := closecode.FromNative(native)
	return CloseFrame{
		Code:      code,
		Reason:    reason,
		HasReason: reason != "" && !code.Synthesized(),
	}, true
}

func parseAddress(address string) (*url.URL, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %s", ErrInvalidAddress, address, err)
	}

	switch u.Scheme {
	case websocket.HttpWebsocketScheme, websocket.HttpsOnlyWebsocketScheme:
	case "http":
		u.Scheme = websocket.HttpWebsocketScheme
	case "https":
		u.Scheme = websocket.HttpsOnlyWebsocketScheme
	default:
		return nil, fmt.Errorf("%w %q: unsupported scheme %q", ErrInvalidAddress, address, u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%w %q: missing host", ErrInvalidAddress, address)
	}

	return u, nil
}
