/*
The websocket package opens and ferries raw frames across a gorilla websocket connection. It is
the lowest layer of a gateway connection and the only place that knows which gorilla errors mean
"the connection ended" and which mean "the connection broke".
*/
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	gorilla "github.com/gorilla/websocket"

	"github.com/gatewaykit/gatewaylib/connection/transporter"
	"github.com/gatewaykit/gatewaylib/logger"
)

const (
	HttpsOnlyWebsocketScheme = "wss"
	HttpWebsocketScheme      = "ws"

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseGracePeriod = 5 * time.Second

	// control frames carry at most 125 bytes, two of which are the code
	maxCloseReasonLength = 123
	controlWriteTimeout  = time.Second
)

type Options struct {
	HandshakeTimeout time.Duration

	// How long to wait for the peer to echo our close frame before dropping the socket
	CloseGracePeriod time.Duration

	// Largest message we'll accept, zero means no limit
	ReadLimit int64
}

type Websocket struct {
	logger  *logger.Logger
	options Options
	client  *gorilla.Conn

	done      chan struct{}
	closeOnce sync.Once

	// guards everything below
	lock        sync.Mutex
	closeSent   bool
	closed      bool
	closeCode   int
	closeReason string
}

func New(logger *logger.Logger, options Options) *Websocket {
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if options.CloseGracePeriod <= 0 {
		options.CloseGracePeriod = DefaultCloseGracePeriod
	}

	return &Websocket{
		logger:  logger,
		options: options,
		done:    make(chan struct{}),
	}
}

// Dial performs the HTTP upgrade. A Websocket can only be dialed once.
func (w *Websocket) Dial(ctx context.Context, connUrl *url.URL, headers http.Header) error {
	if w.client != nil {
		return fmt.Errorf("websocket has already been dialed")
	}

	dialer := gorilla.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.options.HandshakeTimeout,
	}

	client, response, err := dialer.DialContext(ctx, connUrl.String(), headers)
	if err != nil {
		if response != nil {
			return fmt.Errorf("error dialing websocket, server responded with %s: %w", response.Status, err)
		}
		return fmt.Errorf("error dialing websocket: %w", err)
	}

	if w.options.ReadLimit > 0 {
		client.SetReadLimit(w.options.ReadLimit)
	}

	w.client = client
	w.logger.Infof("Websocket connection started")
	return nil
}

func (w *Websocket) Done() <-chan struct{} {
	return w.done
}

func (w *Websocket) Receive() (transporter.MessageType, []byte, error) {
	messageType, message, err := w.client.ReadMessage()
	if err != nil {
		return 0, nil, w.classify(err)
	}

	return transporter.MessageType(messageType), message, nil
}

// classify decides whether a read error is the connection ending or the connection failing
func (w *Websocket) classify(err error) error {
	// once we've sent a close frame, however the read ends is the end of the handshake
	if w.closing() || errors.Is(err, net.ErrClosed) {
		w.recordClose(gorilla.CloseAbnormalClosure, "")
		w.teardown()
		return transporter.ErrNotConnected
	}

	var closeErr *gorilla.CloseError
	if errors.As(err, &closeErr) {
		// gorilla has already echoed the peer's close frame for us
		w.recordClose(closeErr.Code, closeErr.Text)
		w.teardown()

		if closeErr.Code == gorilla.CloseAbnormalClosure {
			w.logger.Errorf("Websocket connection closed abnormally: %s", err)
			return fmt.Errorf("websocket closed abnormally: %w", err)
		}

		w.logger.Infof("Websocket connection closed by peer with code %d", closeErr.Code)
		return transporter.ErrNotConnected
	}

	w.logger.Errorf("Websocket read failed: %s", err)
	w.recordClose(gorilla.CloseAbnormalClosure, "")
	w.teardown()
	return fmt.Errorf("websocket read failed: %w", err)
}

func (w *Websocket) Send(messageType transporter.MessageType, data []byte) error {
	if w.client == nil {
		return fmt.Errorf("cannot send message because websocket was never dialed")
	}

	if err := w.client.WriteMessage(int(messageType), data); err != nil {
		if errors.Is(err, gorilla.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			return transporter.ErrNotConnected
		}
		return fmt.Errorf("failed to write %s message: %w", messageType, err)
	}

	return nil
}

func (w *Websocket) Close(code int, reason string) error {
	if w.client == nil {
		return nil
	}

	reason = truncateReason(reason)

	w.lock.Lock()
	if w.closeSent || w.closed {
		w.lock.Unlock()
		return nil
	}
	w.closeSent = true
	w.closed = true
	w.closeCode = code
	w.closeReason = reason
	w.lock.Unlock()

	w.logger.Infof("Websocket connection closing with code %d", code)

	// 1005 and 1006 may not appear on the wire, the peer gets a close frame with no status
	message := gorilla.FormatCloseMessage(code, reason)
	if code == gorilla.CloseNoStatusReceived || code == gorilla.CloseAbnormalClosure {
		message = gorilla.FormatCloseMessage(gorilla.CloseNoStatusReceived, "")
	}
	if err := w.client.WriteControl(gorilla.CloseMessage, message, time.Now().Add(controlWriteTimeout)); err != nil && !errors.Is(err, gorilla.ErrCloseSent) {
		w.teardown()
		return fmt.Errorf("failed to send close frame: %w", err)
	}

	// the reader tears down as soon as the peer echoes, this is for when nobody is reading or
	// the peer never answers
	time.AfterFunc(w.options.CloseGracePeriod, w.teardown)
	return nil
}

func (w *Websocket) Abort() {
	w.recordClose(gorilla.CloseAbnormalClosure, "")
	w.teardown()
}

// CloseFrame is set as soon as either side starts closing, possibly before the handshake is over
func (w *Websocket) CloseFrame() (int, string, bool) {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.closeCode, w.closeReason, w.closed
}

func (w *Websocket) closing() bool {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.closeSent
}

// recordClose keeps the first close frame we see, whichever side it came from
func (w *Websocket) recordClose(code int, reason string) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if !w.closed {
		w.closed = true
		w.closeCode = code
		w.closeReason = reason
	}
}

// truncateReason cuts reason down to what fits in a close frame without splitting a rune
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReasonLength {
		return reason
	}

	cut := maxCloseReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func (w *Websocket) teardown() {
	w.closeOnce.Do(func() {
		if w.client != nil {
			w.client.Close()
		}
		close(w.done)
		w.logger.Infof("Websocket connection closed")
	})
}
