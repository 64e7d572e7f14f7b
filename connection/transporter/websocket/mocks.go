package websocket

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatewaykit/gatewaylib/connection/compression"
	"github.com/gatewaykit/gatewaylib/logger"
)

// Responder decides what a mock gateway sends back for each message it receives. Returning a nil
// message sends nothing.
type Responder func(messageType int, message []byte) (int, []byte)

// ReceivedClose is a close frame as seen by the mock gateway
type ReceivedClose struct {
	Code   int
	Reason string
}

type MockWebsocketServer struct {
	logger   *logger.Logger
	listener net.Listener
	respond  Responder
	compress bool

	lock sync.Mutex
	conn *websocket.Conn

	Addr           string
	ReceivedBytes  chan []byte
	ReceivedCloses chan ReceivedClose
}

// NewMockWebsocketServer echoes back whatever it receives
func NewMockWebsocketServer(logger *logger.Logger) *MockWebsocketServer {
	return NewMockGateway(logger, false, func(messageType int, message []byte) (int, []byte) {
		return messageType, message
	})
}

// NewMockGateway answers with respond. With compress set, every binary reply is sent as the next
// chunk of one zlib stream, the way a compressed gateway does.
func NewMockGateway(logger *logger.Logger, compress bool, respond Responder) *MockWebsocketServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Errorf("failed to setup listener")
	}

	mockServer := &MockWebsocketServer{
		logger:         logger,
		listener:       listener,
		respond:        respond,
		compress:       compress,
		Addr:           fmt.Sprintf("http://127.0.0.1:%d", listener.Addr().(*net.TCPAddr).Port),
		ReceivedBytes:  make(chan []byte, 10),
		ReceivedCloses: make(chan ReceivedClose, 10),
	}

	go func() {
		http.Serve(mockServer.listener, mockServer)
	}()

	return mockServer
}

func (m *MockWebsocketServer) Shutdown() {
	m.listener.Close()

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.conn != nil {
		m.conn.Close()
	}
}

// CloseWith starts a close handshake from the gateway's side
func (m *MockWebsocketServer) CloseWith(code int, reason string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.conn == nil {
		return fmt.Errorf("no client is connected")
	}

	message := websocket.FormatCloseMessage(code, reason)
	return m.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}

// Drop kills the tcp connection without a close frame
func (m *MockWebsocketServer) Drop() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.conn != nil {
		m.conn.UnderlyingConn().Close()
	}
}

// Push sends an unprompted message to the connected client
func (m *MockWebsocketServer) Push(messageType int, message []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.conn == nil {
		return fmt.Errorf("no client is connected")
	}
	return m.conn.WriteMessage(messageType, message)
}

func (m *MockWebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}

	// Upgrade our raw HTTP connection to a websocket based one
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Errorf("Error during connection upgradation: %s", err)
		return
	}
	defer conn.Close()

	m.lock.Lock()
	m.conn = conn
	m.lock.Unlock()

	var compressor *compression.Compressor
	if m.compress {
		compressor = compression.NewCompressor()
	}

	// The event loop
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				m.ReceivedCloses <- ReceivedClose{Code: closeErr.Code, Reason: closeErr.Text}
			} else {
				m.logger.Errorf("Error during message reading: %s", err)
			}
			break
		}

		m.ReceivedBytes <- message

		replyType, reply := m.respond(messageType, message)
		if reply == nil {
			continue
		}

		if compressor != nil && replyType == websocket.BinaryMessage {
			if reply, err = compressor.Compress(reply); err != nil {
				m.logger.Error(err)
				break
			}
		}

		m.lock.Lock()
		err = conn.WriteMessage(replyType, reply)
		m.lock.Unlock()
		if err != nil {
			m.logger.Errorf("Error during message writing: %s", err)
			break
		}
	}
}
