package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gatewaykit/gatewaylib/connection/closecode"
	"github.com/gatewaykit/gatewaylib/connection/transporter/websocket"
	"github.com/gatewaykit/gatewaylib/logger"
)

var _ = Describe("Gateway Connect", func() {
	var server *websocket.MockWebsocketServer
	var conn *Connection

	logger := logger.MockLogger(GinkgoWriter)
	ctx := context.Background()

	// acks every text payload with a binary reply
	ackResponder := func(messageType int, message []byte) (int, []byte) {
		if messageType != gorilla.TextMessage {
			return 0, nil
		}
		return gorilla.BinaryMessage, []byte(`{"t":"ACK"}`)
	}

	connect := func(compress bool) {
		var err error
		conn, err = Connect(ctx, logger, Options{
			Address:   server.Addr,
			Compress:  compress,
			Websocket: websocket.Options{CloseGracePeriod: 500 * time.Millisecond},
		})
		Expect(err).ToNot(HaveOccurred())
	}

	AfterEach(func() {
		if server != nil {
			server.Shutdown()
		}
	})

	Context("Establishing", func() {
		It("rejects an address it cannot parse", func() {
			_, err := Connect(ctx, logger, Options{Address: "::not a url"})
			Expect(err).To(MatchError(ErrInvalidAddress))
		})

		It("reports dial failures as connection failures", func() {
			_, err := Connect(ctx, logger, Options{Address: "ws://127.0.0.1:1"})

			var failed *ConnectionFailedError
			Expect(errors.As(err, &failed)).To(BeTrue())
			Expect(failed.Unwrap()).ToNot(BeNil())
		})

		It("only creates a decompressor when asked to", func() {
			server = websocket.NewMockWebsocketServer(logger)

			connect(false)
			Expect(conn.Decompressor()).To(BeNil())
			Expect(conn.Address().Scheme).To(Equal("ws"))
			conn.Channel().Abort()

			connect(true)
			Expect(conn.Decompressor()).ToNot(BeNil())
			conn.Channel().Abort()
		})
	})

	Context("Talking to a compressed gateway", func() {
		BeforeEach(func() {
			server = websocket.NewMockGateway(logger, true, ackResponder)
			connect(true)
		})

		It("inflates the gateway's reply", func() {
			Expect(conn.Outbound().Write(TextFrame{Text: `{"op":1}`})).To(Succeed())
			Expect(<-server.ReceivedBytes).To(Equal([]byte(`{"op":1}`)))

			message, err := conn.Inbound().Next(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(message).To(Equal(BinaryMessage{Data: []byte(`{"t":"ACK"}`), Inflated: true}))
		})

		It("keeps inflating later replies from the same stream", func() {
			for i := 0; i < 5; i++ {
				Expect(conn.Outbound().Write(TextFrame{Text: fmt.Sprintf(`{"op":1,"d":%d}`, i)})).To(Succeed())

				message, err := conn.Inbound().Next(ctx)
				Expect(err).ToNot(HaveOccurred())
				Expect(message).To(Equal(BinaryMessage{Data: []byte(`{"t":"ACK"}`), Inflated: true}))
			}
		})
	})

	Context("Closing", func() {
		BeforeEach(func() {
			server = websocket.NewMockWebsocketServer(logger)
			connect(false)
		})

		When("We close", func() {
			BeforeEach(func() {
				Expect(conn.Outbound().Close(closecode.NormalClosure, "")).To(Succeed())
				Expect(conn.Outbound().Close(closecode.NormalClosure, "")).To(Succeed())
			})

			It("sends a single close frame", func() {
				Eventually(server.ReceivedCloses).Should(Receive(Equal(websocket.ReceivedClose{Code: 1000})))
				Consistently(server.ReceivedCloses, 200*time.Millisecond).ShouldNot(Receive())
			})

			It("reports our close frame before the handshake has finished", func() {
				frame, ok := conn.CloseFrame()
				Expect(ok).To(BeTrue())
				Expect(frame.Code).To(Equal(closecode.NormalClosure))
				Expect(conn.Done()).ToNot(BeClosed())
			})

			It("rejects later writes", func() {
				Expect(conn.Outbound().Write(TextFrame{Text: `{"op":1}`})).To(MatchError(ErrConnectionClosed))
			})

			It("ends the inbound stream and reports our close frame", func() {
				_, err := conn.Inbound().Next(ctx)
				Expect(err).To(Equal(io.EOF))

				frame, ok := conn.CloseFrame()
				Expect(ok).To(BeTrue())
				Expect(frame.Code).To(Equal(closecode.NormalClosure))
				Expect(frame.HasReason).To(BeFalse())
				Eventually(conn.Done()).Should(BeClosed())
			})
		})

		When("The gateway closes with an application code", func() {
			BeforeEach(func() {
				Expect(conn.Outbound().Write(TextFrame{Text: "hello"})).To(Succeed())
				message, err := conn.Inbound().Next(ctx)
				Expect(err).ToNot(HaveOccurred())
				Expect(message).To(Equal(TextMessage{Text: "hello"}))

				Expect(server.CloseWith(4000, "unknown error")).To(Succeed())
			})

			It("ends the stream and keeps the unknown code", func() {
				_, err := conn.Inbound().Next(ctx)
				Expect(err).To(Equal(io.EOF))

				frame, ok := conn.CloseFrame()
				Expect(ok).To(BeTrue())
				Expect(frame.Code.Reserved()).To(BeFalse())
				Expect(int(frame.Code)).To(Equal(4000))
				Expect(frame.Reason).To(Equal("unknown error"))
				Expect(frame.HasReason).To(BeTrue())
			})
		})

		When("The gateway vanishes", func() {
			BeforeEach(func() {
				Expect(conn.Outbound().Write(TextFrame{Text: "hello"})).To(Succeed())
				_, err := conn.Inbound().Next(ctx)
				Expect(err).ToNot(HaveOccurred())

				server.Drop()
			})

			It("fails the pull and synthesizes an abnormal closure", func() {
				_, err := conn.Inbound().Next(ctx)
				Expect(err).To(HaveOccurred())
				Expect(err).ToNot(Equal(io.EOF))

				frame, ok := conn.CloseFrame()
				Expect(ok).To(BeTrue())
				Expect(frame.Code).To(Equal(closecode.AbnormalClosure))
				Expect(frame.HasReason).To(BeFalse())
			})
		})
	})

	Context("Receiver", func() {
		var receiver *Receiver

		BeforeEach(func() {
			server = websocket.NewMockWebsocketServer(logger)
			connect(false)
			receiver = NewReceiver(logger, conn)
		})

		It("delivers messages until the gateway closes", func() {
			Expect(conn.Outbound().Write(TextFrame{Text: "one"})).To(Succeed())
			Expect(conn.Outbound().Write(TextFrame{Text: "two"})).To(Succeed())

			Eventually(receiver.Inbound()).Should(Receive(Equal(TextMessage{Text: "one"})))
			Eventually(receiver.Inbound()).Should(Receive(Equal(TextMessage{Text: "two"})))

			Expect(server.CloseWith(1001, "")).To(Succeed())

			Eventually(receiver.Done()).Should(BeClosed())
			Expect(receiver.Err()).ToNot(HaveOccurred())
			Eventually(receiver.Inbound()).Should(BeClosed())
		})

		It("stops when closed", func() {
			receiver.Close(fmt.Errorf("felt like it"))

			select {
			case <-receiver.Done():
			case <-time.After(3 * time.Second):
				Expect(nil).ToNot(BeNil(), "Receiver failed to close in a reasonable time!")
			}
			Expect(receiver.Err()).To(MatchError("felt like it"))
		})
	})
})
