package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gatewaykit/gatewaylib/connection/transporter"
	"github.com/gatewaykit/gatewaylib/logger"
)

func TestWebsocket(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Websocket Suite")
}

var _ = Describe("Websocket", func() {
	var server *MockWebsocketServer
	var websocket *Websocket
	var testUrl *url.URL

	logger := logger.MockLogger(GinkgoWriter)
	ctx := context.Background()

	testSendData := []byte("whooopie")

	wsUrl := func(addr string) *url.URL {
		u, _ := url.Parse(addr)
		u.Scheme = HttpWebsocketScheme
		return u
	}

	BeforeEach(func() {
		websocket = New(logger, Options{CloseGracePeriod: 500 * time.Millisecond})
	})

	Context("Making connections", func() {
		When("Connecting to a legitimate host", func() {
			var err error

			BeforeEach(func() {
				server = NewMockWebsocketServer(logger)
				testUrl = wsUrl(server.Addr)

				err = websocket.Dial(ctx, testUrl, http.Header{})
			})

			AfterEach(func() {
				server.Shutdown()
			})

			It("succeeds", func() {
				Expect(err).ShouldNot(HaveOccurred(), "Websocket was unable to connect: %s", err)
			})

			It("refuses to dial twice", func() {
				Expect(websocket.Dial(ctx, testUrl, http.Header{})).ToNot(Succeed())
			})
		})

		When("Connecting to port with no listener", func() {
			It("fails", func() {
				err := websocket.Dial(ctx, wsUrl("http://127.0.0.1:1"), http.Header{})
				Expect(err).Should(HaveOccurred(), "It looks like the websocket connected but it shouldn't have")
			})
		})
	})

	Context("Exchanging messages", func() {
		BeforeEach(func() {
			server = NewMockWebsocketServer(logger)
			Expect(websocket.Dial(ctx, wsUrl(server.Addr), http.Header{})).To(Succeed())
		})

		AfterEach(func() {
			server.Shutdown()
		})

		It("is received by the server", func() {
			Expect(websocket.Send(transporter.TextMessage, testSendData)).To(Succeed())

			message := <-server.ReceivedBytes
			Expect(message).To(Equal(testSendData), "Server never received the bytes we sent!")
		})

		It("receives messages with their type", func() {
			// our mock server echoes whatever it receives
			Expect(websocket.Send(transporter.BinaryMessage, testSendData)).To(Succeed())

			messageType, message, err := websocket.Receive()
			Expect(err).ToNot(HaveOccurred())
			Expect(messageType).To(Equal(transporter.BinaryMessage))
			Expect(message).To(Equal(testSendData))
		})

		It("receives messages the server sends unprompted", func() {
			// the server only holds on to our connection once its side of the upgrade is done
			Eventually(func() error {
				return server.Push(gorilla.TextMessage, []byte(`{"op":10}`))
			}).Should(Succeed())

			messageType, message, err := websocket.Receive()
			Expect(err).ToNot(HaveOccurred())
			Expect(messageType).To(Equal(transporter.TextMessage))
			Expect(message).To(Equal([]byte(`{"op":10}`)))
		})
	})

	Context("Shutdown", func() {
		BeforeEach(func() {
			server = NewMockWebsocketServer(logger)
			Expect(websocket.Dial(ctx, wsUrl(server.Addr), http.Header{})).To(Succeed())
		})

		AfterEach(func() {
			server.Shutdown()
		})

		When("We close the connection", func() {
			BeforeEach(func() {
				Expect(websocket.Close(gorilla.CloseNormalClosure, "bye")).To(Succeed())
			})

			It("sends exactly one close frame", func() {
				Expect(websocket.Close(gorilla.CloseNormalClosure, "again")).To(Succeed())

				Eventually(server.ReceivedCloses).Should(Receive(Equal(ReceivedClose{Code: gorilla.CloseNormalClosure, Reason: "bye"})))
				Consistently(server.ReceivedCloses, 200*time.Millisecond).ShouldNot(Receive())
			})

			It("ends reads cleanly once the peer echoes", func() {
				_, _, err := websocket.Receive()
				Expect(err).To(MatchError(transporter.ErrNotConnected))
				Eventually(websocket.Done()).Should(BeClosed())
			})

			It("remembers our close frame", func() {
				code, reason, ok := websocket.CloseFrame()
				Expect(ok).To(BeTrue())
				Expect(code).To(Equal(gorilla.CloseNormalClosure))
				Expect(reason).To(Equal("bye"))
			})

			It("tears down after the grace period even if nobody reads", func() {
				Eventually(websocket.Done(), 3*time.Second).Should(BeClosed())
			})
		})

		When("Our close reason does not fit in a close frame", func() {
			long := strings.Repeat("é", 100)

			BeforeEach(func() {
				Expect(websocket.Close(gorilla.CloseNormalClosure, long)).To(Succeed())
			})

			It("cuts it short on a rune boundary", func() {
				var received ReceivedClose
				Eventually(server.ReceivedCloses).Should(Receive(&received))
				Expect(received.Code).To(Equal(gorilla.CloseNormalClosure))
				Expect(utf8.ValidString(received.Reason)).To(BeTrue())
				Expect(received.Reason).To(Equal(strings.Repeat("é", 61)))

				_, reason, _ := websocket.CloseFrame()
				Expect(reason).To(Equal(received.Reason))
			})
		})

				When("The peer closes the connection", func() {
			BeforeEach(func() {
				Expect(websocket.Send(transporter.TextMessage, testSendData)).To(Succeed())
				<-server.ReceivedBytes
				_, _, err := websocket.Receive()
				Expect(err).ToNot(HaveOccurred())

				Expect(server.CloseWith(4004, "authentication failed")).To(Succeed())
			})

			It("reports a clean end with the peer's close frame", func() {
				_, _, err := websocket.Receive()
				Expect(err).To(MatchError(transporter.ErrNotConnected))

				code, reason, ok := websocket.CloseFrame()
				Expect(ok).To(BeTrue())
				Expect(code).To(Equal(4004))
				Expect(reason).To(Equal("authentication failed"))
			})
		})

		When("The peer drops the tcp connection", func() {
			BeforeEach(func() {
				Expect(websocket.Send(transporter.TextMessage, testSendData)).To(Succeed())
				<-server.ReceivedBytes
				_, _, err := websocket.Receive()
				Expect(err).ToNot(HaveOccurred())

				server.Drop()
			})

			It("reports a failure and a synthesized abnormal closure", func() {
				_, _, err := websocket.Receive()
				Expect(err).To(HaveOccurred())
				Expect(err).ToNot(MatchError(transporter.ErrNotConnected))

				code, _, ok := websocket.CloseFrame()
				Expect(ok).To(BeTrue())
				Expect(code).To(Equal(gorilla.CloseAbnormalClosure))
			})
		})

		When("The connection is aborted while a read is blocked", func() {
			It("ends the read cleanly", func() {
				errs := make(chan error, 1)
				go func() {
					_, _, err := websocket.Receive()
					errs <- err
				}()

				time.Sleep(50 * time.Millisecond)
				websocket.Abort()

				Eventually(errs).Should(Receive(MatchError(transporter.ErrNotConnected)))
				Expect(websocket.Done()).To(BeClosed())
			})
		})
	})
})
