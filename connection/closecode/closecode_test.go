package closecode

import (
	"testing"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCloseCode(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CloseCode Suite")
}

var _ = Describe("CloseCode", func() {
	reserved := []int{1000, 1001, 1002, 1003, 1005, 1006, 1007, 1008, 1009, 1010, 1011, 1015}

	Context("Reserved codes", func() {
		It("round trips every reserved code through the native space", func() {
			for _, code := range reserved {
				normalized := FromNative(code)
				Expect(normalized.Reserved()).To(BeTrue(), "%d should be reserved", code)
				Expect(normalized.ToNative()).To(Equal(code))
			}
		})

		It("matches gorilla's constants", func() {
			Expect(FromNative(gorilla.CloseNormalClosure)).To(Equal(NormalClosure))
			Expect(FromNative(gorilla.CloseTLSHandshake)).To(Equal(TLSHandshakeFailure))
			Expect(MandatoryExtensionMissing.ToNative()).To(Equal(gorilla.CloseMandatoryExtension))
		})

		It("names each variant", func() {
			Expect(GoingAway.String()).To(Equal("GoingAway"))
			Expect(InternalServerError.String()).To(Equal("InternalServerError"))
		})

		It("flags the locally synthesized codes", func() {
			Expect(NoStatusReceived.Synthesized()).To(BeTrue())
			Expect(AbnormalClosure.Synthesized()).To(BeTrue())
			Expect(NormalClosure.Synthesized()).To(BeFalse())
		})
	})

	Context("Unknown codes", func() {
		When("The code is in the application range", func() {
			code := FromNative(4000)

			It("preserves the number through the catch-all", func() {
				Expect(code.Reserved()).To(BeFalse())
				Expect(int(code)).To(Equal(4000))
				Expect(code.String()).To(Equal("Unknown(4000)"))
			})

			It("reconstructs the native code", func() {
				Expect(code.ToNative()).To(Equal(4000))
			})
		})

		When("The code is registered natively but not one of the reserved variants", func() {
			It("passes through", func() {
				Expect(FromNative(gorilla.CloseServiceRestart).Reserved()).To(BeFalse())
				Expect(FromNative(gorilla.CloseServiceRestart).ToNative()).To(Equal(1012))
				Expect(FromNative(1014).ToNative()).To(Equal(1014))
			})
		})

		When("The native space cannot hold the code", func() {
			// observed fallback: 1006, the abnormal closure code
			DescribeTable("falls back to abnormal closure",
				func(raw int) {
					code := FromNative(raw)
					Expect(int(code)).To(Equal(raw))
					Expect(code.ToNative()).To(Equal(gorilla.CloseAbnormalClosure))
				},
				Entry("reserved gap 1004", 1004),
				Entry("unassigned 2500", 2500),
				Entry("beyond 4999", 5000),
				Entry("negative", -1),
			)
		})
	})
})
