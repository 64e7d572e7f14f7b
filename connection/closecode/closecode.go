/*
Package closecode normalizes websocket close codes between the integers gorilla/websocket reports
and sends, and the closed vocabulary the gateway layer reasons about.

Codes come from https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number
*/
package closecode

import (
	"fmt"

	gorilla "github.com/gorilla/websocket"
)

// CloseCode is either one of the reserved variants below or a catch-all carrying whatever number
// the peer (or the caller) used. Catch-all values are preserved verbatim.
type CloseCode int

const (
	NormalClosure             CloseCode = 1000
	GoingAway                 CloseCode = 1001
	ProtocolError             CloseCode = 1002
	UnsupportedData           CloseCode = 1003
	NoStatusReceived          CloseCode = 1005
	AbnormalClosure           CloseCode = 1006
	InvalidFramePayloadData   CloseCode = 1007
	PolicyViolation           CloseCode = 1008
	MessageTooBig             CloseCode = 1009
	MandatoryExtensionMissing CloseCode = 1010
	InternalServerError       CloseCode = 1011
	TLSHandshakeFailure       CloseCode = 1015
)

var reservedNames = map[CloseCode]string{
	NormalClosure:             "NormalClosure",
	GoingAway:                 "GoingAway",
	ProtocolError:             "ProtocolError",
	UnsupportedData:           "UnsupportedData",
	NoStatusReceived:          "NoStatusReceived",
	AbnormalClosure:           "AbnormalClosure",
	InvalidFramePayloadData:   "InvalidFramePayloadData",
	PolicyViolation:           "PolicyViolation",
	MessageTooBig:             "MessageTooBig",
	MandatoryExtensionMissing: "MandatoryExtensionMissing",
	InternalServerError:       "InternalServerError",
	TLSHandshakeFailure:       "TLSHandshakeFailure",
}

// native codes gorilla knows by name; anything else outside 3000-4999 cannot go on the wire
var nativeCodes = map[int]bool{
	gorilla.CloseNormalClosure:           true,
	gorilla.CloseGoingAway:               true,
	gorilla.CloseProtocolError:           true,
	gorilla.CloseUnsupportedData:         true,
	gorilla.CloseNoStatusReceived:        true,
	gorilla.CloseAbnormalClosure:         true,
	gorilla.CloseInvalidFramePayloadData: true,
	gorilla.ClosePolicyViolation:         true,
	gorilla.CloseMessageTooBig:           true,
	gorilla.CloseMandatoryExtension:      true,
	gorilla.CloseInternalServerErr:       true,
	gorilla.CloseServiceRestart:          true,
	gorilla.CloseTryAgainLater:           true,
	gorilla.CloseTLSHandshake:            true,
	1014:                                 true, // bad gateway, registered after gorilla's constants
}

// FromNative classifies a code reported by the transport
func FromNative(code int) CloseCode {
	return CloseCode(code)
}

// ToNative returns the code to hand to the transport. Reserved variants map to themselves; a
// catch-all falls back to AbnormalClosure when the transport has no way to express it.
func (c CloseCode) ToNative() int {
	if c.Reserved() || Representable(int(c)) {
		return int(c)
	}
	return gorilla.CloseAbnormalClosure
}

// Reserved reports whether c is one of the twelve named variants rather than the catch-all
func (c CloseCode) Reserved() bool {
	_, ok := reservedNames[c]
	return ok
}

// Synthesized reports whether c only ever comes from the local endpoint. 1005 and 1006 never
// travel in a close frame.
func (c CloseCode) Synthesized() bool {
	return c == NoStatusReceived || c == AbnormalClosure
}

// Representable reports whether the transport can carry code as-is
func Representable(code int) bool {
	if nativeCodes[code] {
		return true
	}
	return code >= 3000 && code <= 4999
}

func (c CloseCode) String() string {
	if name, ok := reservedNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(c))
}
