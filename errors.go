package quicvc

import "fmt"

// ErrorKind taxonomizes codec failures by what went wrong, not by which
// layer produced them, so callers can branch on Kind instead of matching
// error strings.
type ErrorKind int

const (
	// KindShortBuffer means the input ended before a value could be
	// fully read.
	KindShortBuffer ErrorKind = iota

	// KindTrailingGarbage means bytes remained after a value that was
	// supposed to consume the whole buffer.
	KindTrailingGarbage

	// KindInvalidValue means an encoder was asked to encode a value
	// outside the representable range (e.g. a varint above 2^62-1).
	KindInvalidValue

	// KindFixedBitClear means the QUIC fixed bit (bit 6 of the first
	// header byte) was zero on a packet that is not Version Negotiation.
	KindFixedBitClear

	// KindConnectionIdTooLong means a parsed or requested connection ID
	// exceeds the 20-byte wire limit.
	KindConnectionIdTooLong

	// KindInvalidPacketNumberLength means the packet-number length
	// encoded in the header's low two bits, or requested by a caller,
	// is outside [1,4].
	KindInvalidPacketNumberLength

	// KindUnsupportedFrame means the frame parser encountered a type
	// byte outside the codepoints this profile reserves.
	KindUnsupportedFrame

	// KindInvalidAckRange means an ACK frame's ranges violate the
	// monotonic-descent invariant.
	KindInvalidAckRange

	// KindInvalidStreamFlags means a STREAM frame's type byte combined
	// with its declared length produced an inconsistent layout.
	KindInvalidStreamFlags

	// KindInvalidCredentialMicrodata means a VC_INIT/VC_RESPONSE
	// credential payload is missing the DeviceIdentityCredential marker
	// or is not valid UTF-8.
	KindInvalidCredentialMicrodata

	// KindInvalidResponseJson means a VC_RESPONSE/VC_ACK/DISCOVERY/
	// HEARTBEAT JSON payload failed to parse or violated its closed
	// schema.
	KindInvalidResponseJson

	// KindUnexpectedVcFrame means a VC frame arrived in a handshake
	// state that does not expect it.
	KindUnexpectedVcFrame

	// KindVersionMismatch means a non-zero version field did not match
	// the version this endpoint negotiated.
	KindVersionMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindShortBuffer:
		return "ShortBuffer"
	case KindTrailingGarbage:
		return "TrailingGarbage"
	case KindInvalidValue:
		return "InvalidValue"
	case KindFixedBitClear:
		return "FixedBitClear"
	case KindConnectionIdTooLong:
		return "ConnectionIdTooLong"
	case KindInvalidPacketNumberLength:
		return "InvalidPacketNumberLength"
	case KindUnsupportedFrame:
		return "UnsupportedFrame"
	case KindInvalidAckRange:
		return "InvalidAckRange"
	case KindInvalidStreamFlags:
		return "InvalidStreamFlags"
	case KindInvalidCredentialMicrodata:
		return "InvalidCredentialMicrodata"
	case KindInvalidResponseJson:
		return "InvalidResponseJson"
	case KindUnexpectedVcFrame:
		return "UnexpectedVcFrame"
	case KindVersionMismatch:
		return "VersionMismatch"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// DecodeError is the error type returned by every decode/encode failure in
// this package. Offset is the byte position within the buffer being parsed
// where the failure was detected, or -1 when not meaningful (e.g. an
// encoder-side KindInvalidValue).
type DecodeError struct {
	Kind   ErrorKind
	Offset int
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("quicvc: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
	}
	return fmt.Sprintf("quicvc: %s: %s", e.Kind, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeErr(kind ErrorKind, offset int, detail string) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Detail: detail}
}

func wrapDecodeErr(kind ErrorKind, offset int, detail string, err error) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Detail: detail, Err: err}
}
