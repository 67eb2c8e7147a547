package quicvc

// ====================================================================
// Generic frame codec
// ====================================================================
//
// A packet's payload is a sequence of frames, each starting with a
// one-byte type. PADDING runs coalesce into a single frame on parse;
// every other frame type has a fixed or length-prefixed layout below.
// ====================================================================

const (
	FrameTypePadding  byte = 0x00
	FrameTypePing     byte = 0x01
	FrameTypeAck      byte = 0x02
	FrameTypeAckECN   byte = 0x03
	frameTypeStreamLo byte = 0x08
	frameTypeStreamHi byte = 0x0F

	streamFinBit    byte = 0x01
	streamLenBit    byte = 0x02
	streamOffBit    byte = 0x04

	FrameTypeConnectionCloseTransport   byte = 0x1C
	FrameTypeConnectionCloseApplication byte = 0x1D
)

// Transport error codes carried by CONNECTION_CLOSE.
const (
	ErrNoError             uint64 = 0x00
	ErrInternalError       uint64 = 0x01
	ErrFrameEncodingError  uint64 = 0x07
	ErrProtocolViolation   uint64 = 0x0A
	ErrCredentialRejected  uint64 = 0x100
	ErrCredentialExpired   uint64 = 0x101
	ErrCredentialRevoked   uint64 = 0x102
)

// Frame is the tagged-union of the frame types this profile recognizes.
// Each concrete type implements FrameType to report its wire type byte.
type Frame interface {
	FrameType() byte
}

// PaddingFrame represents a run of Length zero bytes, coalesced into one
// logical frame on parse.
type PaddingFrame struct {
	Length int
}

func (PaddingFrame) FrameType() byte { return FrameTypePadding }

// PingFrame carries no payload.
type PingFrame struct{}

func (PingFrame) FrameType() byte { return FrameTypePing }

// AckRange is one (gap, length) pair following the first ACK range,
// proceeding from the highest acknowledged packet downward.
type AckRange struct {
	Gap    uint64
	Length uint64
}

// ECNCounts holds the three ECN counters carried by ACK_ECN. This profile
// does not act on them; it parses and retains them opaquely.
type ECNCounts struct {
	ECT0  uint64
	ECT1  uint64
	ECNCE uint64
}

// AckFrame represents both ACK (0x02) and ACK_ECN (0x03); ECN is true for
// the latter, in which case ECNCounts is non-nil.
type AckFrame struct {
	ECN           bool
	LargestAck    uint64
	AckDelay      uint64
	FirstAckRange uint64
	Ranges        []AckRange
	ECNCounts     *ECNCounts
}

func (f AckFrame) FrameType() byte {
	if f.ECN {
		return FrameTypeAckECN
	}
	return FrameTypeAck
}

// StreamFrame carries application data on a stream. HasOffset/HasLength
// mirror the OFF/LEN flag bits that were set on the wire; when HasLength
// is false, Data ran to the end of the enclosing payload.
type StreamFrame struct {
	StreamID  uint64
	HasOffset bool
	Offset    uint64
	HasLength bool
	Fin       bool
	Data      []byte
}

func (f StreamFrame) FrameType() byte {
	t := frameTypeStreamLo
	if f.Fin {
		t |= streamFinBit
	}
	if f.HasLength {
		t |= streamLenBit
	}
	if f.HasOffset {
		t |= streamOffBit
	}
	return t
}

// ConnectionCloseFrame signals connection termination. Application is
// true for 0x1D; FrameType names the offending frame for a transport-level
// close caused by a framing error, or is zero otherwise (and always zero,
// by convention, for an application-level close).
type ConnectionCloseFrame struct {
	Application bool
	ErrorCode   uint64
	OffendingFrameType  uint64
	Reason      string
}

func (f ConnectionCloseFrame) FrameType() byte {
	if f.Application {
		return FrameTypeConnectionCloseApplication
	}
	return FrameTypeConnectionCloseTransport
}

// AppendFrame appends the wire encoding of f to dst and returns the
// extended slice.
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	switch v := f.(type) {
	case PaddingFrame:
		for i := 0; i < v.Length; i++ {
			dst = append(dst, 0x00)
		}
		return dst, nil

	case PingFrame:
		return append(dst, FrameTypePing), nil

	case AckFrame:
		var err error
		dst = append(dst, v.FrameType())
		dst, err = AppendVarInt(dst, v.LargestAck)
		if err != nil {
			return nil, err
		}
		dst, err = AppendVarInt(dst, v.AckDelay)
		if err != nil {
			return nil, err
		}
		dst, err = AppendVarInt(dst, uint64(len(v.Ranges)))
		if err != nil {
			return nil, err
		}
		dst, err = AppendVarInt(dst, v.FirstAckRange)
		if err != nil {
			return nil, err
		}
		for _, r := range v.Ranges {
			dst, err = AppendVarInt(dst, r.Gap)
			if err != nil {
				return nil, err
			}
			dst, err = AppendVarInt(dst, r.Length)
			if err != nil {
				return nil, err
			}
		}
		if v.ECN {
			counts := v.ECNCounts
			if counts == nil {
				counts = &ECNCounts{}
			}
			dst, err = AppendVarInt(dst, counts.ECT0)
			if err != nil {
				return nil, err
			}
			dst, err = AppendVarInt(dst, counts.ECT1)
			if err != nil {
				return nil, err
			}
			dst, err = AppendVarInt(dst, counts.ECNCE)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil

	case StreamFrame:
		var err error
		dst = append(dst, v.FrameType())
		dst, err = AppendVarInt(dst, v.StreamID)
		if err != nil {
			return nil, err
		}
		if v.HasOffset {
			dst, err = AppendVarInt(dst, v.Offset)
			if err != nil {
				return nil, err
			}
		}
		if v.HasLength {
			dst, err = AppendVarInt(dst, uint64(len(v.Data)))
			if err != nil {
				return nil, err
			}
		}
		return append(dst, v.Data...), nil

	case ConnectionCloseFrame:
		var err error
		dst = append(dst, v.FrameType())
		dst, err = AppendVarInt(dst, v.ErrorCode)
		if err != nil {
			return nil, err
		}
		dst, err = AppendVarInt(dst, v.OffendingFrameType)
		if err != nil {
			return nil, err
		}
		reason := []byte(v.Reason)
		dst, err = AppendVarInt(dst, uint64(len(reason)))
		if err != nil {
			return nil, err
		}
		return append(dst, reason...), nil

	default:
		return nil, newDecodeErr(KindUnsupportedFrame, -1, "unknown frame implementation")
	}
}

// EncodeFrame returns the wire encoding of a single frame.
func EncodeFrame(f Frame) ([]byte, error) {
	return AppendFrame(nil, f)
}

// ParseFrame parses one frame from the start of data and returns it along
// with the number of bytes consumed. A PADDING frame consumes the entire
// leading run of zero bytes.
func ParseFrame(data []byte) (Frame, int, error) {
	if len(data) == 0 {
		return nil, 0, newDecodeErr(KindShortBuffer, 0, "empty buffer")
	}
	t := data[0]

	switch {
	case t == FrameTypePadding:
		n := 0
		for n < len(data) && data[n] == 0x00 {
			n++
		}
		return PaddingFrame{Length: n}, n, nil

	case t == FrameTypePing:
		return PingFrame{}, 1, nil

	case t == FrameTypeAck || t == FrameTypeAckECN:
		return parseAckFrame(data)

	case t >= frameTypeStreamLo && t <= frameTypeStreamHi:
		return parseStreamFrame(data)

	case t == FrameTypeConnectionCloseTransport || t == FrameTypeConnectionCloseApplication:
		return parseConnectionCloseFrame(data)

	default:
		return nil, 0, newDecodeErr(KindUnsupportedFrame, 0, "unrecognized frame type")
	}
}

func parseAckFrame(data []byte) (Frame, int, error) {
	offset := 1
	largestAck, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated largestAck", err)
	}
	offset += n

	ackDelay, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated ackDelay", err)
	}
	offset += n

	rangeCount, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated ackRangeCount", err)
	}
	offset += n

	firstRange, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated firstAckRange", err)
	}
	offset += n

	if firstRange > largestAck {
		return nil, 0, newDecodeErr(KindInvalidAckRange, offset, "firstAckRange exceeds largestAck")
	}

	ranges := make([]AckRange, 0, rangeCount)
	low := largestAck - firstRange
	for i := uint64(0); i < rangeCount; i++ {
		gap, n, err := DecodeVarInt(data[offset:])
		if err != nil {
			return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated ack range gap", err)
		}
		offset += n
		length, n, err := DecodeVarInt(data[offset:])
		if err != nil {
			return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated ack range length", err)
		}
		offset += n
		if gap+length > low {
			return nil, 0, newDecodeErr(KindInvalidAckRange, offset, "ack range does not descend monotonically")
		}
		low -= gap + length
		ranges = append(ranges, AckRange{Gap: gap, Length: length})
	}

	f := AckFrame{
		ECN:           data[0] == FrameTypeAckECN,
		LargestAck:    largestAck,
		AckDelay:      ackDelay,
		FirstAckRange: firstRange,
		Ranges:        ranges,
	}

	if f.ECN {
		ect0, n, err := DecodeVarInt(data[offset:])
		if err != nil {
			return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated ECT0 count", err)
		}
		offset += n
		ect1, n, err := DecodeVarInt(data[offset:])
		if err != nil {
			return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated ECT1 count", err)
		}
		offset += n
		ecnce, n, err := DecodeVarInt(data[offset:])
		if err != nil {
			return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated ECN-CE count", err)
		}
		offset += n
		f.ECNCounts = &ECNCounts{ECT0: ect0, ECT1: ect1, ECNCE: ecnce}
	}

	return f, offset, nil
}

func parseStreamFrame(data []byte) (Frame, int, error) {
	flags := data[0]
	offset := 1

	streamID, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated streamId", err)
	}
	offset += n

	f := StreamFrame{
		StreamID:  streamID,
		HasOffset: flags&streamOffBit != 0,
		HasLength: flags&streamLenBit != 0,
		Fin:       flags&streamFinBit != 0,
	}

	if f.HasOffset {
		off, n, err := DecodeVarInt(data[offset:])
		if err != nil {
			return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated offset", err)
		}
		offset += n
		f.Offset = off
	}

	if f.HasLength {
		length, n, err := DecodeVarInt(data[offset:])
		if err != nil {
			return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated length", err)
		}
		offset += n
		if uint64(len(data)-offset) < length {
			return nil, 0, newDecodeErr(KindShortBuffer, offset, "truncated stream data")
		}
		f.Data = append([]byte(nil), data[offset:offset+int(length)]...)
		offset += int(length)
	} else {
		f.Data = append([]byte(nil), data[offset:]...)
		offset = len(data)
	}

	return f, offset, nil
}

func parseConnectionCloseFrame(data []byte) (Frame, int, error) {
	application := data[0] == FrameTypeConnectionCloseApplication
	offset := 1

	errorCode, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated errorCode", err)
	}
	offset += n

	frameType, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated frameType", err)
	}
	offset += n

	reasonLen, n, err := DecodeVarInt(data[offset:])
	if err != nil {
		return nil, 0, wrapDecodeErr(KindShortBuffer, offset, "truncated reasonLen", err)
	}
	offset += n

	if uint64(len(data)-offset) < reasonLen {
		return nil, 0, newDecodeErr(KindShortBuffer, offset, "truncated reason")
	}
	reason := string(data[offset : offset+int(reasonLen)])
	offset += int(reasonLen)

	return ConnectionCloseFrame{
		Application: application,
		ErrorCode:   errorCode,
		OffendingFrameType:  frameType,
		Reason:      reason,
	}, offset, nil
}

// ParseFrames parses a full packet payload into its constituent frames.
// On error it still returns every frame successfully parsed before the
// failure, so callers can log how far decoding progressed.
func ParseFrames(payload []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset < len(payload) {
		f, n, err := ParseFrame(payload[offset:])
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				de.Offset += offset
			}
			return frames, err
		}
		frames = append(frames, f)
		offset += n
	}
	return frames, nil
}
