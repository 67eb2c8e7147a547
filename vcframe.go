package quicvc

import (
	"encoding/binary"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ====================================================================
// VC extension frame codec
// ====================================================================
//
// Four of the five frames share one envelope: [type:1][length:u16 BE]
// [payload]. VC_RESPONSE instead carries two length-prefixed sections,
// one for the credential microdata and one for the JSON response body:
//
//	[type:1][mdLen:u16 BE][md][respLen:u16 BE][respJson]
//
// Credential payloads (VC_INIT, and VC_RESPONSE's md section when
// non-empty) are UTF-8 microdata documents; this layer checks only for
// the presence of the DeviceIdentityCredential marker, never the
// cryptographic proof — that is the handshake's CredentialVerifier hook.
// Every other payload is a small, closed-schema JSON object.
// ====================================================================

const (
	VCFrameTypeInit      byte = 0xF0
	VCFrameTypeResponse  byte = 0xF1
	VCFrameTypeAck       byte = 0xF2
	VCFrameTypeDiscovery byte = 0xF3
	VCFrameTypeHeartbeat byte = 0xF4
)

// credentialMicrodataMarker must appear verbatim in any payload claiming
// to carry a DeviceIdentityCredential.
const credentialMicrodataMarker = `itemtype="//refin.io/DeviceIdentityCredential"`

// VCFrame is the tagged-union of the five VC extension frames.
type VCFrame interface {
	VCType() byte
}

// VCInitFrame opens a handshake, carrying the initiator's credential.
type VCInitFrame struct {
	Microdata string
}

func (VCInitFrame) VCType() byte { return VCFrameTypeInit }

// VCResponseStatus enumerates VCResponseBody.Status values.
type VCResponseStatus string

const (
	VCStatusProvisioned   VCResponseStatus = "provisioned"
	VCStatusAuthenticated VCResponseStatus = "authenticated"
	VCStatusAlreadyOwned  VCResponseStatus = "already_owned"
	VCStatusRevoked       VCResponseStatus = "revoked"
	VCStatusError         VCResponseStatus = "error"
)

// VCResponseBody is the JSON half of a VC_RESPONSE frame. Field names
// follow the wire's canonical casing exactly, including the one
// camelCase exception (CredentialMicrodata); absence is represented by
// omission, never null.
type VCResponseBody struct {
	Status              VCResponseStatus `json:"status"`
	DeviceID            string           `json:"device_id,omitempty"`
	Owner               string           `json:"owner,omitempty"`
	Message             string           `json:"message,omitempty"`
	Error               string           `json:"error,omitempty"`
	CredentialMicrodata string           `json:"credentialMicrodata,omitempty"`
}

// VCResponseFrame answers a VC_INIT. Microdata is the responder's own
// credential in content-addressable form; it may be empty.
//
// If both Microdata and Body.CredentialMicrodata are populated, Microdata
// (the dedicated section) is authoritative.
type VCResponseFrame struct {
	Microdata string
	Body      VCResponseBody
}

func (VCResponseFrame) VCType() byte { return VCFrameTypeResponse }

// vcAckBody is VC_ACK's JSON payload. Type duplicates the outer frame
// type byte for diagnostic parsers that only see the decoded JSON.
type vcAckBody struct {
	Type     byte   `json:"type"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// VCAckStatus enumerates VCAckFrame.Status values.
type VCAckStatus string

const (
	VCAckSuccess VCAckStatus = "success"
	VCAckFailure VCAckStatus = "failure"
)

// VCAckFrame closes out a successful handshake from the initiator's side.
type VCAckFrame struct {
	DeviceID string
	Status   VCAckStatus
	Message  string
}

func (VCAckFrame) VCType() byte { return VCFrameTypeAck }

// discoveryBody is DISCOVERY's JSON payload.
type discoveryBody struct {
	Type         byte   `json:"type"`
	DeviceID     string `json:"deviceId"`
	DeviceType   uint8  `json:"deviceType"`
	Ownership    uint8  `json:"ownership"`
	Capabilities string `json:"capabilities"`
	Timestamp    uint64 `json:"timestamp"`
}

// DiscoveryFrame is an unacknowledged, broadcast-shaped presence
// announcement. Ownership is 0 (unclaimed) or 1 (owned).
type DiscoveryFrame struct {
	DeviceID     string
	DeviceType   uint8
	Ownership    uint8
	Capabilities string
	Timestamp    uint64
}

func (DiscoveryFrame) VCType() byte { return VCFrameTypeDiscovery }

// heartbeatBody is HEARTBEAT's JSON payload.
type heartbeatBody struct {
	Type     byte   `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Timestamp uint64 `json:"timestamp"`
	Status   string `json:"status,omitempty"`
}

// HeartbeatFrame is a liveness signal; Status is opaque to this layer.
type HeartbeatFrame struct {
	DeviceID  string
	Timestamp uint64
	Status    string
}

func (HeartbeatFrame) VCType() byte { return VCFrameTypeHeartbeat }

// validateMicrodata checks a non-empty credential payload for the
// structural marker this profile requires; it does not validate the
// cryptographic proof.
func validateMicrodata(md string, offset int) error {
	if !utf8.ValidString(md) {
		return newDecodeErr(KindInvalidCredentialMicrodata, offset, "credential microdata is not valid UTF-8")
	}
	if !strings.Contains(md, credentialMicrodataMarker) {
		return newDecodeErr(KindInvalidCredentialMicrodata, offset, "missing DeviceIdentityCredential marker")
	}
	return nil
}

func appendU16(dst []byte, v int) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return append(dst, b[:]...)
}

// AppendVCFrame appends the wire encoding of f to dst.
func AppendVCFrame(dst []byte, f VCFrame) ([]byte, error) {
	switch v := f.(type) {
	case VCInitFrame:
		if v.Microdata == "" {
			return nil, newDecodeErr(KindInvalidCredentialMicrodata, -1, "VC_INIT credential microdata must not be empty")
		}
		if err := validateMicrodata(v.Microdata, -1); err != nil {
			return nil, err
		}
		payload := []byte(v.Microdata)
		dst = append(dst, VCFrameTypeInit)
		dst = appendU16(dst, len(payload))
		return append(dst, payload...), nil

	case VCResponseFrame:
		if v.Microdata != "" {
			if err := validateMicrodata(v.Microdata, -1); err != nil {
				return nil, err
			}
		}
		respJSON, err := json.Marshal(v.Body)
		if err != nil {
			return nil, wrapDecodeErr(KindInvalidResponseJson, -1, "marshal VC_RESPONSE body", err)
		}
		md := []byte(v.Microdata)
		dst = append(dst, VCFrameTypeResponse)
		dst = appendU16(dst, len(md))
		dst = append(dst, md...)
		dst = appendU16(dst, len(respJSON))
		return append(dst, respJSON...), nil

	case VCAckFrame:
		body := vcAckBody{Type: VCFrameTypeAck, DeviceID: v.DeviceID, Status: string(v.Status), Message: v.Message}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, wrapDecodeErr(KindInvalidResponseJson, -1, "marshal VC_ACK body", err)
		}
		dst = append(dst, VCFrameTypeAck)
		dst = appendU16(dst, len(payload))
		return append(dst, payload...), nil

	case DiscoveryFrame:
		body := discoveryBody{
			Type: VCFrameTypeDiscovery, DeviceID: v.DeviceID, DeviceType: v.DeviceType,
			Ownership: v.Ownership, Capabilities: v.Capabilities, Timestamp: v.Timestamp,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, wrapDecodeErr(KindInvalidResponseJson, -1, "marshal DISCOVERY body", err)
		}
		dst = append(dst, VCFrameTypeDiscovery)
		dst = appendU16(dst, len(payload))
		return append(dst, payload...), nil

	case HeartbeatFrame:
		body := heartbeatBody{Type: VCFrameTypeHeartbeat, DeviceID: v.DeviceID, Timestamp: v.Timestamp, Status: v.Status}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, wrapDecodeErr(KindInvalidResponseJson, -1, "marshal HEARTBEAT body", err)
		}
		dst = append(dst, VCFrameTypeHeartbeat)
		dst = appendU16(dst, len(payload))
		return append(dst, payload...), nil

	default:
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "unknown VC frame implementation")
	}
}

// EncodeVCFrame returns the wire encoding of a single VC frame.
func EncodeVCFrame(f VCFrame) ([]byte, error) {
	return AppendVCFrame(nil, f)
}

func readU16(data []byte, offset int) (int, error) {
	if len(data) < offset+2 {
		return 0, newDecodeErr(KindShortBuffer, offset, "truncated length field")
	}
	return int(binary.BigEndian.Uint16(data[offset : offset+2])), nil
}

// ParseVCFrame parses one VC extension frame from the start of data and
// returns it along with the number of bytes consumed.
func ParseVCFrame(data []byte) (VCFrame, int, error) {
	if len(data) < 1 {
		return nil, 0, newDecodeErr(KindShortBuffer, 0, "empty buffer")
	}
	t := data[0]

	switch t {
	case VCFrameTypeInit:
		length, err := readU16(data, 1)
		if err != nil {
			return nil, 0, err
		}
		if length == 0 {
			return nil, 0, newDecodeErr(KindInvalidCredentialMicrodata, 1, "VC_INIT length must not be zero")
		}
		if len(data) < 3+length {
			return nil, 0, newDecodeErr(KindShortBuffer, 3, "truncated VC_INIT payload")
		}
		md := string(data[3 : 3+length])
		if err := validateMicrodata(md, 3); err != nil {
			return nil, 0, err
		}
		return VCInitFrame{Microdata: md}, 3 + length, nil

	case VCFrameTypeResponse:
		mdLen, err := readU16(data, 1)
		if err != nil {
			return nil, 0, err
		}
		offset := 3
		if len(data) < offset+mdLen {
			return nil, 0, newDecodeErr(KindShortBuffer, offset, "truncated VC_RESPONSE microdata")
		}
		md := string(data[offset : offset+mdLen])
		if mdLen > 0 {
			if err := validateMicrodata(md, offset); err != nil {
				return nil, 0, err
			}
		}
		offset += mdLen

		respLen, err := readU16(data, offset)
		if err != nil {
			return nil, 0, err
		}
		offset += 2
		if len(data) < offset+respLen {
			return nil, 0, newDecodeErr(KindShortBuffer, offset, "truncated VC_RESPONSE JSON body")
		}
		var body VCResponseBody
		if err := json.Unmarshal(data[offset:offset+respLen], &body); err != nil {
			return nil, 0, wrapDecodeErr(KindInvalidResponseJson, offset, "unmarshal VC_RESPONSE body", err)
		}
		offset += respLen

		return VCResponseFrame{Microdata: md, Body: body}, offset, nil

	case VCFrameTypeAck:
		length, err := readU16(data, 1)
		if err != nil {
			return nil, 0, err
		}
		if len(data) < 3+length {
			return nil, 0, newDecodeErr(KindShortBuffer, 3, "truncated VC_ACK payload")
		}
		var body vcAckBody
		if length > 0 {
			if err := json.Unmarshal(data[3:3+length], &body); err != nil {
				return nil, 0, wrapDecodeErr(KindInvalidResponseJson, 3, "unmarshal VC_ACK body", err)
			}
		}
		return VCAckFrame{DeviceID: body.DeviceID, Status: VCAckStatus(body.Status), Message: body.Message}, 3 + length, nil

	case VCFrameTypeDiscovery:
		length, err := readU16(data, 1)
		if err != nil {
			return nil, 0, err
		}
		if len(data) < 3+length {
			return nil, 0, newDecodeErr(KindShortBuffer, 3, "truncated DISCOVERY payload")
		}
		var body discoveryBody
		if length > 0 {
			if err := json.Unmarshal(data[3:3+length], &body); err != nil {
				return nil, 0, wrapDecodeErr(KindInvalidResponseJson, 3, "unmarshal DISCOVERY body", err)
			}
		}
		return DiscoveryFrame{
			DeviceID: body.DeviceID, DeviceType: body.DeviceType, Ownership: body.Ownership,
			Capabilities: body.Capabilities, Timestamp: body.Timestamp,
		}, 3 + length, nil

	case VCFrameTypeHeartbeat:
		length, err := readU16(data, 1)
		if err != nil {
			return nil, 0, err
		}
		if len(data) < 3+length {
			return nil, 0, newDecodeErr(KindShortBuffer, 3, "truncated HEARTBEAT payload")
		}
		var body heartbeatBody
		if length > 0 {
			if err := json.Unmarshal(data[3:3+length], &body); err != nil {
				return nil, 0, wrapDecodeErr(KindInvalidResponseJson, 3, "unmarshal HEARTBEAT body", err)
			}
		}
		return HeartbeatFrame{DeviceID: body.DeviceID, Timestamp: body.Timestamp, Status: body.Status}, 3 + length, nil

	default:
		return nil, 0, newDecodeErr(KindUnexpectedVcFrame, 0, "unrecognized VC frame type")
	}
}
