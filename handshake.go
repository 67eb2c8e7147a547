package quicvc

import (
	"fmt"
	"log/slog"
)

// ====================================================================
// Handshake state machine
// ====================================================================
//
// HandshakeSession drives one endpoint through the VC handshake. It is a
// pure step function: every method takes wire bytes or a host answer and
// returns wire bytes to send plus, where a host decision is required, a
// HostPrompt describing what's needed. The caller performs the actual
// CredentialVerifier/AdmissionPolicy call (possibly slow, possibly
// remote) and resumes the session with ResumeVerify/ResumeAdmission.
// This keeps the session itself synchronous, transport-free, and free of
// wall-clock time, matching the callback-to-step-function re-architecture
// this profile requires.
//
// Initiator path:   Idle -> AwaitingResponse -> Provisioned -> Authenticated -> Closed
// Responder path:   Idle -> Provisioning     -> Provisioned -> Authenticated -> Closed
// Either path may instead land in Failed(reason).
//
// VC_INIT travels in an INITIAL packet; VC_RESPONSE and VC_ACK travel in
// HANDSHAKE packets, mirroring where real QUIC carries the corresponding
// parts of a TLS handshake.
// ====================================================================

// Role distinguishes the two sides of a handshake.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "Responder"
	}
	return "Initiator"
}

// State is a HandshakeSession's position in the FSM.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateProvisioning
	StateProvisioned
	StateAuthenticated
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateProvisioning:
		return "Provisioning"
	case StateProvisioned:
		return "Provisioned"
	case StateAuthenticated:
		return "Authenticated"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FailReason qualifies the StateFailed state.
type FailReason int

const (
	FailReasonNone FailReason = iota
	FailReasonCredentialRejected
	FailReasonRejected
	FailReasonTimeout
	FailReasonProtocolViolation
)

func (r FailReason) String() string {
	switch r {
	case FailReasonNone:
		return "None"
	case FailReasonCredentialRejected:
		return "CredentialRejected"
	case FailReasonRejected:
		return "Rejected"
	case FailReasonTimeout:
		return "Timeout"
	case FailReasonProtocolViolation:
		return "ProtocolViolation"
	default:
		return fmt.Sprintf("FailReason(%d)", int(r))
	}
}

// event drives the legality table below; it is internal, the exported
// surface is the HandshakeSession methods.
type event int

const (
	eventRecvInitial event = iota
	eventAdmissionDecided
	eventRecvResponseOK
	eventRecvResponseAlreadyOwned
	eventRecvResponseError
	eventVerifyOK
	eventVerifyFail
	eventRecvAckSuccess
	eventRecv1RTT
	eventRecvClose
	eventLocalClose
	eventTimeout
	eventMalformed
)

type stateEvent struct {
	state State
	event event
}

// fsmTable lists every legal (state, event) pair and its destination
// state. An entry absent from this table means that event cannot legally
// occur in that state; callers hitting that case have a caller bug, not
// a wire error, since wire errors are filtered out before events reach
// the table (malformed input maps to eventMalformed instead).
var fsmTable = map[stateEvent]State{
	{StateIdle, eventRecvInitial}:             StateProvisioning,
	{StateIdle, eventMalformed}:                StateFailed,
	{StateProvisioning, eventRecvInitial}:      StateProvisioning, // duplicate VC_INIT: ignored
	{StateProvisioning, eventAdmissionDecided}: StateProvisioned,
	{StateProvisioning, eventMalformed}:        StateFailed,
	{StateProvisioning, eventTimeout}:          StateFailed,

	{StateAwaitingResponse, eventRecvResponseOK}:           StateProvisioned,
	{StateAwaitingResponse, eventRecvResponseAlreadyOwned}: StateProvisioned,
	{StateAwaitingResponse, eventRecvResponseError}:        StateFailed,
	{StateAwaitingResponse, eventVerifyFail}:                StateFailed,
	{StateAwaitingResponse, eventVerifyOK}:                 StateProvisioned,
	{StateAwaitingResponse, eventTimeout}:                  StateFailed,
	{StateAwaitingResponse, eventMalformed}:                StateFailed,

	{StateProvisioned, eventRecv1RTT}:        StateAuthenticated,
	{StateProvisioned, eventRecvAckSuccess}:  StateAuthenticated,
	{StateProvisioned, eventTimeout}:         StateFailed,

	{StateAuthenticated, eventRecvClose}:        StateClosed,
	{StateAuthenticated, eventLocalClose}:       StateClosed,
	{StateAuthenticated, eventRecvAckSuccess}:   StateAuthenticated, // redundant VC_ACK: idempotent
}

// applyEvent reports the destination state for (state, event), or ok=false
// if that transition is not in the table.
func applyEvent(state State, ev event) (State, bool) {
	ns, ok := fsmTable[stateEvent{state, ev}]
	return ns, ok
}

// HostPromptKind identifies which host hook a HostPrompt is asking for.
type HostPromptKind int

const (
	PromptNone HostPromptKind = iota
	PromptVerify
	PromptAdmission
)

// HostPrompt is returned by a step method when it needs a host decision
// before it can continue. The caller performs the corresponding host call
// and resumes via ResumeVerify or ResumeAdmission.
type HostPrompt struct {
	Kind       HostPromptKind
	Microdata  string                    // set when Kind == PromptVerify
	Credential *DeviceIdentityCredential // set when Kind == PromptAdmission
}

// SessionStats reports simple lifetime counters for diagnostics; it is
// not part of the wire protocol.
type SessionStats struct {
	FramesSent     int
	FramesReceived int
	BytesSent      int
	BytesReceived  int
}

const (
	defaultConnIDLen  = 8
	defaultPNLen      = 4
)

// HandshakeSession drives one side of a VC handshake. It holds no
// goroutines, timers, or sockets; all time-dependent behavior (timeouts)
// is triggered by the caller invoking Timeout.
type HandshakeSession struct {
	role Role
	rs   RandomSource

	state      State
	failReason FailReason

	ownCredential *DeviceIdentityCredential
	verifier      CredentialVerifier // initiator only
	policy        AdmissionPolicy    // responder only

	dcid []byte
	scid []byte

	deviceID string
	owner    string

	pendingCredential *DeviceIdentityCredential // responder awaiting admission decision
	pendingResponse   VCResponseBody            // initiator awaiting verify result

	nextPN uint64
	stats  SessionStats

	logger *slog.Logger
}

// NewInitiator constructs a session that will open the handshake,
// presenting credential and verifying the responder's credential with
// verifier.
func NewInitiator(rs RandomSource, credential *DeviceIdentityCredential, verifier CredentialVerifier) *HandshakeSession {
	if rs == nil {
		rs = DefaultRandomSource
	}
	return &HandshakeSession{
		role:          RoleInitiator,
		rs:            rs,
		state:         StateIdle,
		ownCredential: credential,
		verifier:      verifier,
		logger:        slog.Default(),
	}
}

// NewResponder constructs a session that will admit an incoming
// handshake using policy. credential is the responder's own credential to
// present in VC_RESPONSE; it may be nil.
func NewResponder(rs RandomSource, credential *DeviceIdentityCredential, policy AdmissionPolicy) *HandshakeSession {
	if rs == nil {
		rs = DefaultRandomSource
	}
	return &HandshakeSession{
		role:          RoleResponder,
		rs:            rs,
		state:         StateIdle,
		ownCredential: credential,
		policy:        policy,
		logger:        slog.Default(),
	}
}

// SetLogger overrides the session's logger, which otherwise defaults to
// slog.Default(). The pure codec functions elsewhere in this package
// never log; only the stateful session does, and only at state
// transitions and rejections.
func (s *HandshakeSession) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *HandshakeSession) Role() Role             { return s.role }
func (s *HandshakeSession) State() State           { return s.state }
func (s *HandshakeSession) FailReason() FailReason { return s.failReason }
func (s *HandshakeSession) DeviceID() string       { return s.deviceID }
func (s *HandshakeSession) Owner() string          { return s.owner }
func (s *HandshakeSession) Stats() SessionStats    { return s.stats }

// setState records a transition and logs it at Debug, naming both the
// old and new state explicitly rather than just the destination.
func (s *HandshakeSession) setState(ns State) {
	old := s.state
	s.state = ns
	s.logger.Debug("handshake state transition",
		slog.String("role", s.role.String()),
		slog.String("old_state", old.String()),
		slog.String("new_state", ns.String()),
	)
}

func (s *HandshakeSession) nextPacketNumber() uint64 {
	pn := s.nextPN
	s.nextPN++
	return pn
}

// appendMixed appends frames, which may be a mix of Frame and VCFrame
// concrete values, to dst in order.
func appendMixed(dst []byte, frames ...interface{}) ([]byte, error) {
	var err error
	for _, f := range frames {
		switch v := f.(type) {
		case VCFrame:
			dst, err = AppendVCFrame(dst, v)
		case Frame:
			dst, err = AppendFrame(dst, v)
		default:
			return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "not a frame value")
		}
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func (s *HandshakeSession) buildLongPacket(typ PacketType, frames ...interface{}) ([]byte, error) {
	payload, err := appendMixed(nil, frames...)
	if err != nil {
		return nil, err
	}
	h := &LongHeader{
		Type:            typ,
		Version:         Version1,
		DCID:            s.dcid,
		SCID:            s.scid,
		PacketNumber:    s.nextPacketNumber(),
		PacketNumberLen: defaultPNLen,
		Payload:         payload,
	}
	pkt, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	s.stats.FramesSent += len(frames)
	s.stats.BytesSent += len(pkt)
	return pkt, nil
}

// parseMixedFrames parses a packet payload that may interleave generic
// QUIC frames (PADDING, PING, ...) with VC extension frames, since VC
// frame codepoints (0xF0-0xF4) fall outside the generic frame codec's
// range (0x00-0x1D).
func parseMixedFrames(payload []byte) ([]interface{}, error) {
	var out []interface{}
	offset := 0
	for offset < len(payload) {
		t := payload[offset]
		if t >= VCFrameTypeInit && t <= VCFrameTypeHeartbeat {
			f, n, err := ParseVCFrame(payload[offset:])
			if err != nil {
				if de, ok := err.(*DecodeError); ok {
					de.Offset += offset
				}
				return out, err
			}
			out = append(out, f)
			offset += n
			continue
		}
		f, n, err := ParseFrame(payload[offset:])
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				de.Offset += offset
			}
			return out, err
		}
		out = append(out, f)
		offset += n
	}
	return out, nil
}

func findVCInit(frames []interface{}) (VCInitFrame, bool) {
	for _, f := range frames {
		if v, ok := f.(VCInitFrame); ok {
			return v, true
		}
	}
	return VCInitFrame{}, false
}

func findVCResponse(frames []interface{}) (VCResponseFrame, bool) {
	for _, f := range frames {
		if v, ok := f.(VCResponseFrame); ok {
			return v, true
		}
	}
	return VCResponseFrame{}, false
}

func findVCAck(frames []interface{}) (VCAckFrame, bool) {
	for _, f := range frames {
		if v, ok := f.(VCAckFrame); ok {
			return v, true
		}
	}
	return VCAckFrame{}, false
}

func findConnectionClose(frames []interface{}) (ConnectionCloseFrame, bool) {
	for _, f := range frames {
		if v, ok := f.(ConnectionCloseFrame); ok {
			return v, true
		}
	}
	return ConnectionCloseFrame{}, false
}

// closeFrame builds a CONNECTION_CLOSE packet and marks the session
// Failed or Closed depending on why.
func (s *HandshakeSession) closeWith(code uint64, reason string, failReason FailReason) ([]byte, error) {
	if failReason == FailReasonNone {
		s.setState(StateClosed)
	} else {
		s.logger.Warn("handshake failing",
			slog.String("role", s.role.String()),
			slog.String("reason", failReason.String()),
			slog.String("detail", reason),
		)
		s.setState(StateFailed)
		s.failReason = failReason
	}
	return s.buildLongPacket(PacketTypeHandshake, ConnectionCloseFrame{
		ErrorCode: code,
		Reason:    reason,
	})
}

// Start begins the handshake as an initiator: it generates a fresh
// DCID/SCID pair and returns an INITIAL packet carrying VC_INIT.
func (s *HandshakeSession) Start() ([]byte, error) {
	if s.role != RoleInitiator {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "Start is only valid for an initiator session")
	}
	if s.state != StateIdle {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "Start called outside Idle")
	}
	if s.ownCredential == nil {
		return nil, newDecodeErr(KindInvalidCredentialMicrodata, -1, "initiator has no credential to present")
	}

	dcid, err := GenerateConnectionID(s.rs, defaultConnIDLen)
	if err != nil {
		return nil, err
	}
	scid, err := GenerateConnectionID(s.rs, defaultConnIDLen)
	if err != nil {
		return nil, err
	}
	s.dcid, s.scid = dcid, scid

	pkt, err := s.buildLongPacket(PacketTypeInitial, VCInitFrame{Microdata: s.ownCredential.Marshal()})
	if err != nil {
		return nil, err
	}
	s.setState(StateAwaitingResponse)
	return pkt, nil
}

// HandleInitial processes an inbound INITIAL packet as a responder. On
// success it returns a HostPrompt asking the caller to run the admission
// policy; resume with ResumeAdmission. A malformed packet, or a VC_INIT
// missing the credential marker, instead returns a CONNECTION_CLOSE
// packet to send and moves the session to Failed(ProtocolViolation).
//
// A duplicate VC_INIT received after the session already left Idle is
// ignored: nil prompt, nil outbound bytes, nil error.
func (s *HandshakeSession) HandleInitial(data []byte) (outbound []byte, prompt *HostPrompt, err error) {
	if s.role != RoleResponder {
		return nil, nil, newDecodeErr(KindUnexpectedVcFrame, -1, "HandleInitial is only valid for a responder session")
	}

	h, perr := ParseLongHeader(data)
	if perr != nil || h.Type != PacketTypeInitial {
		reason := "malformed INITIAL"
		if de, ok := perr.(*DecodeError); ok && de.Kind == KindConnectionIdTooLong {
			reason = "CID too long"
		}
		pkt, cerr := s.closeWith(ErrProtocolViolation, reason, FailReasonProtocolViolation)
		if cerr != nil {
			return nil, nil, cerr
		}
		return pkt, nil, nil
	}

	frames, perr := parseMixedFrames(h.Payload)
	s.stats.BytesReceived += len(data)
	s.stats.FramesReceived += len(frames)
	init, found := findVCInit(frames)
	if perr != nil || !found {
		pkt, cerr := s.closeWith(ErrProtocolViolation, "INITIAL missing valid VC_INIT", FailReasonProtocolViolation)
		if cerr != nil {
			return nil, nil, cerr
		}
		return pkt, nil, nil
	}

	if s.state != StateIdle {
		// Duplicate VC_INIT after provisioning is idempotent: ignore.
		return nil, nil, nil
	}

	ns, ok := applyEvent(s.state, eventRecvInitial)
	if !ok {
		return nil, nil, newDecodeErr(KindUnexpectedVcFrame, -1, "unexpected INITIAL in state "+s.state.String())
	}

	cred, cerr := ParseDeviceIdentityCredential(init.Microdata)
	if cerr != nil {
		pkt, err2 := s.closeWith(ErrProtocolViolation, "unparseable credential microdata", FailReasonProtocolViolation)
		if err2 != nil {
			return nil, nil, err2
		}
		return pkt, nil, nil
	}

	s.dcid = append([]byte(nil), h.SCID...)
	s.scid = append([]byte(nil), h.DCID...)
	s.setState(ns)
	s.pendingCredential = cred

	return nil, &HostPrompt{Kind: PromptAdmission, Credential: cred}, nil
}

// ResumeAdmission continues a responder session after HandleInitial
// returned a PromptAdmission HostPrompt, supplying the AdmissionPolicy's
// decision. It returns the HANDSHAKE packet (VC_RESPONSE, and for Reject
// also a CONNECTION_CLOSE) to send.
func (s *HandshakeSession) ResumeAdmission(decision AdmissionDecision) ([]byte, error) {
	if s.state != StateProvisioning {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "ResumeAdmission called outside Provisioning")
	}

	if decision.Action == AdmissionReject {
		s.logger.Warn("admission rejected",
			slog.String("role", s.role.String()),
			slog.String("reason", decision.Reason),
		)
		s.setState(StateFailed)
		s.failReason = FailReasonRejected
		respPkt, err := s.buildLongPacket(PacketTypeHandshake, VCResponseFrame{
			Body: VCResponseBody{Status: VCStatusError, Error: decision.Reason},
		})
		if err != nil {
			return nil, err
		}
		closePkt, err := s.buildLongPacket(PacketTypeHandshake, ConnectionCloseFrame{
			ErrorCode: ErrCredentialRejected,
			Reason:    decision.Reason,
		})
		if err != nil {
			return nil, err
		}
		return append(respPkt, closePkt...), nil
	}

	ns, ok := applyEvent(s.state, eventAdmissionDecided)
	if !ok {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "illegal admission transition")
	}

	var status VCResponseStatus
	switch decision.Action {
	case AdmissionProvision:
		status = VCStatusProvisioned
	case AdmissionAuthenticate:
		status = VCStatusAuthenticated
	case AdmissionAlreadyOwned:
		status = VCStatusAlreadyOwned
	default:
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "unknown admission action")
	}

	s.deviceID = decision.DeviceID
	s.owner = decision.Owner
	s.setState(ns)

	body := VCResponseBody{Status: status, DeviceID: decision.DeviceID, Owner: decision.Owner}
	var md string
	if s.ownCredential != nil {
		md = s.ownCredential.Marshal()
	}
	return s.buildLongPacket(PacketTypeHandshake, VCResponseFrame{
		Microdata: md,
		Body:      body,
	})
}

// HandleResponse processes an inbound HANDSHAKE packet carrying
// VC_RESPONSE as an initiator. For status "already_owned" it transitions
// straight to Provisioned with no host prompt. For "provisioned" or
// "authenticated" it returns a PromptVerify HostPrompt; resume with
// ResumeVerify. For "error"/"revoked" it fails the session directly.
func (s *HandshakeSession) HandleResponse(data []byte) (outbound []byte, prompt *HostPrompt, err error) {
	if s.role != RoleInitiator {
		return nil, nil, newDecodeErr(KindUnexpectedVcFrame, -1, "HandleResponse is only valid for an initiator session")
	}
	if s.state != StateAwaitingResponse {
		return nil, nil, newDecodeErr(KindUnexpectedVcFrame, -1, "unexpected VC_RESPONSE in state "+s.state.String())
	}

	h, perr := ParseLongHeader(data)
	if perr != nil {
		pkt, cerr := s.closeWith(ErrProtocolViolation, "malformed HANDSHAKE packet", FailReasonProtocolViolation)
		return pkt, nil, cerr
	}

	frames, perr := parseMixedFrames(h.Payload)
	s.stats.BytesReceived += len(data)
	s.stats.FramesReceived += len(frames)
	resp, found := findVCResponse(frames)
	if perr != nil || !found {
		pkt, cerr := s.closeWith(ErrProtocolViolation, "HANDSHAKE missing VC_RESPONSE", FailReasonProtocolViolation)
		return pkt, nil, cerr
	}

	switch resp.Body.Status {
	case VCStatusAlreadyOwned:
		ns, ok := applyEvent(s.state, eventRecvResponseAlreadyOwned)
		if !ok {
			return nil, nil, newDecodeErr(KindUnexpectedVcFrame, -1, "illegal already_owned transition")
		}
		s.setState(ns)
		s.deviceID = resp.Body.DeviceID
		s.owner = resp.Body.Owner
		return nil, nil, nil

	case VCStatusProvisioned, VCStatusAuthenticated:
		md := resp.Microdata
		if md == "" {
			md = resp.Body.CredentialMicrodata
		}
		s.pendingResponse = resp.Body
		return nil, &HostPrompt{Kind: PromptVerify, Microdata: md}, nil

	case VCStatusError, VCStatusRevoked:
		ns, ok := applyEvent(s.state, eventRecvResponseError)
		if !ok {
			return nil, nil, newDecodeErr(KindUnexpectedVcFrame, -1, "illegal error-response transition")
		}
		s.logger.Warn("credential rejected by peer",
			slog.String("role", s.role.String()),
			slog.String("status", string(resp.Body.Status)),
		)
		s.setState(ns)
		s.failReason = FailReasonCredentialRejected
		pkt, err := s.buildLongPacket(PacketTypeHandshake, ConnectionCloseFrame{
			ErrorCode: ErrCredentialRejected,
			Reason:    "peer reported " + string(resp.Body.Status),
		})
		return pkt, nil, err

	default:
		pkt, cerr := s.closeWith(ErrProtocolViolation, "unrecognized VC_RESPONSE status", FailReasonProtocolViolation)
		return pkt, nil, cerr
	}
}

// ResumeVerify continues an initiator session after HandleResponse
// returned a PromptVerify HostPrompt, supplying the CredentialVerifier's
// result. On success it returns the VC_ACK packet to send. On failure it
// returns a CONNECTION_CLOSE packet and fails the session.
func (s *HandshakeSession) ResumeVerify(verified *VerifiedCredential, verifyErr error) ([]byte, error) {
	if s.state != StateAwaitingResponse {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "ResumeVerify called outside AwaitingResponse")
	}

	if verifyErr != nil || verified == nil {
		ns, ok := applyEvent(s.state, eventVerifyFail)
		if !ok {
			return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "illegal verify-fail transition")
		}
		s.logger.Warn("local verification of peer credential failed",
			slog.String("role", s.role.String()),
		)
		s.setState(ns)
		s.failReason = FailReasonCredentialRejected
		return s.buildLongPacket(PacketTypeHandshake, ConnectionCloseFrame{
			ErrorCode: ErrCredentialRejected,
			Reason:    "credential verification failed",
		})
	}

	ns, ok := applyEvent(s.state, eventVerifyOK)
	if !ok {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "illegal verify-ok transition")
	}
	s.setState(ns)
	s.deviceID = s.pendingResponse.DeviceID
	s.owner = s.pendingResponse.Owner

	return s.buildLongPacket(PacketTypeHandshake, VCAckFrame{
		DeviceID: s.deviceID,
		Status:   VCAckSuccess,
	})
}

// HandleAck processes an inbound HANDSHAKE packet carrying VC_ACK as a
// responder, transitioning Provisioned -> Authenticated on a success ack
// for the right device. A redundant ack (already Authenticated) is
// accepted without error, per the open question on already_owned acks.
func (s *HandshakeSession) HandleAck(data []byte) error {
	if s.role != RoleResponder {
		return newDecodeErr(KindUnexpectedVcFrame, -1, "HandleAck is only valid for a responder session")
	}

	h, perr := ParseLongHeader(data)
	if perr != nil {
		return perr
	}
	frames, perr := parseMixedFrames(h.Payload)
	s.stats.BytesReceived += len(data)
	s.stats.FramesReceived += len(frames)
	ack, found := findVCAck(frames)
	if perr != nil || !found {
		return newDecodeErr(KindUnexpectedVcFrame, -1, "HANDSHAKE missing VC_ACK")
	}
	if ack.Status != VCAckSuccess || ack.DeviceID != s.deviceID {
		return nil
	}

	ns, ok := applyEvent(s.state, eventRecvAckSuccess)
	if !ok {
		return newDecodeErr(KindUnexpectedVcFrame, -1, "unexpected VC_ACK in state "+s.state.String())
	}
	s.setState(ns)
	return nil
}

// Handle1RTT notifies the session that a short-header packet arrived. For
// an initiator session sitting in Provisioned (the already_owned path,
// which has no VC_ACK to drive the final transition), this completes the
// handshake.
func (s *HandshakeSession) Handle1RTT(data []byte) error {
	if _, err := ParseShortHeader(data, defaultConnIDLen); err != nil {
		return err
	}
	s.stats.BytesReceived += len(data)
	if s.role != RoleInitiator || s.state != StateProvisioned {
		return nil
	}
	ns, ok := applyEvent(s.state, eventRecv1RTT)
	if !ok {
		return nil
	}
	s.setState(ns)
	return nil
}

// Timeout fails the session after the caller's own deadline for an
// expected VC_RESPONSE/VC_ACK elapses.
func (s *HandshakeSession) Timeout() ([]byte, error) {
	ns, ok := applyEvent(s.state, eventTimeout)
	if !ok {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "Timeout called outside an awaiting state")
	}
	s.logger.Warn("handshake timed out", slog.String("role", s.role.String()))
	s.setState(ns)
	s.failReason = FailReasonTimeout
	return s.buildLongPacket(PacketTypeHandshake, ConnectionCloseFrame{ErrorCode: ErrNoError})
}

// Close ends an Authenticated session locally.
func (s *HandshakeSession) Close() ([]byte, error) {
	ns, ok := applyEvent(s.state, eventLocalClose)
	if !ok {
		return nil, newDecodeErr(KindUnexpectedVcFrame, -1, "Close called outside Authenticated")
	}
	s.setState(ns)
	return s.buildLongPacket(PacketTypeHandshake, ConnectionCloseFrame{
		Application: true,
		ErrorCode:   ErrNoError,
	})
}

// HandleClose processes an inbound CONNECTION_CLOSE, ending the session.
func (s *HandshakeSession) HandleClose(data []byte) error {
	h, err := ParseLongHeader(data)
	if err != nil {
		return err
	}
	frames, err := parseMixedFrames(h.Payload)
	s.stats.BytesReceived += len(data)
	s.stats.FramesReceived += len(frames)
	if _, found := findConnectionClose(frames); !found {
		return newDecodeErr(KindUnexpectedVcFrame, -1, "packet does not carry CONNECTION_CLOSE")
	}
	if s.state != StateAuthenticated {
		s.setState(StateClosed)
		return nil
	}
	ns, ok := applyEvent(s.state, eventRecvClose)
	if !ok {
		s.setState(StateClosed)
		return nil
	}
	s.setState(ns)
	return nil
}
