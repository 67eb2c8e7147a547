// Package quicvc implements the QUIC-VC wire codec: a binary packet and
// frame serializer/parser that follows the QUIC transport framing format
// (RFC 9000) but substitutes the TLS handshake with a Verifiable-Credential
// exchange carried in extension frames (VC_INIT, VC_RESPONSE, VC_ACK,
// DISCOVERY, HEARTBEAT).
//
// The package is a pure byte-in/byte-out library: it does not open sockets,
// read files, or touch wall-clock time. Congestion control, loss recovery,
// and AEAD record protection of the data-plane payload are the caller's
// responsibility — this package exposes integration points
// (RandomSource, CredentialVerifier, AdmissionPolicy) for a host to supply
// them.
//
// Five components cooperate, leaves first: the varint codec (varint.go),
// the packet header codec (header.go), the generic QUIC frame codec
// (frame.go), the VC extension frame codec (vcframe.go), and the handshake
// state machine (handshake.go) that drives an endpoint through
// Idle -> Initiating/Provisioning -> Provisioned -> Authenticated -> Closed.
package quicvc
