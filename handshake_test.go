package quicvc

import "testing"

// acceptVerifier always verifies successfully, returning the parsed
// credential back to the caller.
type acceptVerifier struct{}

func (acceptVerifier) Verify(microdata string) (*VerifiedCredential, error) {
	cred, err := ParseDeviceIdentityCredential(microdata)
	if err != nil {
		return nil, err
	}
	return &VerifiedCredential{Credential: *cred}, nil
}

// rejectVerifier always fails verification.
type rejectVerifier struct{}

func (rejectVerifier) Verify(microdata string) (*VerifiedCredential, error) {
	return nil, &VerifyError{Reason: "invalid_signature"}
}

// scriptedPolicy returns one fixed decision regardless of the credential
// presented.
type scriptedPolicy struct {
	decision AdmissionDecision
}

func (p scriptedPolicy) Decide(*DeviceIdentityCredential) AdmissionDecision {
	return p.decision
}

func testCredential(owner string) *DeviceIdentityCredential {
	return &DeviceIdentityCredential{
		ID:           "urn:cred:" + owner,
		Owner:        owner,
		Issuer:       "urn:issuer:root",
		IssuanceDate: "2026-01-01T00:00:00Z",
		Subject: CredentialSubject{
			ID:           "urn:device:" + owner,
			PublicKeyHex: "deadbeef",
			Type:         "Device",
			Capabilities: []string{"sense"},
		},
		Proof: CredentialProof{
			Type:               "Ed25519Signature2020",
			Created:            "2026-01-01T00:00:00Z",
			VerificationMethod: "urn:issuer:root#key-1",
			ProofPurpose:       "assertionMethod",
			ProofValue:         "deadbeef",
		},
	}
}

// TestFreshProvisioning runs spec scenario 1: a brand-new device
// presents a credential, the responder provisions it, and both sides
// reach Authenticated.
func TestFreshProvisioning(t *testing.T) {
	initCred := testCredential("Alice")
	respCred := testCredential("Alice")

	initiator := NewInitiator(nil, initCred, acceptVerifier{})
	responder := NewResponder(nil, respCred, scriptedPolicy{
		decision: AdmissionDecision{Action: AdmissionProvision, DeviceID: "dev-7", Owner: "Alice"},
	})

	initialPkt, err := initiator.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if initiator.State() != StateAwaitingResponse {
		t.Fatalf("initiator state = %v, want AwaitingResponse", initiator.State())
	}

	_, prompt, err := responder.HandleInitial(initialPkt)
	if err != nil {
		t.Fatalf("HandleInitial: %v", err)
	}
	if prompt == nil || prompt.Kind != PromptAdmission {
		t.Fatalf("expected PromptAdmission, got %+v", prompt)
	}

	responsePkt, err := responder.ResumeAdmission(AdmissionDecision{
		Action: AdmissionProvision, DeviceID: "dev-7", Owner: "Alice",
	})
	if err != nil {
		t.Fatalf("ResumeAdmission: %v", err)
	}
	if responder.State() != StateProvisioned {
		t.Fatalf("responder state = %v, want Provisioned", responder.State())
	}

	_, prompt, err = initiator.HandleResponse(responsePkt)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if prompt == nil || prompt.Kind != PromptVerify {
		t.Fatalf("expected PromptVerify, got %+v", prompt)
	}

	verified, verr := acceptVerifier{}.Verify(prompt.Microdata)
	if verr != nil {
		t.Fatalf("Verify: %v", verr)
	}
	ackPkt, err := initiator.ResumeVerify(verified, nil)
	if err != nil {
		t.Fatalf("ResumeVerify: %v", err)
	}
	if initiator.State() != StateProvisioned {
		t.Fatalf("initiator state = %v, want Provisioned", initiator.State())
	}

	if err := responder.HandleAck(ackPkt); err != nil {
		t.Fatalf("HandleAck: %v", err)
	}
	if responder.State() != StateAuthenticated {
		t.Fatalf("responder state = %v, want Authenticated", responder.State())
	}

	oneRTT := &ShortHeader{DCID: mustConnID(defaultConnIDLen), PacketNumber: 0, PacketNumberLen: 1, Payload: []byte{0x01}}
	pkt, err := oneRTT.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := initiator.Handle1RTT(pkt); err != nil {
		t.Fatalf("Handle1RTT: %v", err)
	}
	if initiator.State() != StateAuthenticated {
		t.Fatalf("initiator state = %v, want Authenticated", initiator.State())
	}

	if initiator.DeviceID() != "dev-7" || responder.DeviceID() != "dev-7" {
		t.Fatalf("device id mismatch: initiator=%q responder=%q", initiator.DeviceID(), responder.DeviceID())
	}
}

// TestAlreadyOwnedReattach runs spec scenario 2: the responder recognizes
// the device as already owned and no VC_ACK is required.
func TestAlreadyOwnedReattach(t *testing.T) {
	cred := testCredential("Alice")
	initiator := NewInitiator(nil, cred, acceptVerifier{})
	responder := NewResponder(nil, nil, scriptedPolicy{
		decision: AdmissionDecision{Action: AdmissionAlreadyOwned, DeviceID: "dev-7", Owner: "Alice"},
	})

	initialPkt, err := initiator.Start()
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = responder.HandleInitial(initialPkt)
	if err != nil {
		t.Fatal(err)
	}
	responsePkt, err := responder.ResumeAdmission(AdmissionDecision{
		Action: AdmissionAlreadyOwned, DeviceID: "dev-7", Owner: "Alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, prompt, err := initiator.HandleResponse(responsePkt)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if prompt != nil {
		t.Fatalf("expected no host prompt for already_owned, got %+v", prompt)
	}
	if initiator.State() != StateProvisioned {
		t.Fatalf("initiator state = %v, want Provisioned", initiator.State())
	}

	oneRTT := &ShortHeader{DCID: mustConnID(defaultConnIDLen), PacketNumber: 0, PacketNumberLen: 1, Payload: []byte{0x01}}
	pkt, err := oneRTT.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := initiator.Handle1RTT(pkt); err != nil {
		t.Fatal(err)
	}
	if initiator.State() != StateAuthenticated {
		t.Fatalf("initiator state = %v, want Authenticated", initiator.State())
	}
}

// TestCredentialRejected runs spec scenario 3: the responder's
// credential fails the initiator's verifier, and both sides land in
// Failed(CredentialRejected).
func TestCredentialRejected(t *testing.T) {
	cred := testCredential("Alice")
	initiator := NewInitiator(nil, cred, rejectVerifier{})
	responder := NewResponder(nil, testCredential("Responder"), scriptedPolicy{
		decision: AdmissionDecision{Action: AdmissionProvision, DeviceID: "dev-7", Owner: "Alice"},
	})

	initialPkt, err := initiator.Start()
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = responder.HandleInitial(initialPkt)
	if err != nil {
		t.Fatal(err)
	}
	responsePkt, err := responder.ResumeAdmission(AdmissionDecision{
		Action: AdmissionProvision, DeviceID: "dev-7", Owner: "Alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, prompt, err := initiator.HandleResponse(responsePkt)
	if err != nil {
		t.Fatal(err)
	}
	verified, verr := rejectVerifier{}.Verify(prompt.Microdata)
	if verr == nil {
		t.Fatal("expected verify to fail")
	}
	closePkt, err := initiator.ResumeVerify(verified, verr)
	if err != nil {
		t.Fatalf("ResumeVerify: %v", err)
	}
	if initiator.State() != StateFailed || initiator.FailReason() != FailReasonCredentialRejected {
		t.Fatalf("initiator = %v/%v, want Failed/CredentialRejected", initiator.State(), initiator.FailReason())
	}

	if err := responder.HandleClose(closePkt); err != nil {
		t.Fatalf("HandleClose: %v", err)
	}
}

// TestRejectedAdmission covers the responder-side reject path: the
// policy declines admission outright.
func TestRejectedAdmission(t *testing.T) {
	cred := testCredential("Mallory")
	initiator := NewInitiator(nil, cred, acceptVerifier{})
	responder := NewResponder(nil, nil, scriptedPolicy{
		decision: AdmissionDecision{Action: AdmissionReject, Reason: "unknown issuer"},
	})

	initialPkt, err := initiator.Start()
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = responder.HandleInitial(initialPkt)
	if err != nil {
		t.Fatal(err)
	}
	_, err = responder.ResumeAdmission(AdmissionDecision{Action: AdmissionReject, Reason: "unknown issuer"})
	if err != nil {
		t.Fatalf("ResumeAdmission: %v", err)
	}
	if responder.State() != StateFailed || responder.FailReason() != FailReasonRejected {
		t.Fatalf("responder = %v/%v, want Failed/Rejected", responder.State(), responder.FailReason())
	}
}

// TestMalformedInitialProtocolViolation runs spec scenario 4 at the
// handshake layer: a too-long DCID triggers PROTOCOL_VIOLATION.
func TestMalformedInitialProtocolViolation(t *testing.T) {
	responder := NewResponder(nil, nil, scriptedPolicy{})
	data := []byte{0xC0, 0x00, 0x00, 0x00, 0x01, 21}
	data = append(data, mustConnID(21)...)

	outbound, prompt, err := responder.HandleInitial(data)
	if err != nil {
		t.Fatalf("HandleInitial returned error instead of CONNECTION_CLOSE: %v", err)
	}
	if prompt != nil {
		t.Fatalf("unexpected prompt: %+v", prompt)
	}
	if len(outbound) == 0 {
		t.Fatal("expected a CONNECTION_CLOSE packet")
	}
	if responder.State() != StateFailed || responder.FailReason() != FailReasonProtocolViolation {
		t.Fatalf("responder = %v/%v, want Failed/ProtocolViolation", responder.State(), responder.FailReason())
	}

	h, err := ParseLongHeader(outbound)
	if err != nil {
		t.Fatalf("parsing CONNECTION_CLOSE packet: %v", err)
	}
	frames, err := parseMixedFrames(h.Payload)
	if err != nil {
		t.Fatalf("parsing CONNECTION_CLOSE frames: %v", err)
	}
	cc, found := findConnectionClose(frames)
	if !found {
		t.Fatal("expected a CONNECTION_CLOSE frame")
	}
	if cc.ErrorCode != ErrProtocolViolation {
		t.Fatalf("error code = 0x%x, want PROTOCOL_VIOLATION", cc.ErrorCode)
	}
}

// TestDuplicateVCInitIgnored covers the idempotent-duplicate rule: a
// second VC_INIT after provisioning is a silent no-op.
func TestDuplicateVCInitIgnored(t *testing.T) {
	cred := testCredential("Alice")
	initiator := NewInitiator(nil, cred, acceptVerifier{})
	responder := NewResponder(nil, nil, scriptedPolicy{
		decision: AdmissionDecision{Action: AdmissionProvision, DeviceID: "dev-7", Owner: "Alice"},
	})

	initialPkt, err := initiator.Start()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := responder.HandleInitial(initialPkt); err != nil {
		t.Fatal(err)
	}
	if _, err := responder.ResumeAdmission(AdmissionDecision{
		Action: AdmissionProvision, DeviceID: "dev-7", Owner: "Alice",
	}); err != nil {
		t.Fatal(err)
	}

	outbound, prompt, err := responder.HandleInitial(initialPkt)
	if err != nil {
		t.Fatalf("duplicate VC_INIT should be ignored, got error: %v", err)
	}
	if outbound != nil || prompt != nil {
		t.Fatalf("duplicate VC_INIT should produce no output, got outbound=%v prompt=%+v", outbound, prompt)
	}
	if responder.State() != StateProvisioned {
		t.Fatalf("state changed on duplicate VC_INIT: %v", responder.State())
	}
}
