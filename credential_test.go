package quicvc

import (
	"reflect"
	"testing"
)

func sampleCredential() *DeviceIdentityCredential {
	return &DeviceIdentityCredential{
		ID:           "urn:cred:dev-7",
		Owner:        "Alice",
		Issuer:       "urn:issuer:root",
		IssuanceDate: "2026-01-01T00:00:00Z",
		Subject: CredentialSubject{
			ID:           "urn:device:dev-7",
			PublicKeyHex: "deadbeef",
			Type:         "Device",
			Capabilities: []string{"sense", "relay"},
		},
		Proof: CredentialProof{
			Type:               "Ed25519Signature2020",
			Created:             "2026-01-01T00:00:00Z",
			VerificationMethod:  "urn:issuer:root#key-1",
			ProofPurpose:        "assertionMethod",
			ProofValue:          "deadbeefdeadbeef",
		},
	}
}

func TestDeviceIdentityCredentialRoundTrip(t *testing.T) {
	c := sampleCredential()
	md := c.Marshal()

	if err := validateMicrodata(md, -1); err != nil {
		t.Fatalf("marshaled credential failed marker check: %v", err)
	}

	got, err := ParseDeviceIdentityCredential(md)
	if err != nil {
		t.Fatalf("ParseDeviceIdentityCredential: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("round-trip mismatch:\ngot  %+v\nwant %+v", got, c)
	}
}

func TestDeviceIdentityCredentialWithExpiration(t *testing.T) {
	c := sampleCredential()
	c.ExpirationDate = "2027-01-01T00:00:00Z"
	got, err := ParseDeviceIdentityCredential(c.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got.ExpirationDate != c.ExpirationDate {
		t.Fatalf("got %q, want %q", got.ExpirationDate, c.ExpirationDate)
	}
}

func TestParseDeviceIdentityCredentialMissingMarker(t *testing.T) {
	_, err := ParseDeviceIdentityCredential("<div>not a credential</div>")
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != KindInvalidCredentialMicrodata {
		t.Fatalf("got %v, want KindInvalidCredentialMicrodata", err)
	}
}

func TestAdmissionActionString(t *testing.T) {
	cases := map[AdmissionAction]string{
		AdmissionProvision:    "Provision",
		AdmissionAuthenticate: "Authenticate",
		AdmissionAlreadyOwned: "AlreadyOwned",
		AdmissionReject:       "Reject",
	}
	for action, want := range cases {
		if got := action.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", action, got, want)
		}
	}
}
