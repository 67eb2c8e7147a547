package defaultverify

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/refin-io/quicvc"
)

func genDeviceKey(t *testing.T) (priv [32]byte, pubHex string) {
	t.Helper()
	if _, err := rand.Read(priv[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	return priv, hex.EncodeToString(pub)
}

func testCredential(t *testing.T, root *TrustRoot) *quicvc.DeviceIdentityCredential {
	t.Helper()
	_, pubHex := genDeviceKey(t)
	c := &quicvc.DeviceIdentityCredential{
		ID:           "urn:cred:dev-1",
		Owner:        "Alice",
		Issuer:       "urn:issuer:root",
		IssuanceDate: "2026-01-01T00:00:00Z",
		Subject: quicvc.CredentialSubject{
			ID:           "urn:device:dev-1",
			PublicKeyHex: pubHex,
			Type:         "Device",
			Capabilities: []string{"sense"},
		},
		Proof: quicvc.CredentialProof{
			Type:               "QuicVcProof2026",
			Created:            "2026-01-01T00:00:00Z",
			VerificationMethod: "urn:issuer:root#key-1",
			ProofPurpose:       "assertionMethod",
		},
	}
	if err := Sign(root, c); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return c
}

func TestVerifyAcceptsGenuineCredential(t *testing.T) {
	root, err := NewTrustRoot([]byte("test trust root seed"))
	if err != nil {
		t.Fatalf("NewTrustRoot: %v", err)
	}
	c := testCredential(t, root)

	v := NewVerifier(root)
	verified, err := v.Verify(c.Marshal())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.Credential.ID != c.ID || verified.Credential.Subject.PublicKeyHex != c.Subject.PublicKeyHex {
		t.Fatalf("verified credential mismatch: %+v", verified.Credential)
	}
}

func TestVerifyRejectsTamperedField(t *testing.T) {
	root, err := NewTrustRoot([]byte("test trust root seed"))
	if err != nil {
		t.Fatalf("NewTrustRoot: %v", err)
	}
	c := testCredential(t, root)
	c.Owner = "Mallory" // tamper after signing

	v := NewVerifier(root)
	if _, err := v.Verify(c.Marshal()); err == nil {
		t.Fatal("expected verification to fail for a tampered credential")
	}
}

func TestVerifyRejectsWrongTrustRoot(t *testing.T) {
	root, err := NewTrustRoot([]byte("test trust root seed"))
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewTrustRoot([]byte("a different trust root seed"))
	if err != nil {
		t.Fatal(err)
	}
	c := testCredential(t, root)

	v := NewVerifier(other)
	if _, err := v.Verify(c.Marshal()); err == nil {
		t.Fatal("expected verification to fail under the wrong trust root")
	}
}

func TestVerifyRejectsMalformedProofValue(t *testing.T) {
	root, err := NewTrustRoot([]byte("test trust root seed"))
	if err != nil {
		t.Fatal(err)
	}
	c := testCredential(t, root)
	c.Proof.ProofValue = "not hex at all!!"

	v := NewVerifier(root)
	if _, err := v.Verify(c.Marshal()); err == nil {
		t.Fatal("expected verification to fail for non-hex proof value")
	}
}

func TestNewTrustRootDeterministicFromSeed(t *testing.T) {
	a, err := NewTrustRoot([]byte("same seed"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewTrustRoot([]byte("same seed"))
	if err != nil {
		t.Fatal(err)
	}
	if a.PublicKey != b.PublicKey {
		t.Fatal("expected the same seed to derive the same trust root public key")
	}
}
