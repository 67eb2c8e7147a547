// Package defaultverify provides a reference CredentialVerifier.
//
// It stands in for whatever real trust infrastructure an embedder of
// quicvc would hook up (a PKI, a blockchain-anchored registry, a
// federation of issuers); the handshake state machine only needs
// something implementing quicvc.CredentialVerifier, and this package
// gives a host a working one to start from.
//
// The construction reuses a familiar primitive set (X25519 ECDH,
// HKDF-SHA256, ChaCha20-Poly1305) for a different purpose: instead of
// deriving per-direction record-protection keys for a transport, a
// static X25519 Diffie-Hellman between the issuer's trust-root key and
// the device's public key derives a MAC key, and ChaCha20-Poly1305
// sealed over an empty plaintext with the credential's signing fields
// as associated data produces an authentication tag carried as
// Proof.ProofValue. Opening that tag is the verification step.
package defaultverify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/refin-io/quicvc"
)

const (
	curve25519KeySize = 32
	hkdfInfoProof     = "quicvc credential proof"
)

// TrustRoot holds an issuer's long-term X25519 key pair. NewTrustRoot
// clamps the private key and computes the matching Curve25519 public key.
type TrustRoot struct {
	PrivateKey [curve25519KeySize]byte
	PublicKey  [curve25519KeySize]byte
}

// NewTrustRoot clamps seed into a valid Curve25519 private scalar and
// derives the matching public key. seed should be 32 bytes of secret
// entropy; shorter or longer input is hashed down to 32 bytes first.
func NewTrustRoot(seed []byte) (*TrustRoot, error) {
	var priv [curve25519KeySize]byte
	if len(seed) == curve25519KeySize {
		copy(priv[:], seed)
	} else {
		h := sha256.Sum256(seed)
		copy(priv[:], h[:])
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("compute trust root public key: %w", err)
	}

	tr := &TrustRoot{PrivateKey: priv}
	copy(tr.PublicKey[:], pub)
	return tr, nil
}

// signingInput builds the deterministic byte string a proof tag
// authenticates: every credential field except Proof.ProofValue itself,
// so verification never depends on the value it's checking.
func signingInput(c *quicvc.DeviceIdentityCredential) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "id=%s\n", c.ID)
	fmt.Fprintf(&b, "owner=%s\n", c.Owner)
	fmt.Fprintf(&b, "issuer=%s\n", c.Issuer)
	fmt.Fprintf(&b, "issuanceDate=%s\n", c.IssuanceDate)
	fmt.Fprintf(&b, "expirationDate=%s\n", c.ExpirationDate)
	fmt.Fprintf(&b, "subject.id=%s\n", c.Subject.ID)
	fmt.Fprintf(&b, "subject.publicKeyHex=%s\n", c.Subject.PublicKeyHex)
	fmt.Fprintf(&b, "subject.type=%s\n", c.Subject.Type)
	fmt.Fprintf(&b, "subject.capabilities=%s\n", strings.Join(c.Subject.Capabilities, ","))
	fmt.Fprintf(&b, "proof.type=%s\n", c.Proof.Type)
	fmt.Fprintf(&b, "proof.created=%s\n", c.Proof.Created)
	fmt.Fprintf(&b, "proof.verificationMethod=%s\n", c.Proof.VerificationMethod)
	fmt.Fprintf(&b, "proof.proofPurpose=%s\n", c.Proof.ProofPurpose)
	return []byte(b.String())
}

// proofKeyAndNonce derives the MAC key and deterministic nonce for a
// credential's proof tag: the X25519 shared secret between the trust
// root's private key and the device's public key (Subject.PublicKeyHex,
// hex-encoded Curve25519), fed through HKDF-SHA256.
func proofKeyAndNonce(rootPriv [curve25519KeySize]byte, devicePubHex string, input []byte) ([]byte, []byte, error) {
	devicePub, err := hex.DecodeString(devicePubHex)
	if err != nil || len(devicePub) != curve25519KeySize {
		return nil, nil, errors.New("subject public key is not a valid hex-encoded Curve25519 key")
	}

	shared, err := curve25519.X25519(rootPriv[:], devicePub)
	if err != nil {
		return nil, nil, fmt.Errorf("ECDH: %w", err)
	}

	material := make([]byte, chacha20poly1305.KeySize+chacha20poly1305.NonceSize)
	r := hkdf.New(sha256.New, shared, input, []byte(hkdfInfoProof))
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, nil, fmt.Errorf("derive proof key: %w", err)
	}
	return material[:chacha20poly1305.KeySize], material[chacha20poly1305.KeySize:], nil
}

// Sign computes a credential's Proof.ProofValue under root and writes it
// into c.Proof.ProofValue as lowercase hex. It is the issuer-side
// counterpart to Verifier.Verify, used by tests and by any host that
// wants to mint credentials with this package's proof scheme.
func Sign(root *TrustRoot, c *quicvc.DeviceIdentityCredential) error {
	input := signingInput(c)
	key, nonce, err := proofKeyAndNonce(root.PrivateKey, c.Subject.PublicKeyHex, input)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("create AEAD: %w", err)
	}
	tag := aead.Seal(nil, nonce, nil, input)
	c.Proof.ProofValue = hex.EncodeToString(tag)
	return nil
}

// Verifier is a quicvc.CredentialVerifier backed by a single trust root.
// A deployment with more than one issuer would key a map of these by
// Issuer; that composition is left to the embedder.
type Verifier struct {
	root *TrustRoot
}

// NewVerifier returns a Verifier that accepts credentials signed by root.
func NewVerifier(root *TrustRoot) *Verifier {
	return &Verifier{root: root}
}

// Verify implements quicvc.CredentialVerifier.
func (v *Verifier) Verify(microdata string) (*quicvc.VerifiedCredential, error) {
	cred, err := quicvc.ParseDeviceIdentityCredential(microdata)
	if err != nil {
		return nil, err
	}

	tag, err := hex.DecodeString(cred.Proof.ProofValue)
	if err != nil {
		return nil, &quicvc.VerifyError{Reason: "proofValue is not valid hex"}
	}

	input := signingInput(cred)
	key, nonce, err := proofKeyAndNonce(v.root.PrivateKey, cred.Subject.PublicKeyHex, input)
	if err != nil {
		return nil, &quicvc.VerifyError{Reason: err.Error()}
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, &quicvc.VerifyError{Reason: "cannot construct AEAD for this key"}
	}

	if _, err := aead.Open(nil, nonce, tag, input); err != nil {
		return nil, &quicvc.VerifyError{Reason: "proof tag does not authenticate under the configured trust root"}
	}

	return &quicvc.VerifiedCredential{Credential: *cred}, nil
}
