package quicvc

import (
	"fmt"
	"regexp"
	"strings"
)

// ====================================================================
// Device Identity Credential
// ====================================================================
//
// A credential is carried on the wire as a small HTML-attribute-embedded
// "microdata" document: the canonical, content-addressable form named in
// the glossary. This package only builds and parses that document's
// structure; it never computes or checks the content hash or the
// cryptographic proof itself — those are the host's CredentialVerifier.
//
// Layout (fixed, not configurable):
//
//	<div itemscope itemtype="//refin.io/DeviceIdentityCredential">
//	  <span itemprop="id">...</span>
//	  <span itemprop="owner">...</span>
//	  <span itemprop="issuer">...</span>
//	  <span itemprop="issuanceDate">...</span>
//	  <span itemprop="expirationDate">...</span>   (omitted if empty)
//	  <div itemprop="credentialSubject" itemscope>
//	    <span itemprop="id">...</span>
//	    <span itemprop="publicKeyHex">...</span>
//	    <span itemprop="type">...</span>
//	    <span itemprop="capabilities">cap1,cap2</span>
//	  </div>
//	  <div itemprop="proof" itemscope>
//	    <span itemprop="type">...</span>
//	    <span itemprop="created">...</span>
//	    <span itemprop="verificationMethod">...</span>
//	    <span itemprop="proofPurpose">...</span>
//	    <span itemprop="proofValue">...</span>
//	  </div>
//	</div>
// ====================================================================

// CredentialSubject is the credentialSubject object of a
// DeviceIdentityCredential.
type CredentialSubject struct {
	ID           string
	PublicKeyHex string
	Type         string
	Capabilities []string
}

// CredentialProof is the proof object of a DeviceIdentityCredential.
type CredentialProof struct {
	Type                string
	Created             string
	VerificationMethod  string
	ProofPurpose        string
	ProofValue          string
}

// DeviceIdentityCredential is the data model's credential type.
// ExpirationDate is empty when absent.
type DeviceIdentityCredential struct {
	ID             string
	Owner          string
	Issuer         string
	IssuanceDate   string
	ExpirationDate string
	Subject        CredentialSubject
	Proof          CredentialProof
}

func itemprop(name, value string) string {
	return fmt.Sprintf(`<span itemprop="%s">%s</span>`, name, value)
}

// Marshal renders the credential as its canonical microdata document.
func (c *DeviceIdentityCredential) Marshal() string {
	var b strings.Builder
	b.WriteString(`<div itemscope ` + credentialMicrodataMarker + `>`)
	b.WriteString(itemprop("id", c.ID))
	b.WriteString(itemprop("owner", c.Owner))
	b.WriteString(itemprop("issuer", c.Issuer))
	b.WriteString(itemprop("issuanceDate", c.IssuanceDate))
	if c.ExpirationDate != "" {
		b.WriteString(itemprop("expirationDate", c.ExpirationDate))
	}
	b.WriteString(`<div itemprop="credentialSubject" itemscope>`)
	b.WriteString(itemprop("id", c.Subject.ID))
	b.WriteString(itemprop("publicKeyHex", c.Subject.PublicKeyHex))
	b.WriteString(itemprop("type", c.Subject.Type))
	b.WriteString(itemprop("capabilities", strings.Join(c.Subject.Capabilities, ",")))
	b.WriteString(`</div>`)
	b.WriteString(`<div itemprop="proof" itemscope>`)
	b.WriteString(itemprop("type", c.Proof.Type))
	b.WriteString(itemprop("created", c.Proof.Created))
	b.WriteString(itemprop("verificationMethod", c.Proof.VerificationMethod))
	b.WriteString(itemprop("proofPurpose", c.Proof.ProofPurpose))
	b.WriteString(itemprop("proofValue", c.Proof.ProofValue))
	b.WriteString(`</div>`)
	b.WriteString(`</div>`)
	return b.String()
}

var itempropPattern = regexp.MustCompile(`itemprop="([a-zA-Z]+)"[^>]*>([^<]*)<`)

func extractProps(doc string) map[string]string {
	props := make(map[string]string)
	for _, m := range itempropPattern.FindAllStringSubmatch(doc, -1) {
		props[m[1]] = m[2]
	}
	return props
}

// extractBlock pulls the substring of a named top-level <div itemprop="name"
// ...>...</div> block, returning the block's inner content and the
// remainder of doc with the block (and everything after it) removed, so
// sibling blocks sharing property names (e.g. "id") don't collide.
func extractBlock(doc, name string) (inner string, head string, ok bool) {
	open := `itemprop="` + name + `"`
	idx := strings.Index(doc, open)
	if idx < 0 {
		return "", doc, false
	}
	tagStart := strings.LastIndex(doc[:idx], "<div")
	if tagStart < 0 {
		return "", doc, false
	}
	bodyStart := strings.Index(doc[idx:], ">") + idx + 1
	end := strings.Index(doc[bodyStart:], "</div>")
	if end < 0 {
		return "", doc, false
	}
	end += bodyStart
	return doc[bodyStart:end], doc[:tagStart], true
}

// ParseDeviceIdentityCredential parses a microdata document previously
// produced by Marshal (or an equivalent conformant producer) back into a
// DeviceIdentityCredential. It does not re-validate the marker; callers
// that received the document off the wire should have already run it
// through VCInitFrame/VCResponseFrame parsing, which does.
func ParseDeviceIdentityCredential(doc string) (*DeviceIdentityCredential, error) {
	if !strings.Contains(doc, credentialMicrodataMarker) {
		return nil, newDecodeErr(KindInvalidCredentialMicrodata, -1, "missing DeviceIdentityCredential marker")
	}

	proofInner, head, ok := extractBlock(doc, "proof")
	if !ok {
		return nil, newDecodeErr(KindInvalidCredentialMicrodata, -1, "missing proof block")
	}
	subjectInner, head, ok := extractBlock(head, "credentialSubject")
	if !ok {
		return nil, newDecodeErr(KindInvalidCredentialMicrodata, -1, "missing credentialSubject block")
	}

	top := extractProps(head)
	subject := extractProps(subjectInner)
	proof := extractProps(proofInner)

	var capabilities []string
	if c := subject["capabilities"]; c != "" {
		capabilities = strings.Split(c, ",")
	}

	return &DeviceIdentityCredential{
		ID:             top["id"],
		Owner:          top["owner"],
		Issuer:         top["issuer"],
		IssuanceDate:   top["issuanceDate"],
		ExpirationDate: top["expirationDate"],
		Subject: CredentialSubject{
			ID:           subject["id"],
			PublicKeyHex: subject["publicKeyHex"],
			Type:         subject["type"],
			Capabilities: capabilities,
		},
		Proof: CredentialProof{
			Type:               proof["type"],
			Created:            proof["created"],
			VerificationMethod: proof["verificationMethod"],
			ProofPurpose:       proof["proofPurpose"],
			ProofValue:         proof["proofValue"],
		},
	}, nil
}

// ====================================================================
// Host integration points
// ====================================================================

// VerifiedCredential is the result of a successful CredentialVerifier
// check: the parsed credential plus whatever the verifier wants to
// attach (nothing, today).
type VerifiedCredential struct {
	Credential DeviceIdentityCredential
}

// VerifyError explains why a credential failed verification.
type VerifyError struct {
	Reason string
}

func (e *VerifyError) Error() string { return "credential rejected: " + e.Reason }

// CredentialVerifier performs the cryptographic signature check,
// expiration check, and issuer policy check this package deliberately
// does not do itself.
type CredentialVerifier interface {
	Verify(microdata string) (*VerifiedCredential, error)
}

// AdmissionAction is the responder-side decision an AdmissionPolicy
// returns for a freshly-parsed credential.
type AdmissionAction int

const (
	AdmissionProvision AdmissionAction = iota
	AdmissionAuthenticate
	AdmissionAlreadyOwned
	AdmissionReject
)

func (a AdmissionAction) String() string {
	switch a {
	case AdmissionProvision:
		return "Provision"
	case AdmissionAuthenticate:
		return "Authenticate"
	case AdmissionAlreadyOwned:
		return "AlreadyOwned"
	case AdmissionReject:
		return "Reject"
	default:
		return fmt.Sprintf("AdmissionAction(%d)", int(a))
	}
}

// AdmissionDecision is the responder-side policy's verdict. DeviceID and
// Owner are set for Provision/Authenticate/AlreadyOwned; Reason is set
// for Reject.
type AdmissionDecision struct {
	Action   AdmissionAction
	DeviceID string
	Owner    string
	Reason   string
}

// AdmissionPolicy decides how a responder admits a device presenting a
// structurally valid credential.
type AdmissionPolicy interface {
	Decide(credential *DeviceIdentityCredential) AdmissionDecision
}
