package vouch

import (
	"encoding/base64"
	"encoding/json"
)

//DefaultTimeout is the client-side ceremony timeout hint in milliseconds
//carried in the options unless overridden.
const DefaultTimeout = 120000

//Buffer is a byte slice which marshals to and from unpadded base64url JSON
//strings, the convention browsers and conformance tools use for binary
//WebAuthn fields.
type Buffer []byte

//MarshalJSON implements json.Marshaler
func (b Buffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.RawURLEncoding.EncodeToString(b))
}

//UnmarshalJSON implements json.Unmarshaler
func (b *Buffer) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

//PublicKeyCredentialRPEntity describes the Relying Party to the client. §5.4.2
type PublicKeyCredentialRPEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

//PublicKeyCredentialUserEntity describes the account being registered. §5.4.3
type PublicKeyCredentialUserEntity struct {
	ID          Buffer `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

//PublicKeyCredentialType is the credential type enumeration; WebAuthn Level 1
//defines only "public-key"
type PublicKeyCredentialType string

//enum values for PublicKeyCredentialType
const (
	PublicKey PublicKeyCredentialType = "public-key"
)

//PublicKeyCredentialParameters specifies a credential type and the signature
//algorithm the Relying Party will accept for it. §5.3
type PublicKeyCredentialParameters struct {
	Type PublicKeyCredentialType `json:"type"`
	Alg  COSEAlgorithmIdentifier `json:"alg"`
}

//PublicKeyCredentialDescriptor identifies a specific credential. §5.10.3
type PublicKeyCredentialDescriptor struct {
	Type       PublicKeyCredentialType  `json:"type"`
	ID         Buffer                   `json:"id"`
	Transports []AuthenticatorTransport `json:"transports,omitempty"`
}

//AuthenticatorTransport describes how the client can reach an authenticator
type AuthenticatorTransport string

//enum values for AuthenticatorTransport
const (
	TransportUSB      AuthenticatorTransport = "usb"
	TransportNFC      AuthenticatorTransport = "nfc"
	TransportBLE      AuthenticatorTransport = "ble"
	TransportInternal AuthenticatorTransport = "internal"
)

//AuthenticatorAttachment describes an authenticator's attachment modality
type AuthenticatorAttachment string

//enum values for AuthenticatorAttachment
const (
	AttachmentPlatform      AuthenticatorAttachment = "platform"
	AttachmentCrossPlatform AuthenticatorAttachment = "cross-platform"
)

//UserVerificationRequirement expresses the Relying Party's need for user
//verification during a ceremony
type UserVerificationRequirement string

//enum values for UserVerificationRequirement
const (
	VerificationRequired    UserVerificationRequirement = "required"
	VerificationPreferred   UserVerificationRequirement = "preferred"
	VerificationDiscouraged UserVerificationRequirement = "discouraged"
)

//AttestationConveyancePreference expresses how much attestation information
//the Relying Party wants relayed
type AttestationConveyancePreference string

//enum values for AttestationConveyancePreference
const (
	ConveyanceNone     AttestationConveyancePreference = "none"
	ConveyanceIndirect AttestationConveyancePreference = "indirect"
	ConveyanceDirect   AttestationConveyancePreference = "direct"
)

//AuthenticatorSelectionCriteria filters which authenticators may take part in
//a registration ceremony. §5.4.4
type AuthenticatorSelectionCriteria struct {
	AuthenticatorAttachment AuthenticatorAttachment     `json:"authenticatorAttachment,omitempty"`
	RequireResidentKey      bool                        `json:"requireResidentKey"`
	UserVerification        UserVerificationRequirement `json:"userVerification,omitempty"`
}

//PublicKeyCredentialCreationOptions is the structure handed to
//navigator.credentials.create. §5.4
type PublicKeyCredentialCreationOptions struct {
	RP                     PublicKeyCredentialRPEntity     `json:"rp"`
	User                   PublicKeyCredentialUserEntity   `json:"user"`
	Challenge              Buffer                          `json:"challenge"`
	PubKeyCredParams       []PublicKeyCredentialParameters `json:"pubKeyCredParams"`
	Timeout                uint64                          `json:"timeout,omitempty"`
	ExcludeCredentials     []PublicKeyCredentialDescriptor `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection *AuthenticatorSelectionCriteria `json:"authenticatorSelection,omitempty"`
	Attestation            AttestationConveyancePreference `json:"attestation,omitempty"`
}

//PublicKeyCredentialRequestOptions is the structure handed to
//navigator.credentials.get. §5.5
type PublicKeyCredentialRequestOptions struct {
	Challenge        Buffer                          `json:"challenge"`
	Timeout          uint64                          `json:"timeout,omitempty"`
	RPID             string                          `json:"rpId,omitempty"`
	AllowCredentials []PublicKeyCredentialDescriptor `json:"allowCredentials,omitempty"`
	UserVerification UserVerificationRequirement     `json:"userVerification,omitempty"`
}

//CreationOption adjusts the defaulted creation options before they are
//returned to the caller
type CreationOption func(*PublicKeyCredentialCreationOptions)

//RequestOption adjusts the defaulted request options before they are
//returned to the caller
type RequestOption func(*PublicKeyCredentialRequestOptions)

//WithTimeout overrides the creation ceremony timeout hint
func WithTimeout(timeout uint64) CreationOption {
	return func(o *PublicKeyCredentialCreationOptions) {
		o.Timeout = timeout
	}
}

//WithAttestation overrides the attestation conveyance preference
func WithAttestation(pref AttestationConveyancePreference) CreationOption {
	return func(o *PublicKeyCredentialCreationOptions) {
		o.Attestation = pref
	}
}

//WithAuthenticatorSelection overrides the authenticator selection criteria
func WithAuthenticatorSelection(criteria AuthenticatorSelectionCriteria) CreationOption {
	return func(o *PublicKeyCredentialCreationOptions) {
		o.AuthenticatorSelection = &criteria
	}
}

//WithPubKeyCredParams overrides the accepted credential algorithms
func WithPubKeyCredParams(params []PublicKeyCredentialParameters) CreationOption {
	return func(o *PublicKeyCredentialCreationOptions) {
		o.PubKeyCredParams = params
	}
}

//WithRequestTimeout overrides the request ceremony timeout hint
func WithRequestTimeout(timeout uint64) RequestOption {
	return func(o *PublicKeyCredentialRequestOptions) {
		o.Timeout = timeout
	}
}

//WithUserVerification overrides the user verification requirement signaled
//to the client. This only changes the hint in the options; enforcement at
//verification time is selected with RequireUserVerification.
func WithUserVerification(req UserVerificationRequirement) RequestOption {
	return func(o *PublicKeyCredentialRequestOptions) {
		o.UserVerification = req
	}
}

//verifyConfig collects the policy knobs consulted while verifying a ceremony
//response
type verifyConfig struct {
	userVerificationRequired bool
	trust                    TrustPathVerifier
}

//VerifyOption adjusts verification policy for a Finish call
type VerifyOption func(*verifyConfig)

//RequireUserVerification makes the UV flag mandatory; without it the flag is
//accepted in either state
func RequireUserVerification() VerifyOption {
	return func(c *verifyConfig) {
		c.userVerificationRequired = true
	}
}

//WithTrustPathVerifier installs the trust policy consulted after an
//attestation statement verifies. The default accepts every trust path.
func WithTrustPathVerifier(trust TrustPathVerifier) VerifyOption {
	return func(c *verifyConfig) {
		c.trust = trust
	}
}

func newVerifyConfig(opts ...VerifyOption) *verifyConfig {
	cfg := &verifyConfig{
		trust: AcceptAllTrustPaths{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
