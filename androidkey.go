package vouch

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"

	"github.com/fxamacker/cbor/v2"
)

//Android Keystore attestation extension
var oidAndroidKeyDescription = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

//Keymaster authorization tags and values consulted by the verification
//procedure
const (
	kmTagPurpose         = 1
	kmTagAllApplications = 600
	kmTagOrigin          = 702

	kmOriginGenerated = 0
	kmPurposeSign     = 2
)

type androidKeyAttStmt struct {
	Alg int      `cbor:"alg"`
	Sig []byte   `cbor:"sig"`
	X5C [][]byte `cbor:"x5c"`
}

//keyDescription mirrors the Android Keystore KeyDescription ASN.1 sequence.
//The authorization lists stay raw; their members carry high-numbered
//context-specific tags that are walked by hand.
type keyDescription struct {
	AttestationVersion       int
	AttestationSecurityLevel asn1.Enumerated
	KeymasterVersion         int
	KeymasterSecurityLevel   asn1.Enumerated
	AttestationChallenge     []byte
	UniqueID                 []byte
	SoftwareEnforced         asn1.RawValue
	TeeEnforced              asn1.RawValue
}

//verifyAndroidKeyAttestationStatement follows the Android Key attestation
//statement verification procedure in §8.4: the attestation certificate key
//must both make the signature and equal the credential key, and the
//certificate's KeyDescription extension must bind the key to this ceremony
//via the attestationChallenge.
func verifyAndroidKeyAttestationStatement(
	attStmt cbor.RawMessage,
	authData *AuthenticatorData,
	rawAuthData []byte,
	clientDataHash [32]byte,
	trust TrustPathVerifier,
) error {
	stmt := androidKeyAttStmt{}
	if err := cbor.Unmarshal(attStmt, &stmt); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error unmarshaling android-key attestation statement").Wrap(err))
	}
	if len(stmt.X5C) == 0 {
		return ErrAttestationInvalid.Wrap(NewError("Android key attestation statement has no certificate chain"))
	}

	chain := make([]*x509.Certificate, 0, len(stmt.X5C))
	for _, raw := range stmt.X5C {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return ErrAttestationInvalid.Wrap(NewError("Error parsing android-key attestation certificate").Wrap(err))
		}
		chain = append(chain, cert)
	}
	attCert := chain[0]

	signed := attestationSignedData(rawAuthData, clientDataHash)
	if err := VerifyKeySignature(attCert.PublicKey, COSEAlgorithmIdentifier(stmt.Alg), signed, stmt.Sig); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	//The key the certificate attests must be the credential key itself
	credPub, err := DecodePublicKey(&authData.AttestedCredentialData.CredentialPublicKey)
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	if !publicKeysEqual(attCert.PublicKey, credPub) {
		return ErrAttestationInvalid.Wrap(NewError("Attestation certificate key does not match credential key"))
	}

	keyDesc, err := parseKeyDescription(attCert)
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	if !bytes.Equal(keyDesc.AttestationChallenge, clientDataHash[:]) {
		return ErrAttestationInvalid.Wrap(NewError("KeyDescription attestationChallenge does not match client data hash"))
	}

	//A key scoped to all applications could be used by apps other than the
	//one that created the credential.
	for _, list := range []asn1.RawValue{keyDesc.SoftwareEnforced, keyDesc.TeeEnforced} {
		present, _, err := authorizationValue(list, kmTagAllApplications)
		if err != nil {
			return ErrAttestationInvalid.Wrap(err)
		}
		if present {
			return ErrAttestationInvalid.Wrap(NewError("KeyDescription authorizes all applications"))
		}
	}

	if err := checkKeymasterAuthorizations(keyDesc); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	if err := trust.VerifyTrustPath(chain); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	return nil
}

//checkKeymasterAuthorizations requires that one of the authorization lists
//marks the key as generated on device with a signing purpose
func checkKeymasterAuthorizations(keyDesc *keyDescription) error {
	for _, list := range []asn1.RawValue{keyDesc.TeeEnforced, keyDesc.SoftwareEnforced} {
		originOK, err := authorizationHasInt(list, kmTagOrigin, kmOriginGenerated)
		if err != nil {
			return err
		}
		purposeOK, err := authorizationHasInt(list, kmTagPurpose, kmPurposeSign)
		if err != nil {
			return err
		}
		if originOK && purposeOK {
			return nil
		}
	}
	return NewError("KeyDescription lacks generated origin and sign purpose")
}

func parseKeyDescription(cert *x509.Certificate) (*keyDescription, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidAndroidKeyDescription) {
			continue
		}
		keyDesc := keyDescription{}
		if _, err := asn1.Unmarshal(ext.Value, &keyDesc); err != nil {
			return nil, NewError("Error parsing KeyDescription extension").Wrap(err)
		}
		return &keyDesc, nil
	}
	return nil, NewError("Attestation certificate has no KeyDescription extension")
}

//authorizationValue finds the explicitly tagged member of an
//AuthorizationList sequence, returning its inner encoding if present
func authorizationValue(list asn1.RawValue, tag int) (present bool, inner []byte, err error) {
	rest := list.Bytes
	for len(rest) > 0 {
		var member asn1.RawValue
		rest, err = asn1.Unmarshal(rest, &member)
		if err != nil {
			return false, nil, NewError("Error parsing AuthorizationList member").Wrap(err)
		}
		if member.Class == asn1.ClassContextSpecific && member.Tag == tag {
			return true, member.Bytes, nil
		}
	}
	return false, nil, nil
}

//authorizationHasInt reports whether the tagged member exists and its value,
//an INTEGER or a SET OF INTEGER, contains want
func authorizationHasInt(list asn1.RawValue, tag, want int) (bool, error) {
	present, inner, err := authorizationValue(list, tag)
	if err != nil || !present {
		return false, err
	}

	var single int
	if _, err := asn1.Unmarshal(inner, &single); err == nil {
		return single == want, nil
	}

	var set []int
	if _, err := asn1.UnmarshalWithParams(inner, &set, "set"); err != nil {
		return false, NewError("Error parsing AuthorizationList tag %d value", tag).Wrap(err)
	}
	for _, v := range set {
		if v == want {
			return true, nil
		}
	}
	return false, nil
}

//publicKeysEqual compares two decoded public keys of the same algorithm
//family
func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch ak := a.(type) {
	case *ecdsa.PublicKey:
		bk, ok := b.(*ecdsa.PublicKey)
		return ok && ak.Curve == bk.Curve && ak.X.Cmp(bk.X) == 0 && ak.Y.Cmp(bk.Y) == 0
	case *rsa.PublicKey:
		bk, ok := b.(*rsa.PublicKey)
		return ok && ak.N.Cmp(bk.N) == 0 && ak.E == bk.E
	case ed25519.PublicKey:
		bk, ok := b.(ed25519.PublicKey)
		return ok && bytes.Equal(ak, bk)
	}
	return false
}
