package vouch

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"

	"github.com/fxamacker/cbor/v2"
)

type fidoU2FAttStmt struct {
	Sig []byte   `cbor:"sig"`
	X5C [][]byte `cbor:"x5c"` //single-element array holding the attestation certificate
}

//verifyFidoU2FAttestationStatement follows the FIDO U2F attestation
//statement verification procedure in §8.6. Both the attestation certificate
//key and the credential key must be P-256 ECDSA keys, and the signature
//covers the legacy U2F registration data layout rather than the raw
//authenticator data.
func verifyFidoU2FAttestationStatement(
	attStmt cbor.RawMessage,
	authData *AuthenticatorData,
	clientDataHash [32]byte,
	trust TrustPathVerifier,
) error {
	stmt := fidoU2FAttStmt{}
	if err := cbor.Unmarshal(attStmt, &stmt); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error unmarshaling fido-u2f attestation statement").Wrap(err))
	}
	if len(stmt.X5C) != 1 {
		return ErrAttestationInvalid.Wrap(NewError("Expected 1 attestation certificate, got %d", len(stmt.X5C)))
	}

	attCert, err := x509.ParseCertificate(stmt.X5C[0])
	if err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error parsing fido-u2f attestation certificate").Wrap(err))
	}

	certKey, ok := attCert.PublicKey.(*ecdsa.PublicKey)
	if !ok || certKey.Curve != elliptic.P256() {
		return ErrAttestationInvalid.Wrap(NewError("Attestation certificate key is not an ECDSA key over P-256"))
	}

	credPub, err := DecodePublicKey(&authData.AttestedCredentialData.CredentialPublicKey)
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	credKey, ok := credPub.(*ecdsa.PublicKey)
	if !ok || credKey.Curve != elliptic.P256() {
		return ErrAttestationInvalid.Wrap(NewError("Credential key is not an ECDSA key over P-256"))
	}

	//verificationData = 0x00 || rpIdHash || clientDataHash || credentialId || publicKeyU2F
	publicKeyU2F := elliptic.Marshal(credKey.Curve, credKey.X, credKey.Y)
	verificationData := make([]byte, 0, 1+32+32+len(authData.AttestedCredentialData.CredentialID)+len(publicKeyU2F))
	verificationData = append(verificationData, 0x00)
	verificationData = append(verificationData, authData.RPIDHash[:]...)
	verificationData = append(verificationData, clientDataHash[:]...)
	verificationData = append(verificationData, authData.AttestedCredentialData.CredentialID...)
	verificationData = append(verificationData, publicKeyU2F...)

	if err := attCert.CheckSignature(x509.ECDSAWithSHA256, verificationData, stmt.Sig); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("fido-u2f attestation signature verification failed").Wrap(err))
	}

	if err := trust.VerifyTrustPath([]*x509.Certificate{attCert}); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	return nil
}
