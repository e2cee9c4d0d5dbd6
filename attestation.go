package vouch

import (
	"github.com/fxamacker/cbor/v2"
)

//AttestationObject contains both authenticator data and an attestation
//statement. §6.4
type AttestationObject struct {
	AuthData []byte                     `cbor:"authData"`
	Fmt      AttestationStatementFormat `cbor:"fmt"`
	AttStmt  cbor.RawMessage            `cbor:"attStmt"`
}

//AttestationStatementFormat is the identifier for an attestation statement
//format.
type AttestationStatementFormat string

//enum values for AttestationStatementFormat
const (
	StatementPacked           AttestationStatementFormat = "packed"
	StatementTPM              AttestationStatementFormat = "tpm"
	StatementAndroidKey       AttestationStatementFormat = "android-key"
	StatementAndroidSafetyNet AttestationStatementFormat = "android-safetynet"
	StatementFidoU2F          AttestationStatementFormat = "fido-u2f"
	StatementNone             AttestationStatementFormat = "none"
)

//Valid determines if the Attestation Format Identifier is a known value
func (asf AttestationStatementFormat) Valid() error {
	switch asf {
	case StatementPacked:
	case StatementTPM:
	case StatementAndroidKey:
	case StatementAndroidSafetyNet:
	case StatementFidoU2F:
	case StatementNone:
	default:
		return ErrUnsupportedAttestationFmt.Wrap(NewError("Unknown attestation statement format %q", string(asf)))
	}
	return nil
}

//decodeAttestationObject performs CBOR decoding on a raw attestation object
//to obtain the attestation statement format, the raw authenticator data,
//and the attestation statement
func decodeAttestationObject(raw []byte) (*AttestationObject, error) {
	attestationObj := AttestationObject{}
	if err := cbor.Unmarshal(raw, &attestationObj); err != nil {
		return nil, ErrMalformedAttestation.Wrap(err)
	}
	if len(attestationObj.AuthData) == 0 {
		return nil, ErrMalformedAttestation.Wrap(NewError("Attestation object has no authenticator data"))
	}
	if attestationObj.Fmt == "" {
		return nil, ErrMalformedAttestation.Wrap(NewError("Attestation object has no format tag"))
	}
	return &attestationObj, nil
}

//verifyAttestationStatement dispatches to the format-specific verification
//procedure. The format set is closed: the switch is exhaustive over the six
//registered formats and anything else fails as unsupported, so adding a
//format is a compile-visible change here rather than a runtime registry
//lookup.
func verifyAttestationStatement(
	format AttestationStatementFormat,
	attStmt cbor.RawMessage,
	authData *AuthenticatorData,
	rawAuthData []byte,
	clientDataHash [32]byte,
	trust TrustPathVerifier,
) error {
	switch format {
	case StatementPacked:
		return verifyPackedAttestationStatement(attStmt, authData, rawAuthData, clientDataHash, trust)
	case StatementTPM:
		return verifyTPMAttestationStatement(attStmt, authData, rawAuthData, clientDataHash, trust)
	case StatementAndroidKey:
		return verifyAndroidKeyAttestationStatement(attStmt, authData, rawAuthData, clientDataHash, trust)
	case StatementAndroidSafetyNet:
		return verifySafetyNetAttestationStatement(attStmt, rawAuthData, clientDataHash, trust)
	case StatementFidoU2F:
		return verifyFidoU2FAttestationStatement(attStmt, authData, clientDataHash, trust)
	case StatementNone:
		return verifyNoneAttestationStatement(attStmt)
	}
	return ErrUnsupportedAttestationFmt.Wrap(NewError("Unknown attestation statement format %q", string(format)))
}

//attestationSignedData is the message every certificate-backed format signs:
//the concatenation of the raw authenticator data and the client data hash
func attestationSignedData(rawAuthData []byte, clientDataHash [32]byte) []byte {
	signed := make([]byte, 0, len(rawAuthData)+len(clientDataHash))
	signed = append(signed, rawAuthData...)
	return append(signed, clientDataHash[:]...)
}
