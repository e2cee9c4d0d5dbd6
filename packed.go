package vouch

import (
	"crypto/x509"
	"encoding/asn1"

	"github.com/fxamacker/cbor/v2"
)

//id-fido-gen-ce-aaguid certificate extension, carried by packed and
//android-key attestation certificates
var idFidoGenCeAAGUID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 45724, 1, 1, 4}

type packedAttStmt struct {
	Alg        int             `cbor:"alg"`
	Sig        []byte          `cbor:"sig"`
	X5C        [][]byte        `cbor:"x5c"`
	ECDAAKeyID cbor.RawMessage `cbor:"ecdaaKeyId"`
}

//verifyPackedAttestationStatement follows the packed attestation statement
//verification procedure in §8.2. The signature covers
//authenticatorData ‖ clientDataHash; it is made either with an attestation
//certificate carried in x5c or, for self attestation, with the credential
//key itself.
func verifyPackedAttestationStatement(
	attStmt cbor.RawMessage,
	authData *AuthenticatorData,
	rawAuthData []byte,
	clientDataHash [32]byte,
	trust TrustPathVerifier,
) error {
	stmt := packedAttStmt{}
	if err := cbor.Unmarshal(attStmt, &stmt); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error unmarshaling packed attestation statement").Wrap(err))
	}
	if len(stmt.Sig) == 0 {
		return ErrAttestationInvalid.Wrap(NewError("Packed attestation statement has no signature"))
	}
	if stmt.Alg == 0 {
		return ErrAttestationInvalid.Wrap(NewError("Packed attestation statement has no algorithm"))
	}
	if len(stmt.ECDAAKeyID) > 0 {
		return ErrAttestationInvalid.Wrap(NewError("ECDAA attestation is not supported"))
	}

	signed := attestationSignedData(rawAuthData, clientDataHash)

	//Self attestation: no certificate chain, the credential key made the
	//signature and alg must agree with the key's own algorithm.
	if len(stmt.X5C) == 0 {
		credKey := &authData.AttestedCredentialData.CredentialPublicKey
		if stmt.Alg != credKey.Alg {
			return ErrAttestationInvalid.Wrap(NewError("Self attestation algorithm %d does not match credential key algorithm %d", stmt.Alg, credKey.Alg))
		}
		if err := VerifySignature(credKey, signed, stmt.Sig); err != nil {
			return ErrAttestationInvalid.Wrap(err)
		}
		return nil
	}

	chain := make([]*x509.Certificate, 0, len(stmt.X5C))
	for _, raw := range stmt.X5C {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return ErrAttestationInvalid.Wrap(NewError("Error parsing packed attestation certificate").Wrap(err))
		}
		chain = append(chain, cert)
	}
	attCert := chain[0]

	if err := VerifyKeySignature(attCert.PublicKey, COSEAlgorithmIdentifier(stmt.Alg), signed, stmt.Sig); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	//Packed attestation statement certificate requirements, §8.2.1
	if attCert.Version != 3 {
		return ErrAttestationInvalid.Wrap(NewError("Attestation certificate is version %d, must be 3", attCert.Version))
	}
	if ou := attCert.Subject.OrganizationalUnit; len(ou) != 1 || ou[0] != "Authenticator Attestation" {
		return ErrAttestationInvalid.Wrap(NewError("Attestation certificate Subject-OU must be exactly [Authenticator Attestation], got %v", ou))
	}
	if attCert.IsCA {
		return ErrAttestationInvalid.Wrap(NewError("Attestation certificate must not be a CA"))
	}

	//If the certificate carries id-fido-gen-ce-aaguid it must match the
	//AAGUID in the authenticator data.
	if aaguid, ok, err := certAAGUID(attCert); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	} else if ok && aaguid != authData.AttestedCredentialData.AAGUID {
		return ErrAttestationInvalid.Wrap(NewError("Certificate AAGUID [% X] does not match authenticator data AAGUID [% X]", aaguid, authData.AttestedCredentialData.AAGUID))
	}

	if err := trust.VerifyTrustPath(chain); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	return nil
}

//certAAGUID extracts the id-fido-gen-ce-aaguid extension value if present
func certAAGUID(cert *x509.Certificate) ([16]byte, bool, error) {
	var aaguid [16]byte
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(idFidoGenCeAAGUID) {
			continue
		}
		var raw []byte
		if _, err := asn1.Unmarshal(ext.Value, &raw); err != nil {
			return aaguid, false, NewError("Error parsing id-fido-gen-ce-aaguid extension").Wrap(err)
		}
		if len(raw) != 16 {
			return aaguid, false, NewError("id-fido-gen-ce-aaguid extension is %d bytes, expected 16", len(raw))
		}
		copy(aaguid[:], raw)
		return aaguid, true, nil
	}
	return aaguid, false, nil
}
