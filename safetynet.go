package vouch

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/fxamacker/cbor/v2"
	jose "gopkg.in/square/go-jose.v2"
)

const safetyNetHostname = "attest.android.com"

type safetyNetAttStmt struct {
	Ver      string `cbor:"ver"`
	Response []byte `cbor:"response"`
}

//safetyNetResponse is the payload of the SafetyNet attestation JWS
type safetyNetResponse struct {
	Nonce           string `json:"nonce"`
	TimestampMs     int64  `json:"timestampMs"`
	APKPackageName  string `json:"apkPackageName"`
	CTSProfileMatch bool   `json:"ctsProfileMatch"`
	BasicIntegrity  bool   `json:"basicIntegrity"`
}

//verifySafetyNetAttestationStatement follows the Android SafetyNet
//attestation statement verification procedure in §8.5. The response is a
//JWS signed by a Google-issued certificate for attest.android.com; its
//nonce binds the attestation to this ceremony.
func verifySafetyNetAttestationStatement(
	attStmt cbor.RawMessage,
	rawAuthData []byte,
	clientDataHash [32]byte,
	trust TrustPathVerifier,
) error {
	stmt := safetyNetAttStmt{}
	if err := cbor.Unmarshal(attStmt, &stmt); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error unmarshaling android-safetynet attestation statement").Wrap(err))
	}
	if stmt.Ver == "" {
		return ErrAttestationInvalid.Wrap(NewError("SafetyNet attestation statement has no version"))
	}

	chain, err := safetyNetCertChain(stmt.Response)
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	leaf := chain[0]

	jws, err := jose.ParseSigned(string(stmt.Response))
	if err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error parsing SafetyNet JWS").Wrap(err))
	}
	payload, err := jws.Verify(leaf.PublicKey)
	if err != nil {
		return ErrAttestationInvalid.Wrap(NewError("SafetyNet JWS signature verification failed").Wrap(err))
	}

	response := safetyNetResponse{}
	if err := json.Unmarshal(payload, &response); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error unmarshaling SafetyNet response payload").Wrap(err))
	}

	//nonce = base64(SHA-256(authenticatorData || clientDataHash))
	nonceHash := sha256.Sum256(attestationSignedData(rawAuthData, clientDataHash))
	if response.Nonce != base64.StdEncoding.EncodeToString(nonceHash[:]) {
		return ErrAttestationInvalid.Wrap(NewError("SafetyNet nonce does not match hash of authenticator data and client data hash"))
	}

	if err := leaf.VerifyHostname(safetyNetHostname); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("SafetyNet certificate is not issued to %s", safetyNetHostname).Wrap(err))
	}

	if !response.CTSProfileMatch {
		return ErrAttestationInvalid.Wrap(NewError("SafetyNet response has ctsProfileMatch false"))
	}

	if err := trust.VerifyTrustPath(chain); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	return nil
}

//safetyNetCertChain extracts the x5c certificate chain from the protected
//header of a compact JWS. go-jose only surfaces certificates through chain
//verification against a root pool, but here trust evaluation is the
//TrustPathVerifier's job, so the header is decoded directly.
func safetyNetCertChain(response []byte) ([]*x509.Certificate, error) {
	parts := strings.Split(string(response), ".")
	if len(parts) != 3 {
		return nil, NewError("SafetyNet response is not a compact JWS")
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, NewError("Error decoding SafetyNet JWS header").Wrap(err)
	}

	header := struct {
		X5C []string `json:"x5c"`
	}{}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, NewError("Error unmarshaling SafetyNet JWS header").Wrap(err)
	}
	if len(header.X5C) == 0 {
		return nil, NewError("SafetyNet JWS header has no certificate chain")
	}

	chain := make([]*x509.Certificate, 0, len(header.X5C))
	for _, encoded := range header.X5C {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, NewError("Error decoding SafetyNet certificate").Wrap(err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, NewError("Error parsing SafetyNet certificate").Wrap(err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}
