package vouch

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

//TPM 2.0 structure constants used by the attestation verification procedure
const (
	tpmGeneratedValue  uint32 = 0xff544347
	tpmStAttestCertify uint16 = 0x8017

	tpmAlgRSA    uint16 = 0x0001
	tpmAlgSHA256 uint16 = 0x000b
	tpmAlgSHA384 uint16 = 0x000c
	tpmAlgSHA512 uint16 = 0x000d
	tpmAlgECC    uint16 = 0x0023

	tpmEccNistP256 uint16 = 0x0003
	tpmEccNistP384 uint16 = 0x0004
	tpmEccNistP521 uint16 = 0x0005
)

var (
	oidExtensionSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}
	oidTcgKpAIKCertificate     = asn1.ObjectIdentifier{2, 23, 133, 8, 3}
	oidTPMManufacturer         = asn1.ObjectIdentifier{2, 23, 133, 2, 1}
)

type tpmAttStmt struct {
	Ver      string   `cbor:"ver"`
	Alg      int      `cbor:"alg"`
	X5C      [][]byte `cbor:"x5c"`
	Sig      []byte   `cbor:"sig"`
	CertInfo []byte   `cbor:"certInfo"`
	PubArea  []byte   `cbor:"pubArea"`
}

//tpmsAttest is the subset of the TPMS_ATTEST structure the verification
//procedure consumes (TPMv2 Part 2 §10.12.8)
type tpmsAttest struct {
	magic     uint32
	typ       uint16
	extraData []byte
	name      []byte //attested name with its 2-byte hash algorithm prefix stripped
}

//tpmtPublic is the subset of the TPMT_PUBLIC structure the verification
//procedure consumes (TPMv2 Part 2 §12.2.4)
type tpmtPublic struct {
	typ      uint16
	nameAlg  uint16
	exponent uint32
	curveID  uint16
	rsaN     []byte
	eccX     []byte
	eccY     []byte
}

//verifyTPMAttestationStatement follows the TPM attestation statement
//verification procedure in §8.3: the pubArea key must equal the credential
//key, certInfo must be a TPM_ST_ATTEST_CERTIFY quote whose extraData is the
//hash of authenticatorData ‖ clientDataHash and whose attested name matches
//pubArea, and sig must verify over certInfo with the AIK certificate.
func verifyTPMAttestationStatement(
	attStmt cbor.RawMessage,
	authData *AuthenticatorData,
	rawAuthData []byte,
	clientDataHash [32]byte,
	trust TrustPathVerifier,
) error {
	stmt := tpmAttStmt{}
	if err := cbor.Unmarshal(attStmt, &stmt); err != nil {
		return ErrAttestationInvalid.Wrap(NewError("Error unmarshaling tpm attestation statement").Wrap(err))
	}
	if stmt.Ver != "2.0" {
		return ErrAttestationInvalid.Wrap(NewError("TPM attestation version is %q, expected 2.0", stmt.Ver))
	}
	if len(stmt.X5C) == 0 {
		return ErrAttestationInvalid.Wrap(NewError("TPM attestation statement has no certificate chain"))
	}

	certInfo, err := parseTPMCertInfo(stmt.CertInfo)
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	pubArea, err := parseTPMPubArea(stmt.PubArea)
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	//pubArea must describe exactly the credential public key
	credPub, err := DecodePublicKey(&authData.AttestedCredentialData.CredentialPublicKey)
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	if err := matchTPMPublicKey(pubArea, credPub); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	if certInfo.magic != tpmGeneratedValue {
		return ErrAttestationInvalid.Wrap(NewError("certInfo.magic is %#x, expected TPM_GENERATED_VALUE", certInfo.magic))
	}
	if certInfo.typ != tpmStAttestCertify {
		return ErrAttestationInvalid.Wrap(NewError("certInfo.type is %#x, expected TPM_ST_ATTEST_CERTIFY", certInfo.typ))
	}

	//extraData = hash(authenticatorData || clientDataHash) using alg's hash
	h, err := coseHash(COSEAlgorithmIdentifier(stmt.Alg))
	if err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	hasher := h.New()
	hasher.Write(attestationSignedData(rawAuthData, clientDataHash))
	if !bytes.Equal(hasher.Sum(nil), certInfo.extraData) {
		return ErrAttestationInvalid.Wrap(NewError("certInfo.extraData does not match hash of authenticator data and client data hash"))
	}

	//attested name must be the nameAlg hash of the raw pubArea
	var nameHash crypto.Hash
	switch pubArea.nameAlg {
	case tpmAlgSHA256:
		nameHash = crypto.SHA256
	case tpmAlgSHA384:
		nameHash = crypto.SHA384
	case tpmAlgSHA512:
		nameHash = crypto.SHA512
	default:
		return ErrAttestationInvalid.Wrap(NewError("TPM nameAlg %#x not supported", pubArea.nameAlg))
	}
	nameHasher := nameHash.New()
	nameHasher.Write(stmt.PubArea)
	if !bytes.Equal(nameHasher.Sum(nil), certInfo.name) {
		return ErrAttestationInvalid.Wrap(NewError("certInfo attested name does not match pubArea name"))
	}

	chain := make([]*x509.Certificate, 0, len(stmt.X5C))
	for _, raw := range stmt.X5C {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return ErrAttestationInvalid.Wrap(NewError("Error parsing TPM attestation certificate").Wrap(err))
		}
		chain = append(chain, cert)
	}
	aikCert := chain[0]

	if err := VerifyKeySignature(aikCert.PublicKey, COSEAlgorithmIdentifier(stmt.Alg), stmt.CertInfo, stmt.Sig); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	if err := verifyAIKCert(aikCert); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}

	if aaguid, ok, err := certAAGUID(aikCert); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	} else if ok && aaguid != authData.AttestedCredentialData.AAGUID {
		return ErrAttestationInvalid.Wrap(NewError("AIK certificate AAGUID does not match authenticator data AAGUID"))
	}

	if err := trust.VerifyTrustPath(chain); err != nil {
		return ErrAttestationInvalid.Wrap(err)
	}
	return nil
}

//matchTPMPublicKey checks the pubArea parameters and unique fields against
//the decoded credential public key
func matchTPMPublicKey(pubArea *tpmtPublic, credPub crypto.PublicKey) error {
	switch pubArea.typ {
	case tpmAlgRSA:
		pk, ok := credPub.(*rsa.PublicKey)
		if !ok {
			return NewError("pubArea key type is RSA but credential key is not")
		}
		if !bytes.Equal(pubArea.rsaN, pk.N.Bytes()) {
			return NewError("pubArea RSA modulus does not match credential key")
		}
		if pubArea.exponent != uint32(pk.E) {
			return NewError("pubArea RSA exponent does not match credential key")
		}
	case tpmAlgECC:
		pk, ok := credPub.(*ecdsa.PublicKey)
		if !ok {
			return NewError("pubArea key type is ECC but credential key is not")
		}
		var bits int
		switch pubArea.curveID {
		case tpmEccNistP256:
			bits = 256
		case tpmEccNistP384:
			bits = 384
		case tpmEccNistP521:
			bits = 521
		default:
			return NewError("TPM ECC curve %#x not supported", pubArea.curveID)
		}
		if pk.Curve.Params().BitSize != bits {
			return NewError("pubArea ECC curve does not match credential key curve")
		}
		if !bytes.Equal(pubArea.eccX, pk.X.Bytes()) || !bytes.Equal(pubArea.eccY, pk.Y.Bytes()) {
			return NewError("pubArea ECC point does not match credential key")
		}
	default:
		return NewError("TPM public key type %#x not supported", pubArea.typ)
	}
	return nil
}

//verifyAIKCert checks the TPM attestation statement certificate
//requirements in §8.3.1
func verifyAIKCert(c *x509.Certificate) error {
	if c.Version != 3 {
		return NewError("AIK certificate is version %d, must be 3", c.Version)
	}

	var subject asn1.RawValue
	if _, err := asn1.Unmarshal(c.RawSubject, &subject); err != nil {
		return NewError("Error parsing AIK certificate subject").Wrap(err)
	}
	if len(subject.Bytes) != 0 {
		return NewError("AIK certificate subject must be empty")
	}

	if err := verifyAIKCertSAN(c); err != nil {
		return err
	}

	var hasAIKUsage bool
	for _, oid := range c.UnknownExtKeyUsage {
		if oid.Equal(oidTcgKpAIKCertificate) {
			hasAIKUsage = true
			break
		}
	}
	if !hasAIKUsage {
		return NewError("AIK certificate extended key usage lacks tcg-kp-AIKCertificate")
	}

	if c.IsCA {
		return NewError("AIK certificate must not be a CA")
	}

	//The SAN extension is critical but carries a directoryName, which the
	//x509 package does not handle; clear it so chain verification can run.
	for i, oid := range c.UnhandledCriticalExtensions {
		if oid.Equal(oidExtensionSubjectAltName) {
			c.UnhandledCriticalExtensions = append(c.UnhandledCriticalExtensions[:i], c.UnhandledCriticalExtensions[i+1:]...)
			break
		}
	}

	return nil
}

//verifyAIKCertSAN requires a Subject Alternative Name extension holding a
//directoryName with at least the TPM manufacturer attribute, per the TCG EK
//credential profile §3.2.9
func verifyAIKCertSAN(c *x509.Certificate) error {
	var sanValue []byte
	for _, ext := range c.Extensions {
		if ext.Id.Equal(oidExtensionSubjectAltName) {
			sanValue = ext.Value
			break
		}
	}
	if sanValue == nil {
		return NewError("AIK certificate has no Subject Alternative Name extension")
	}

	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(sanValue, &seq); err != nil {
		return NewError("Error parsing AIK certificate SAN").Wrap(err)
	}

	rest := seq.Bytes
	for len(rest) > 0 {
		var generalName asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &generalName)
		if err != nil {
			return NewError("Error parsing AIK certificate SAN general name").Wrap(err)
		}
		if generalName.Tag != 4 { //directoryName
			continue
		}
		var rdns pkix.RDNSequence
		if _, err := asn1.Unmarshal(generalName.Bytes, &rdns); err != nil {
			return NewError("Error parsing AIK certificate SAN directory name").Wrap(err)
		}
		for _, rdn := range rdns {
			for _, atv := range rdn {
				if atv.Type.Equal(oidTPMManufacturer) {
					return nil
				}
			}
		}
	}

	return NewError("AIK certificate SAN does not identify a TPM manufacturer")
}

func parseTPMCertInfo(data []byte) (*tpmsAttest, error) {
	certInfo := &tpmsAttest{}
	if len(data) < 6 {
		return nil, NewError("certInfo truncated")
	}
	certInfo.magic, data = binary.BigEndian.Uint32(data[:4]), data[4:]
	certInfo.typ, data = binary.BigEndian.Uint16(data[:2]), data[2:]

	var err error
	//qualifiedSigner (ignored)
	if _, data, err = getTPM2bData(data); err != nil {
		return nil, NewError("certInfo.qualifiedSigner truncated")
	}
	if certInfo.extraData, data, err = getTPM2bData(data); err != nil {
		return nil, NewError("certInfo.extraData truncated")
	}
	//clockInfo (17 bytes) and firmwareVersion (8 bytes) are ignored
	if len(data) < 25 {
		return nil, NewError("certInfo clock and firmware fields truncated")
	}
	data = data[25:]

	var name []byte
	if name, data, err = getTPM2bData(data); err != nil {
		return nil, NewError("certInfo.attested.name truncated")
	}
	if len(name) < 2 {
		return nil, NewError("certInfo.attested.name too short")
	}
	certInfo.name = name[2:] //strip the hash algorithm prefix

	//qualifiedName (ignored)
	if _, data, err = getTPM2bData(data); err != nil {
		return nil, NewError("certInfo.attested.qualifiedName truncated")
	}
	if len(data) != 0 {
		return nil, NewError("Trailing data after certInfo")
	}
	return certInfo, nil
}

func parseTPMPubArea(data []byte) (*tpmtPublic, error) {
	pubArea := &tpmtPublic{}
	if len(data) < 8 {
		return nil, NewError("pubArea truncated")
	}
	pubArea.typ, data = binary.BigEndian.Uint16(data[:2]), data[2:]
	pubArea.nameAlg, data = binary.BigEndian.Uint16(data[:2]), data[2:]
	data = data[4:] //objectAttributes are not consulted

	var err error
	//authPolicy (ignored)
	if _, data, err = getTPM2bData(data); err != nil {
		return nil, NewError("pubArea.authPolicy truncated")
	}

	switch pubArea.typ {
	case tpmAlgRSA:
		if len(data) < 10 {
			return nil, NewError("pubArea RSA parameters truncated")
		}
		//symmetric, scheme and keyBits are not consulted
		pubArea.exponent = binary.BigEndian.Uint32(data[6:10])
		if pubArea.exponent == 0 {
			pubArea.exponent = 65537 //default exponent
		}
		data = data[10:]
		if pubArea.rsaN, data, err = getTPM2bData(data); err != nil {
			return nil, NewError("pubArea RSA modulus truncated")
		}
	case tpmAlgECC:
		if len(data) < 8 {
			return nil, NewError("pubArea ECC parameters truncated")
		}
		pubArea.curveID = binary.BigEndian.Uint16(data[4:6])
		data = data[8:]
		if pubArea.eccX, data, err = getTPM2bData(data); err != nil {
			return nil, NewError("pubArea ECC X coordinate truncated")
		}
		if pubArea.eccY, data, err = getTPM2bData(data); err != nil {
			return nil, NewError("pubArea ECC Y coordinate truncated")
		}
	default:
		return nil, NewError("TPM public key type %#x not supported", pubArea.typ)
	}

	if len(data) != 0 {
		return nil, NewError("Trailing data after pubArea")
	}
	return pubArea, nil
}

//getTPM2bData reads a TPM2B length-prefixed buffer
func getTPM2bData(data []byte) (element, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, NewError("TPM2B buffer truncated")
	}
	elementLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+elementLen {
		return nil, nil, NewError("TPM2B buffer truncated")
	}
	return data[2 : 2+elementLen], data[2+elementLen:], nil
}

//coseHash maps a COSE algorithm identifier to the hash it employs
func coseHash(alg COSEAlgorithmIdentifier) (crypto.Hash, error) {
	switch alg {
	case AlgorithmES256, AlgorithmRS256, AlgorithmPS256:
		return crypto.SHA256, nil
	case AlgorithmES384, AlgorithmRS384, AlgorithmPS384:
		return crypto.SHA384, nil
	case AlgorithmES512, AlgorithmRS512, AlgorithmPS512:
		return crypto.SHA512, nil
	case AlgorithmRS1:
		return crypto.SHA1, nil
	}
	return 0, NewError("COSE algorithm ID %d has no associated hash", alg)
}
