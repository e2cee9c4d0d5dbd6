package vouch

import "github.com/fxamacker/cbor/v2"

//recordVersion tags the serialized credential record layout so a future
//layout change can keep decoding old rows.
const recordVersion = 1

var recordEncMode cbor.EncMode

func init() {
	var err error
	recordEncMode, err = cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

//CredentialRecord is the durable form of a registered credential's
//verification material. It is serialized into Credential.PublicKey at
//registration and decoded on every assertion. The attestation format and raw
//statement are retained so a Relying Party can re-evaluate trust after the
//fact, for example when an authenticator model is later compromised.
type CredentialRecord struct {
	Version              int             `cbor:"v"`
	AAGUID               []byte          `cbor:"aaguid"`
	PublicKey            COSEKey         `cbor:"publicKey"`
	AttestationFormat    string          `cbor:"attFmt"`
	AttestationStatement cbor.RawMessage `cbor:"attStmt,omitempty"`
}

//newCredentialRecord captures the verification material from a completed
//registration ceremony
func newCredentialRecord(acd *AttestedCredentialData, format AttestationStatementFormat, attStmt cbor.RawMessage) *CredentialRecord {
	return &CredentialRecord{
		Version:              recordVersion,
		AAGUID:               acd.AAGUID[:],
		PublicKey:            acd.CredentialPublicKey,
		AttestationFormat:    string(format),
		AttestationStatement: attStmt,
	}
}

//Encode serializes the record in CTAP2 canonical CBOR form
func (r *CredentialRecord) Encode() ([]byte, error) {
	encoded, err := recordEncMode.Marshal(r)
	if err != nil {
		return nil, ErrDecodeRecord.Wrap(NewError("Error encoding credential record").Wrap(err))
	}
	return encoded, nil
}

//decodeCredentialRecord deserializes a record produced by Encode
func decodeCredentialRecord(raw []byte) (*CredentialRecord, error) {
	record := CredentialRecord{}
	if err := cbor.Unmarshal(raw, &record); err != nil {
		return nil, ErrDecodeRecord.Wrap(err)
	}
	if record.Version != recordVersion {
		return nil, ErrDecodeRecord.Wrap(NewError("Credential record version %d not supported", record.Version))
	}
	return &record, nil
}
