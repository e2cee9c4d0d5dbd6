package vouch

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
)

//AuthenticatorData encodes contextual bindings made by the authenticator.
//§6.1
type AuthenticatorData struct {
	RPIDHash               [32]byte
	UP                     bool
	UV                     bool
	AT                     bool
	ED                     bool
	SignCount              uint32
	AttestedCredentialData AttestedCredentialData
	Extensions             map[string]interface{}
}

//Decode decodes the fixed-layout authenticator data structure
func (ad *AuthenticatorData) Decode(data io.Reader) error {
	n, err := io.ReadFull(data, ad.RPIDHash[:])
	if err != nil {
		return ErrDecodeAuthData.Wrap(NewError("Expected 32 bytes of RP ID hash, got %d", n).Wrap(err))
	}

	var flags uint8
	if err = binary.Read(data, binary.BigEndian, &flags); err != nil {
		return ErrDecodeAuthData.Wrap(NewError("Error reading flag byte").Wrap(err))
	}

	ad.UP = flags&0x01 > 0
	ad.UV = flags&0x04 > 0
	ad.AT = flags&0x40 > 0
	ad.ED = flags&0x80 > 0

	if err = binary.Read(data, binary.BigEndian, &ad.SignCount); err != nil {
		return ErrDecodeAuthData.Wrap(NewError("Error reading sign count").Wrap(err))
	}

	if ad.AT {
		if err = ad.AttestedCredentialData.Decode(data); err != nil {
			return ErrDecodeAuthData.Wrap(err)
		}
	}

	if ad.ED {
		if err = cbor.NewDecoder(data).Decode(&ad.Extensions); err != nil {
			return ErrDecodeAuthData.Wrap(NewError("Error decoding extension data").Wrap(err))
		}
	}

	return nil
}

//VerifyRPIDHash checks that the decoded rpIdHash equals the SHA-256 hash of
//the given Relying Party ID
func (ad *AuthenticatorData) VerifyRPIDHash(rpID string) error {
	expected := sha256.Sum256([]byte(rpID))
	if subtle.ConstantTimeCompare(ad.RPIDHash[:], expected[:]) != 1 {
		return ErrRPIDMismatch.Wrap(NewError("Got rpIdHash [% X], expected SHA-256(%q)", ad.RPIDHash, rpID))
	}
	return nil
}

//AttestedCredentialData is a variable-length byte array added to the
//authenticator data when generating an attestation object for a given
//credential. §6.4.1
type AttestedCredentialData struct {
	AAGUID              [16]byte
	CredentialID        []byte
	CredentialPublicKey COSEKey
}

//Decode decodes the attested credential data from a stream
func (acd *AttestedCredentialData) Decode(data io.Reader) error {
	n, err := io.ReadFull(data, acd.AAGUID[:])
	if err != nil {
		return ErrDecodeAuthData.Wrap(NewError("Expected 16 bytes of AAGUID data, got %d", n).Wrap(err))
	}

	var credLen uint16
	if err = binary.Read(data, binary.BigEndian, &credLen); err != nil {
		return ErrDecodeAuthData.Wrap(NewError("Error reading credential ID length").Wrap(err))
	}

	acd.CredentialID = make([]byte, credLen)
	n, err = io.ReadFull(data, acd.CredentialID)
	if err != nil {
		return ErrDecodeAuthData.Wrap(NewError("Expected %d bytes of credential ID data, got %d", credLen, n).Wrap(err))
	}

	if err = cbor.NewDecoder(data).Decode(&acd.CredentialPublicKey); err != nil {
		return ErrDecodeAuthData.Wrap(NewError("Error unmarshaling COSE key data").Wrap(err))
	}

	return nil
}

//Empty reports whether no attested credential data was decoded
func (acd *AttestedCredentialData) Empty() bool {
	return len(acd.CredentialID) == 0
}

//decodeAuthData decodes authenticator data from raw bytes. When neither the
//AT nor the ED flag is set no variable-length fields follow the fixed layout
//and any trailing bytes are rejected; with CBOR tails the inner decoders
//consume what their data items declare.
func decodeAuthData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < 37 { //32 byte hash + 1 flag byte + 4 byte counter
		return nil, ErrDecodeAuthData.Wrap(NewError("Authenticator data is %d bytes, minimum is 37", len(raw)))
	}
	ad := &AuthenticatorData{}
	if err := ad.Decode(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	if !ad.AT && !ad.ED && len(raw) != 37 {
		return nil, ErrDecodeAuthData.Wrap(NewError("Authenticator data is %d bytes with %d trailing", len(raw), len(raw)-37))
	}
	return ad, nil
}
