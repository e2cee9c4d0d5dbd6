package vouch

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"
)

//verifyNoneAttestationStatement verifies that an attestation statement of
//format "none" is the empty CBOR map. No trust evaluation happens here;
//accepting an unattested credential is a policy decision the Relying Party
//makes outside this verifier.
func verifyNoneAttestationStatement(attStmt cbor.RawMessage) error {
	if !bytes.Equal([]byte(attStmt), []byte{0xa0}) { //empty map
		return ErrAttestationInvalid.Wrap(NewError("Attestation format none with non-empty statement: %#v", attStmt))
	}
	return nil
}
