package vouch

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestAttestationStatementFormatValid(t *testing.T) {
	for _, format := range SupportedAttestationStatementFormats() {
		if err := format.Valid(); err != nil {
			t.Errorf("Want %q to be valid, got %v", format, err)
		}
	}
	if err := AttestationStatementFormat("apple").Valid(); !errors.Is(err, ErrUnsupportedAttestationFmt) {
		t.Errorf("Want ErrUnsupportedAttestationFmt, got %v", err)
	}
}

func TestDecodeAttestationObject(t *testing.T) {
	fa := newFakeAuthenticator(t)

	decoded, err := decodeAttestationObject(fa.attestNone(t, 3))
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if decoded.Fmt != StatementNone {
		t.Errorf("Want format none, got %q", decoded.Fmt)
	}
	if len(decoded.AuthData) == 0 {
		t.Error("Want authenticator data")
	}

	if _, err := decodeAttestationObject([]byte{0xff, 0xff}); !errors.Is(err, ErrMalformedAttestation) {
		t.Errorf("Want ErrMalformedAttestation, got %v", err)
	}

	missingFmt := mustMarshalRaw(t, map[string]interface{}{
		"authData": []byte{0x01},
		"attStmt":  map[string]interface{}{},
	})
	if _, err := decodeAttestationObject(missingFmt); !errors.Is(err, ErrMalformedAttestation) {
		t.Errorf("Want ErrMalformedAttestation for missing fmt, got %v", err)
	}
}

func TestVerifyNoneAttestationStatement(t *testing.T) {
	if err := verifyNoneAttestationStatement(cbor.RawMessage{0xa0}); err != nil {
		t.Errorf("Want no error for empty map, got %v", err)
	}

	nonEmpty := mustMarshalRaw(t, map[string]interface{}{"x5c": []interface{}{}})
	if err := verifyNoneAttestationStatement(nonEmpty); !errors.Is(err, ErrAttestationInvalid) {
		t.Errorf("Want ErrAttestationInvalid for non-empty statement, got %v", err)
	}
}

func TestVerifyAttestationStatementUnknownFormat(t *testing.T) {
	err := verifyAttestationStatement("apple", cbor.RawMessage{0xa0}, &AuthenticatorData{}, nil, [32]byte{}, AcceptAllTrustPaths{})
	if !errors.Is(err, ErrUnsupportedAttestationFmt) {
		t.Errorf("Want ErrUnsupportedAttestationFmt, got %v", err)
	}
}
