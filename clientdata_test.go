package vouch

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestVerifyClientData(t *testing.T) {
	challenge := []byte("0123456789abcdef0123456789abcdef")
	encoded := base64.RawURLEncoding.EncodeToString(challenge)

	tests := []struct {
		Name     string
		C        CollectedClientData
		Ceremony string
		Err      error
	}{
		{
			Name:     "valid create",
			C:        CollectedClientData{Type: CeremonyCreate, Challenge: encoded, Origin: "https://example.com"},
			Ceremony: CeremonyCreate,
		},
		{
			Name:     "valid get",
			C:        CollectedClientData{Type: CeremonyGet, Challenge: encoded, Origin: "https://example.com"},
			Ceremony: CeremonyGet,
		},
		{
			Name:     "ceremony type mismatch",
			C:        CollectedClientData{Type: CeremonyGet, Challenge: encoded, Origin: "https://example.com"},
			Ceremony: CeremonyCreate,
			Err:      ErrClientDataMismatch,
		},
		{
			Name:     "origin scheme mismatch",
			C:        CollectedClientData{Type: CeremonyCreate, Challenge: encoded, Origin: "http://example.com"},
			Ceremony: CeremonyCreate,
			Err:      ErrClientDataMismatch,
		},
		{
			Name:     "origin subdomain mismatch",
			C:        CollectedClientData{Type: CeremonyCreate, Challenge: encoded, Origin: "https://login.example.com"},
			Ceremony: CeremonyCreate,
			Err:      ErrClientDataMismatch,
		},
		{
			Name:     "origin port mismatch",
			C:        CollectedClientData{Type: CeremonyCreate, Challenge: encoded, Origin: "https://example.com:8443"},
			Ceremony: CeremonyCreate,
			Err:      ErrClientDataMismatch,
		},
		{
			Name:     "challenge not base64url",
			C:        CollectedClientData{Type: CeremonyCreate, Challenge: "!!!not-base64!!!", Origin: "https://example.com"},
			Ceremony: CeremonyCreate,
			Err:      ErrClientDataMismatch,
		},
		{
			Name:     "challenge mismatch",
			C:        CollectedClientData{Type: CeremonyCreate, Challenge: base64.RawURLEncoding.EncodeToString([]byte("another-challenge-value-entirely")), Origin: "https://example.com"},
			Ceremony: CeremonyCreate,
			Err:      ErrClientDataMismatch,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			err := verifyClientData(&test.C, test.Ceremony, testRP{}, challenge)
			if test.Err != nil {
				if !errors.Is(err, test.Err) {
					t.Fatalf("Want error %v, got %v", test.Err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Want no error, got %v", err)
			}
		})
	}
}

func TestParseClientData(t *testing.T) {
	C, err := ParseClientData([]byte(`{"type":"webauthn.create","challenge":"YWJjZA","origin":"https://example.com"}`))
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if C.Type != CeremonyCreate || C.Challenge != "YWJjZA" || C.Origin != "https://example.com" {
		t.Errorf("Unexpected parse result %+v", C)
	}

	if _, err := ParseClientData([]byte(`{not json`)); !errors.Is(err, ErrClientDataMismatch) {
		t.Errorf("Want ErrClientDataMismatch, got %v", err)
	}
}
