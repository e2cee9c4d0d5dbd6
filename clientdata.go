package vouch

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

//Ceremony type strings carried in collected client data
const (
	CeremonyCreate = "webauthn.create"
	CeremonyGet    = "webauthn.get"
)

//CollectedClientData represents the contextual bindings of both the WebAuthn
//Relying Party and the client. §5.10.1
type CollectedClientData struct {
	Type         string        `json:"type"`
	Challenge    string        `json:"challenge"`
	Origin       string        `json:"origin"`
	TokenBinding *TokenBinding `json:"tokenBinding,omitempty"`
}

//TokenBinding contains information about the state of the Token Binding
//protocol used when communicating with the Relying Party. §5.10.1
type TokenBinding struct {
	Status TokenBindingStatus `json:"status"`
	ID     string             `json:"id,omitempty"`
}

//TokenBindingStatus represents a token binding status value
type TokenBindingStatus string

//enum values for the TokenBindingStatus type
const (
	StatusSupported TokenBindingStatus = "supported"
	StatusPresent   TokenBindingStatus = "present"
)

//ParseClientData parses a client data JSON blob into CollectedClientData
func ParseClientData(jsonText []byte) (*CollectedClientData, error) {
	C := CollectedClientData{}
	err := json.Unmarshal(jsonText, &C)
	if err != nil {
		return nil, ErrClientDataMismatch.Wrap(NewError("Error unmarshaling client data JSON").Wrap(err))
	}
	return &C, nil
}

//verifyClientData performs the shared client data checks for both
//ceremonies: the ceremony type, the origin (exact scheme+host+port match
//against the Relying Party's configured origin), and the byte-for-byte
//challenge comparison against the value stashed by the session layer. Every
//mismatch is terminal.
func verifyClientData(C *CollectedClientData, ceremony string, rp RelyingParty, challenge []byte) error {
	if C.Type != ceremony {
		return ErrClientDataMismatch.Wrap(NewError("C.type is %q, expected %q", C.Type, ceremony))
	}

	if C.Origin != rp.RelyingPartyOrigin() {
		return ErrClientDataMismatch.Wrap(NewError("C.origin is %q, relying party origin is %q", C.Origin, rp.RelyingPartyOrigin()))
	}

	rawChallenge, err := base64.RawURLEncoding.DecodeString(C.Challenge)
	if err != nil {
		return ErrClientDataMismatch.Wrap(NewError("C.challenge is not valid base64url").Wrap(err))
	}
	if !bytes.Equal(rawChallenge, challenge) {
		return ErrClientDataMismatch.Wrap(NewError("Challenge mismatch: got [% X] expected [% X]", rawChallenge, challenge))
	}

	return nil
}
