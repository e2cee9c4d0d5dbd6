package vouch

import "fmt"

//Error represents an error in a WebAuthn relying party operation
type Error struct {
	Msg     string
	Wrapped error
}

//NewError returns a new formatted Error
func NewError(fmStr string, els ...interface{}) Error {
	return Error{
		Msg: fmt.Sprintf(fmStr, els...),
	}
}

//Error implements the error interface
func (e Error) Error() string {
	return e.Msg
}

//Unwrap allows for error unwrapping
func (e Error) Unwrap() error {
	return e.Wrapped
}

//Wrap returns a new error which contains the provided error wrapped with
//this error
func (e Error) Wrap(err error) Error {
	n := e
	n.Wrapped = err
	return n
}

//Is matches against the package sentinels by message so that errors.Is
//works through wrapping
func (e Error) Is(target error) bool {
	if t, ok := target.(Error); ok {
		return e.Msg == t.Msg
	}
	return false
}

//Sentinel errors for each failure class surfaced by the ceremonies. The
//first failing check aborts a ceremony; no partial state is persisted.
var (
	ErrMalformedAttestation        = Error{Msg: "Malformed attestation object"}
	ErrClientDataMismatch          = Error{Msg: "Client data does not match expected ceremony state"}
	ErrRPIDMismatch                = Error{Msg: "Authenticator data rpIdHash does not match relying party ID"}
	ErrMissingAttestedCredential   = Error{Msg: "Attested credential data missing from authenticator data"}
	ErrUnsupportedAttestationFmt   = Error{Msg: "Unsupported attestation statement format"}
	ErrAttestationInvalid          = Error{Msg: "Attestation statement verification failed"}
	ErrUnknownCredential           = Error{Msg: "Credential is not registered"}
	ErrCredentialRegistered        = Error{Msg: "Credential ID is already registered"}
	ErrSignatureInvalid            = Error{Msg: "Assertion signature verification failed"}
	ErrPossibleClonedAuthenticator = Error{Msg: "Signature counter did not increase; authenticator may be cloned"}
	ErrUserVerificationRequired    = Error{Msg: "User verification required but user verified flag not set"}
	ErrUserPresenceRequired        = Error{Msg: "User present flag not set"}
	ErrChallengeMissing            = Error{Msg: "No challenge available for this ceremony"}

	ErrUserNotFound      = Error{Msg: "User not found"}
	ErrCounterConflict   = Error{Msg: "Signature counter changed concurrently"}
	ErrGenerateChallenge = Error{Msg: "Error generating challenge"}
	ErrDecodeCOSEKey     = Error{Msg: "Error decoding COSE key"}
	ErrDecodeAuthData    = Error{Msg: "Error decoding authenticator data"}
	ErrDecodeRecord      = Error{Msg: "Error decoding credential record"}
)
