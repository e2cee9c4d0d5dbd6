//Package vouch implements the verification core of a WebAuthn Level 1
//Relying Party: credential registration (attestation) and login (assertion)
//ceremonies, client data and authenticator data validation, attestation
//statement verification, and the signature counter anti-clone guard.
//
//The package holds no state of its own. Challenges live in the caller-owned
//session layer and are threaded through the ceremony functions as explicit
//parameters; users and credentials live behind the store contracts below.
package vouch

import "crypto/x509"

//User identifies an account holder. The ID is an opaque random handle of at
//most 64 bytes which is never reused; Email is the unique login identifier.
type User struct {
	ID          []byte
	Email       string
	DisplayName string
}

//Credential is a public key credential registered to a User. PublicKey holds
//the serialized authenticator record (see record.go); SignCount mirrors the
//record's counter and is the only field mutated after registration.
type Credential struct {
	CredentialID []byte
	UserID       []byte
	PublicKey    []byte
	SignCount    uint32
}

//RelyingParty defines functions which return data required about the Relying
//Party in order to perform WebAuthn transactions.
type RelyingParty interface {
	RelyingPartyID() string
	RelyingPartyName() string
	RelyingPartyOrigin() string
}

//UserStore is the persistence contract for users.
type UserStore interface {
	//FindUserByEmail returns ErrUserNotFound if no user has the email.
	FindUserByEmail(email string) (*User, error)

	//InsertUser persists a new user. Inserting an email that already exists
	//must be a no-op, not an error.
	InsertUser(user *User) error
}

//CredentialFinder is the read side of the credential persistence contract.
type CredentialFinder interface {
	//FindCredentialsByUser returns all credentials registered to the user,
	//in no guaranteed order. An unknown user yields an empty slice.
	FindCredentialsByUser(userID []byte) ([]*Credential, error)

	//FindCredentialByID returns ErrUnknownCredential if the credential does
	//not exist.
	FindCredentialByID(credentialID []byte) (*Credential, error)
}

//CredentialStore is the full persistence contract consumed by the ceremony
//functions.
type CredentialStore interface {
	UserStore
	CredentialFinder

	//InsertCredential persists a newly registered credential.
	InsertCredential(cred *Credential) error

	//UpdateSignCount sets the credential's signature counter to "to" if and
	//only if the stored value still equals "from", returning
	//ErrCounterConflict otherwise. Implementations must make the compare and
	//the write atomic per credential row so concurrent assertions cannot
	//both pass the monotonicity check against a stale counter.
	UpdateSignCount(credentialID []byte, from, to uint32) error
}

//TrustPathVerifier is the pluggable trust policy consulted after an
//attestation statement verifies structurally and cryptographically. The
//chain is the statement's trust path, leaf first; it is empty for
//self-attested statements.
type TrustPathVerifier interface {
	VerifyTrustPath(chain []*x509.Certificate) error
}

//AcceptAllTrustPaths is a TrustPathVerifier that trusts every chain. It
//matches the reference policy, which defers attestation trust decisions to
//the Relying Party rather than pinning a root store.
type AcceptAllTrustPaths struct{}

//VerifyTrustPath implements TrustPathVerifier.
func (AcceptAllTrustPaths) VerifyTrustPath(_ []*x509.Certificate) error {
	return nil
}

//SupportedAttestationStatementFormats returns the list of attestation
//formats currently supported by the library.
func SupportedAttestationStatementFormats() []AttestationStatementFormat {
	return []AttestationStatementFormat{
		StatementPacked,
		StatementTPM,
		StatementAndroidKey,
		StatementAndroidSafetyNet,
		StatementFidoU2F,
		StatementNone,
	}
}
