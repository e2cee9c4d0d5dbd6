package vouch

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
)

//userHandleLength is the size in bytes of generated user handles
const userHandleLength = 32

//StartRegistration begins the registration ceremony by assembling
//PublicKeyCredentialCreationOptions for the client. If the user has no handle
//yet one is generated; the caller must stash the returned challenge (and the
//user) in its session layer for the matching FinishRegistration call.
//
//Credentials already registered to the user are placed on the exclude list so
//an authenticator refuses to re-register itself.
func StartRegistration(rp RelyingParty, user *User, store CredentialFinder, opts ...CreationOption) (*PublicKeyCredentialCreationOptions, error) {
	if user.ID == nil {
		handle := make([]byte, userHandleLength)
		if _, err := rand.Read(handle); err != nil {
			return nil, NewError("Error generating user handle").Wrap(err)
		}
		user.ID = handle
	}

	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}

	var exclude []PublicKeyCredentialDescriptor
	creds, err := store.FindCredentialsByUser(user.ID)
	if err != nil {
		return nil, err
	}
	for _, cred := range creds {
		exclude = append(exclude, PublicKeyCredentialDescriptor{
			Type: PublicKey,
			ID:   cred.CredentialID,
		})
	}

	options := &PublicKeyCredentialCreationOptions{
		RP: PublicKeyCredentialRPEntity{
			ID:   rp.RelyingPartyID(),
			Name: rp.RelyingPartyName(),
		},
		User: PublicKeyCredentialUserEntity{
			ID:          user.ID,
			Name:        user.Email,
			DisplayName: user.DisplayName,
		},
		Challenge: challenge,
		PubKeyCredParams: []PublicKeyCredentialParameters{
			{Type: PublicKey, Alg: AlgorithmES256},
			{Type: PublicKey, Alg: AlgorithmRS256},
		},
		Timeout:            DefaultTimeout,
		ExcludeCredentials: exclude,
		AuthenticatorSelection: &AuthenticatorSelectionCriteria{
			RequireResidentKey: false,
			UserVerification:   VerificationPreferred,
		},
		Attestation: ConveyanceIndirect,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options, nil
}

//FinishRegistration completes the registration ceremony by validating the
//authenticator's attestation response against the stashed challenge and, on
//success, persisting the user and the new credential. The checks follow §7.1
//of the WebAuthn Level 1 TR; the first failure aborts the ceremony and
//nothing is persisted.
func FinishRegistration(
	rp RelyingParty,
	store CredentialStore,
	user *User,
	challenge, clientDataJSON, attestationObject []byte,
	opts ...VerifyOption,
) error {
	cfg := newVerifyConfig(opts...)

	if err := checkChallenge(challenge); err != nil {
		return err
	}

	C, err := ParseClientData(clientDataJSON)
	if err != nil {
		return err
	}
	if err = verifyClientData(C, CeremonyCreate, rp, challenge); err != nil {
		return err
	}

	attestation, err := decodeAttestationObject(attestationObject)
	if err != nil {
		return err
	}
	authData, err := decodeAuthData(attestation.AuthData)
	if err != nil {
		return err
	}

	if err = authData.VerifyRPIDHash(rp.RelyingPartyID()); err != nil {
		return err
	}
	if !authData.UP {
		return ErrUserPresenceRequired
	}
	if cfg.userVerificationRequired && !authData.UV {
		return ErrUserVerificationRequired
	}
	if !authData.AT || authData.AttestedCredentialData.Empty() {
		return ErrMissingAttestedCredential
	}

	if err = attestation.Fmt.Valid(); err != nil {
		return err
	}
	clientDataHash := sha256.Sum256(clientDataJSON)
	if err = verifyAttestationStatement(attestation.Fmt, attestation.AttStmt, authData, attestation.AuthData, clientDataHash, cfg.trust); err != nil {
		return err
	}

	credentialID := authData.AttestedCredentialData.CredentialID
	if _, err = store.FindCredentialByID(credentialID); err == nil {
		return ErrCredentialRegistered
	} else if !errors.Is(err, ErrUnknownCredential) {
		return err
	}

	record := newCredentialRecord(&authData.AttestedCredentialData, attestation.Fmt, attestation.AttStmt)
	encoded, err := record.Encode()
	if err != nil {
		return err
	}

	if err = store.InsertUser(user); err != nil {
		return err
	}
	return store.InsertCredential(&Credential{
		CredentialID: credentialID,
		UserID:       user.ID,
		PublicKey:    encoded,
		SignCount:    authData.SignCount,
	})
}
