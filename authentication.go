package vouch

import (
	"crypto/sha256"
	"errors"
)

//StartAuthentication begins the authentication ceremony by assembling
//PublicKeyCredentialRequestOptions for the client. The caller must stash the
//returned challenge in its session layer for the matching
//FinishAuthentication call.
//
//When user is nil or owns no credentials the allow list is left empty rather
//than failing, so a caller probing with arbitrary emails cannot distinguish
//registered accounts from unregistered ones by this response.
func StartAuthentication(rp RelyingParty, user *User, store CredentialFinder, opts ...RequestOption) (*PublicKeyCredentialRequestOptions, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}

	var allow []PublicKeyCredentialDescriptor
	if user != nil && user.ID != nil {
		creds, err := store.FindCredentialsByUser(user.ID)
		if err != nil {
			return nil, err
		}
		for _, cred := range creds {
			allow = append(allow, PublicKeyCredentialDescriptor{
				Type: PublicKey,
				ID:   cred.CredentialID,
			})
		}
	}

	options := &PublicKeyCredentialRequestOptions{
		Challenge:        challenge,
		Timeout:          DefaultTimeout,
		RPID:             rp.RelyingPartyID(),
		AllowCredentials: allow,
		UserVerification: VerificationPreferred,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options, nil
}

//FinishAuthentication completes the authentication ceremony by validating the
//authenticator's assertion response against the stashed challenge and the
//stored credential. The checks follow §7.2 of the WebAuthn Level 1 TR. On
//success the stored signature counter is advanced; a counter that failed to
//increase, or a concurrent assertion racing the counter update, is reported
//as ErrPossibleClonedAuthenticator.
func FinishAuthentication(
	rp RelyingParty,
	store CredentialStore,
	challenge, credentialID, clientDataJSON, authenticatorData, signature []byte,
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
	if err = verifyClientData(C, CeremonyGet, rp, challenge); err != nil {
		return err
	}

	cred, err := store.FindCredentialByID(credentialID)
	if err != nil {
		return err
	}
	record, err := decodeCredentialRecord(cred.PublicKey)
	if err != nil {
		return err
	}

	authData, err := decodeAuthData(authenticatorData)
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

	//signature covers authenticatorData || SHA-256(clientDataJSON)
	clientDataHash := sha256.Sum256(clientDataJSON)
	signed := make([]byte, 0, len(authenticatorData)+len(clientDataHash))
	signed = append(signed, authenticatorData...)
	signed = append(signed, clientDataHash[:]...)
	if err = VerifySignature(&record.PublicKey, signed, signature); err != nil {
		return err
	}

	//Signature counter guard. A reported counter of zero means the
	//authenticator does not implement one, so no comparison is possible;
	//otherwise a counter at or below the stored value indicates a second
	//device holding the same key material.
	reported, stored := authData.SignCount, cred.SignCount
	if reported != 0 {
		if stored != 0 && reported <= stored {
			return ErrPossibleClonedAuthenticator.Wrap(NewError("Reported counter %d, stored counter %d", reported, stored))
		}
		if err = store.UpdateSignCount(credentialID, stored, reported); err != nil {
			if errors.Is(err, ErrCounterConflict) {
				return ErrPossibleClonedAuthenticator.Wrap(err)
			}
			return err
		}
	}

	return nil
}
