package vouch

import "testing"

func TestCreationOptions(t *testing.T) {
	store := newTestStore()
	user := &User{ID: []byte("handle"), Email: "a@example.com", DisplayName: "A"}

	options, err := StartRegistration(testRP{}, user, store,
		WithTimeout(30000),
		WithAttestation(ConveyanceDirect),
		WithAuthenticatorSelection(AuthenticatorSelectionCriteria{
			AuthenticatorAttachment: AttachmentCrossPlatform,
			UserVerification:        VerificationRequired,
		}),
		WithPubKeyCredParams([]PublicKeyCredentialParameters{
			{Type: PublicKey, Alg: AlgorithmEdDSA},
		}),
	)
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}

	if options.Timeout != 30000 {
		t.Errorf("Want timeout 30000, got %d", options.Timeout)
	}
	if options.Attestation != ConveyanceDirect {
		t.Errorf("Want direct attestation, got %q", options.Attestation)
	}
	if options.AuthenticatorSelection.AuthenticatorAttachment != AttachmentCrossPlatform {
		t.Errorf("Unexpected selection %+v", options.AuthenticatorSelection)
	}
	if len(options.PubKeyCredParams) != 1 || options.PubKeyCredParams[0].Alg != AlgorithmEdDSA {
		t.Errorf("Unexpected params %+v", options.PubKeyCredParams)
	}
}

func TestRequestOptions(t *testing.T) {
	store := newTestStore()

	options, err := StartAuthentication(testRP{}, nil, store,
		WithRequestTimeout(60000),
		WithUserVerification(VerificationRequired),
	)
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if options.Timeout != 60000 {
		t.Errorf("Want timeout 60000, got %d", options.Timeout)
	}
	if options.UserVerification != VerificationRequired {
		t.Errorf("Want required user verification, got %q", options.UserVerification)
	}
}

func TestVerifyConfigDefaults(t *testing.T) {
	cfg := newVerifyConfig()
	if cfg.userVerificationRequired {
		t.Error("Want user verification optional by default")
	}
	if _, ok := cfg.trust.(AcceptAllTrustPaths); !ok {
		t.Errorf("Want AcceptAllTrustPaths default, got %T", cfg.trust)
	}

	cfg = newVerifyConfig(RequireUserVerification())
	if !cfg.userVerificationRequired {
		t.Error("Want user verification required after option")
	}
}
