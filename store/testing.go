package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vouch-auth/vouch"
)

//Test runs the store contract suite against a backend. Each backend's own
//test file constructs an empty store and hands it here.
func Test(t *testing.T, s vouch.CredentialStore) {
	t.Run("userNotFound", func(t *testing.T) { testUserNotFound(t, s) })
	t.Run("userInsertIdempotent", func(t *testing.T) { testUserInsertIdempotent(t, s) })
	t.Run("credentialNotFound", func(t *testing.T) { testCredentialNotFound(t, s) })
	t.Run("credentialRoundTrip", func(t *testing.T) { testCredentialRoundTrip(t, s) })
	t.Run("credentialsByUser", func(t *testing.T) { testCredentialsByUser(t, s) })
	t.Run("signCountUpdate", func(t *testing.T) { testSignCountUpdate(t, s) })
}

func testUserNotFound(t *testing.T, s vouch.CredentialStore) {
	if _, err := s.FindUserByEmail("nobody@example.com"); !errors.Is(err, vouch.ErrUserNotFound) {
		t.Errorf("Want ErrUserNotFound, got %v", err)
	}
}

func testUserInsertIdempotent(t *testing.T, s vouch.CredentialStore) {
	u := &vouch.User{ID: []byte("user-idem"), Email: "idem@example.com", DisplayName: "Idem"}
	if err := s.InsertUser(u); err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if err := s.InsertUser(u); err != nil {
		t.Fatalf("Want repeat insert to be a no-op, got %v", err)
	}

	found, err := s.FindUserByEmail(u.Email)
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if !bytes.Equal(found.ID, u.ID) || found.DisplayName != u.DisplayName {
		t.Errorf("Want %+v, got %+v", u, found)
	}
}

func testCredentialNotFound(t *testing.T, s vouch.CredentialStore) {
	if _, err := s.FindCredentialByID([]byte("no-such-credential")); !errors.Is(err, vouch.ErrUnknownCredential) {
		t.Errorf("Want ErrUnknownCredential, got %v", err)
	}
}

func testCredentialRoundTrip(t *testing.T, s vouch.CredentialStore) {
	u := &vouch.User{ID: []byte("user-rt"), Email: "rt@example.com", DisplayName: "Round Trip"}
	if err := s.InsertUser(u); err != nil {
		t.Fatalf("Want no error, got %v", err)
	}

	cred := &vouch.Credential{
		CredentialID: []byte("cred-rt"),
		UserID:       u.ID,
		PublicKey:    []byte{0xa1, 0x01, 0x02},
		SignCount:    7,
	}
	if err := s.InsertCredential(cred); err != nil {
		t.Fatalf("Want no error, got %v", err)
	}

	found, err := s.FindCredentialByID(cred.CredentialID)
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if !bytes.Equal(found.UserID, cred.UserID) || !bytes.Equal(found.PublicKey, cred.PublicKey) || found.SignCount != cred.SignCount {
		t.Errorf("Want %+v, got %+v", cred, found)
	}
}

func testCredentialsByUser(t *testing.T, s vouch.CredentialStore) {
	u := &vouch.User{ID: []byte("user-multi"), Email: "multi@example.com", DisplayName: "Multi"}
	if err := s.InsertUser(u); err != nil {
		t.Fatalf("Want no error, got %v", err)
	}

	for _, id := range []string{"cred-multi-1", "cred-multi-2"} {
		cred := &vouch.Credential{CredentialID: []byte(id), UserID: u.ID, PublicKey: []byte{0xa0}}
		if err := s.InsertCredential(cred); err != nil {
			t.Fatalf("Want no error, got %v", err)
		}
	}

	creds, err := s.FindCredentialsByUser(u.ID)
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if len(creds) != 2 {
		t.Errorf("Want 2 credentials, got %d", len(creds))
	}

	creds, err = s.FindCredentialsByUser([]byte("user-unknown"))
	if err != nil {
		t.Fatalf("Want no error for unknown user, got %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("Want empty slice for unknown user, got %d credentials", len(creds))
	}
}

func testSignCountUpdate(t *testing.T, s vouch.CredentialStore) {
	u := &vouch.User{ID: []byte("user-count"), Email: "count@example.com", DisplayName: "Count"}
	if err := s.InsertUser(u); err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	cred := &vouch.Credential{CredentialID: []byte("cred-count"), UserID: u.ID, PublicKey: []byte{0xa0}, SignCount: 5}
	if err := s.InsertCredential(cred); err != nil {
		t.Fatalf("Want no error, got %v", err)
	}

	if err := s.UpdateSignCount(cred.CredentialID, 5, 9); err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	found, err := s.FindCredentialByID(cred.CredentialID)
	if err != nil {
		t.Fatalf("Want no error, got %v", err)
	}
	if found.SignCount != 9 {
		t.Errorf("Want sign count 9, got %d", found.SignCount)
	}

	//stale "from" value must not win
	if err := s.UpdateSignCount(cred.CredentialID, 5, 20); !errors.Is(err, vouch.ErrCounterConflict) {
		t.Errorf("Want ErrCounterConflict, got %v", err)
	}

	if err := s.UpdateSignCount([]byte("cred-none"), 0, 1); !errors.Is(err, vouch.ErrUnknownCredential) {
		t.Errorf("Want ErrUnknownCredential, got %v", err)
	}
}
