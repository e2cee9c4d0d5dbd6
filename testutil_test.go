package vouch

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

//testRP is the fixed Relying Party used across the ceremony tests
type testRP struct{}

func (testRP) RelyingPartyID() string     { return "example.com" }
func (testRP) RelyingPartyName() string   { return "Example" }
func (testRP) RelyingPartyOrigin() string { return "https://example.com" }

//testStore is a minimal in-memory CredentialStore for exercising the
//ceremonies without importing a storage backend
type testStore struct {
	users map[string]*User
	creds map[string]*Credential
}

func newTestStore() *testStore {
	return &testStore{
		users: make(map[string]*User),
		creds: make(map[string]*Credential),
	}
}

func (s *testStore) FindUserByEmail(email string) (*User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *testStore) InsertUser(user *User) error {
	if _, ok := s.users[user.Email]; ok {
		return nil
	}
	s.users[user.Email] = user
	return nil
}

func (s *testStore) FindCredentialsByUser(userID []byte) ([]*Credential, error) {
	creds := []*Credential{}
	for _, c := range s.creds {
		if string(c.UserID) == string(userID) {
			creds = append(creds, c)
		}
	}
	return creds, nil
}

func (s *testStore) FindCredentialByID(credentialID []byte) (*Credential, error) {
	c, ok := s.creds[string(credentialID)]
	if !ok {
		return nil, ErrUnknownCredential
	}
	return c, nil
}

func (s *testStore) InsertCredential(cred *Credential) error {
	if _, ok := s.creds[string(cred.CredentialID)]; ok {
		return ErrCredentialRegistered
	}
	s.creds[string(cred.CredentialID)] = cred
	return nil
}

func (s *testStore) UpdateSignCount(credentialID []byte, from, to uint32) error {
	c, ok := s.creds[string(credentialID)]
	if !ok {
		return ErrUnknownCredential
	}
	if c.SignCount != from {
		return ErrCounterConflict
	}
	c.SignCount = to
	return nil
}

//selfSignedCert issues a certificate over the template with the given key,
//returning the DER encoding. Validity defaults to an hour around now.
func selfSignedCert(t *testing.T, template *x509.Certificate, key crypto.Signer) []byte {
	t.Helper()
	if template.NotAfter.IsZero() {
		template.NotBefore = time.Now().Add(-time.Hour)
		template.NotAfter = time.Now().Add(time.Hour)
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func mustMarshalRaw(t *testing.T, v interface{}) cbor.RawMessage {
	t.Helper()
	raw, err := cbor.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

//fakeAuthenticator holds a P-256 key and fabricates authenticator responses
//the way a real device would
type fakeAuthenticator struct {
	key          *ecdsa.PrivateKey
	credentialID []byte
	aaguid       [16]byte
}

func newFakeAuthenticator(t *testing.T) *fakeAuthenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeAuthenticator{
		key:          key,
		credentialID: []byte("test-credential-id-0001"),
		aaguid:       [16]byte{0x01, 0x02, 0x03, 0x04},
	}
}

func (fa *fakeAuthenticator) coseKey(t *testing.T) COSEKey {
	t.Helper()
	return COSEKey{
		Kty:       2, //EC2
		Alg:       int(AlgorithmES256),
		CrvOrNOrK: mustMarshalRaw(t, int(CurveP256)),
		XOrE:      mustMarshalRaw(t, fa.key.PublicKey.X.Bytes()),
		Y:         mustMarshalRaw(t, fa.key.PublicKey.Y.Bytes()),
	}
}

//authData fabricates raw authenticator data for the test RP. When attested
//is true the attested credential data block is appended and the AT flag set.
func (fa *fakeAuthenticator) authData(t *testing.T, flags byte, signCount uint32, attested bool) []byte {
	t.Helper()

	rpIDHash := sha256.Sum256([]byte("example.com"))
	out := append([]byte{}, rpIDHash[:]...)
	if attested {
		flags |= 0x40
	}
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, signCount)

	if attested {
		out = append(out, fa.aaguid[:]...)
		out = binary.BigEndian.AppendUint16(out, uint16(len(fa.credentialID)))
		out = append(out, fa.credentialID...)
		out = append(out, mustMarshalRaw(t, fa.coseKey(t))...)
	}
	return out
}

func clientDataJSON(t *testing.T, ceremony string, challenge []byte, origin string) []byte {
	t.Helper()
	raw, err := json.Marshal(CollectedClientData{
		Type:      ceremony,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    origin,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

//attestNone builds a format "none" attestation object over fresh attested
//credential data
func (fa *fakeAuthenticator) attestNone(t *testing.T, signCount uint32) []byte {
	t.Helper()
	return mustMarshalRaw(t, AttestationObject{
		AuthData: fa.authData(t, 0x01, signCount, true),
		Fmt:      StatementNone,
		AttStmt:  cbor.RawMessage{0xa0},
	})
}

//attestPackedSelf builds a packed self-attestation object signed with the
//credential key
func (fa *fakeAuthenticator) attestPackedSelf(t *testing.T, clientData []byte) []byte {
	t.Helper()

	rawAuthData := fa.authData(t, 0x01, 0, true)
	clientDataHash := sha256.Sum256(clientData)
	digest := sha256.Sum256(attestationSignedData(rawAuthData, clientDataHash))
	sig, err := ecdsa.SignASN1(rand.Reader, fa.key, digest[:])
	if err != nil {
		t.Fatal(err)
	}

	return mustMarshalRaw(t, AttestationObject{
		AuthData: rawAuthData,
		Fmt:      StatementPacked,
		AttStmt: mustMarshalRaw(t, map[string]interface{}{
			"alg": int(AlgorithmES256),
			"sig": sig,
		}),
	})
}

//assert produces authenticator data and an assertion signature for the given
//client data, the way a login ceremony response carries them
func (fa *fakeAuthenticator) assert(t *testing.T, flags byte, signCount uint32, clientData []byte) (authData, sig []byte) {
	t.Helper()

	authData = fa.authData(t, flags, signCount, false)
	clientDataHash := sha256.Sum256(clientData)
	signed := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, fa.key, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return authData, sig
}

//register pushes a format "none" registration for the authenticator through
//FinishRegistration, giving later tests a stored credential to assert against
func (fa *fakeAuthenticator) register(t *testing.T, store CredentialStore, user *User, signCount uint32) {
	t.Helper()

	challenge := []byte("0123456789abcdef0123456789abcdef")
	clientData := clientDataJSON(t, CeremonyCreate, challenge, "https://example.com")
	if err := FinishRegistration(testRP{}, store, user, challenge, clientData, fa.attestNone(t, signCount)); err != nil {
		t.Fatalf("Want registration to succeed, got %v", err)
	}
}
