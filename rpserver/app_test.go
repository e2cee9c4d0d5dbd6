package rpserver

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"github.com/vouch-auth/vouch"
	"github.com/vouch-auth/vouch/store/memory"
)

func newTestApp() *App {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	rp := RelyingParty{
		ID:     "example.com",
		Name:   "Example",
		Origin: "https://example.com",
	}
	sstore := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	return NewApp(logger, rp, memory.New(), sstore)
}

func postJSON(t *testing.T, app *App, path string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestAttestationOptions(t *testing.T) {
	app := newTestApp()

	rec := postJSON(t, app, "/attestation/options", map[string]string{
		"email":       "alice@example.com",
		"displayName": "Alice",
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Error("Want a session cookie to be set")
	}

	options := vouch.PublicKeyCredentialCreationOptions{}
	if err := json.Unmarshal(rec.Body.Bytes(), &options); err != nil {
		t.Fatal(err)
	}
	if len(options.Challenge) != vouch.ChallengeLength {
		t.Errorf("Want %d byte challenge, got %d", vouch.ChallengeLength, len(options.Challenge))
	}
	if options.RP.ID != "example.com" {
		t.Errorf("Want rp.id example.com, got %q", options.RP.ID)
	}
	if options.User.Name != "alice@example.com" || len(options.User.ID) == 0 {
		t.Errorf("Unexpected user entity %+v", options.User)
	}
}

func TestAttestationOptionsRejectsMissingEmail(t *testing.T) {
	app := newTestApp()

	rec := postJSON(t, app, "/attestation/options", map[string]string{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Want 400, got %d", rec.Code)
	}
}

//A result call without a prior options call has no stashed challenge; it
//must fail with the uniform error body, same as any other validation
//failure.
func TestAttestationResultWithoutSession(t *testing.T) {
	app := newTestApp()

	rec := postJSON(t, app, "/attestation/result", map[string]interface{}{
		"id":   "AAAA",
		"type": "public-key",
		"response": map[string]string{
			"clientDataJSON":    "e30",
			"attestationObject": "oA",
		},
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Want 400, got %d", rec.Code)
	}
	resp := statusResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "failed" || resp.ErrorMessage != failedMessage {
		t.Errorf("Want uniform failure body, got %+v", resp)
	}
}

//Options responses for an unknown email and for a known email with no
//credentials must be shaped identically, so the endpoint cannot be used to
//discover which accounts exist.
func TestAssertionOptionsDoesNotLeakAccounts(t *testing.T) {
	app := newTestApp()

	if err := app.store.InsertUser(&vouch.User{
		ID:          []byte("alice-handle"),
		Email:       "alice@example.com",
		DisplayName: "Alice",
	}); err != nil {
		t.Fatal(err)
	}

	known := postJSON(t, app, "/assertion/options", map[string]string{"email": "alice@example.com"}, nil)
	unknown := postJSON(t, app, "/assertion/options", map[string]string{"email": "stranger@example.com"}, nil)

	for _, rec := range []*httptest.ResponseRecorder{known, unknown} {
		if rec.Code != http.StatusOK {
			t.Fatalf("Want 200, got %d: %s", rec.Code, rec.Body.String())
		}
	}

	knownOpts := vouch.PublicKeyCredentialRequestOptions{}
	unknownOpts := vouch.PublicKeyCredentialRequestOptions{}
	if err := json.Unmarshal(known.Body.Bytes(), &knownOpts); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(unknown.Body.Bytes(), &unknownOpts); err != nil {
		t.Fatal(err)
	}

	if len(knownOpts.AllowCredentials) != 0 || len(unknownOpts.AllowCredentials) != 0 {
		t.Error("Want empty allow lists for both")
	}
	if knownOpts.RPID != unknownOpts.RPID || knownOpts.UserVerification != unknownOpts.UserVerification {
		t.Error("Want identically shaped options for known and unknown accounts")
	}
}

func TestAssertionResultFailsUniformly(t *testing.T) {
	app := newTestApp()

	//obtain a session with a stashed challenge first
	opts := postJSON(t, app, "/assertion/options", map[string]string{"email": "alice@example.com"}, nil)
	cookies := opts.Result().Cookies()

	rec := postJSON(t, app, "/assertion/result", map[string]interface{}{
		"id":   "AAAA",
		"type": "public-key",
		"response": map[string]string{
			"clientDataJSON":    "e30",
			"authenticatorData": "AAAA",
			"signature":         "AAAA",
		},
	}, cookies)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Want 400, got %d", rec.Code)
	}
	resp := statusResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "failed" || resp.ErrorMessage != failedMessage {
		t.Errorf("Want uniform failure body, got %+v", resp)
	}
}

//deviceKey fabricates authenticator responses for the test RP the way a
//real counterless device would, so the ceremony endpoints can be driven end
//to end over HTTP
type deviceKey struct {
	key          *ecdsa.PrivateKey
	credentialID []byte
}

func newDeviceKey(t *testing.T) *deviceKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &deviceKey{key: key, credentialID: []byte("http-test-credential-01")}
}

func mustCBOR(t *testing.T, v interface{}) cbor.RawMessage {
	t.Helper()
	raw, err := cbor.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func (d *deviceKey) authData(t *testing.T, attested bool) []byte {
	t.Helper()

	rpIDHash := sha256.Sum256([]byte("example.com"))
	out := append([]byte{}, rpIDHash[:]...)
	flags := byte(0x01)
	if attested {
		flags |= 0x40
	}
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, 0)

	if attested {
		coseKey := mustCBOR(t, vouch.COSEKey{
			Kty:       2, //EC2
			Alg:       int(vouch.AlgorithmES256),
			CrvOrNOrK: mustCBOR(t, int(vouch.CurveP256)),
			XOrE:      mustCBOR(t, d.key.PublicKey.X.Bytes()),
			Y:         mustCBOR(t, d.key.PublicKey.Y.Bytes()),
		})
		out = append(out, make([]byte, 16)...) //zero AAGUID
		out = binary.BigEndian.AppendUint16(out, uint16(len(d.credentialID)))
		out = append(out, d.credentialID...)
		out = append(out, coseKey...)
	}
	return out
}

func (d *deviceKey) clientData(t *testing.T, ceremony string, challenge []byte) []byte {
	t.Helper()
	raw, err := json.Marshal(vouch.CollectedClientData{
		Type:      ceremony,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    "https://example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

//attestation builds a format "none" registration response for the challenge
func (d *deviceKey) attestation(t *testing.T, challenge []byte) (clientDataJSON, attestationObject []byte) {
	t.Helper()
	clientDataJSON = d.clientData(t, vouch.CeremonyCreate, challenge)
	attestationObject = mustCBOR(t, vouch.AttestationObject{
		AuthData: d.authData(t, true),
		Fmt:      vouch.StatementNone,
		AttStmt:  cbor.RawMessage{0xa0},
	})
	return clientDataJSON, attestationObject
}

//assertion builds a login response for the challenge with sign count zero
func (d *deviceKey) assertion(t *testing.T, challenge []byte) (clientDataJSON, authData, sig []byte) {
	t.Helper()
	clientDataJSON = d.clientData(t, vouch.CeremonyGet, challenge)
	authData = d.authData(t, false)

	clientDataHash := sha256.Sum256(clientDataJSON)
	signed := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, d.key, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return clientDataJSON, authData, sig
}

//A captured assertion response plus the cookie that accompanied it must not
//validate a second time: the challenge behind the cookie is consumed by the
//first result call, and a counterless authenticator offers no other replay
//defense.
func TestAssertionResultRejectsReplay(t *testing.T) {
	app := newTestApp()
	dev := newDeviceKey(t)

	regOpts := postJSON(t, app, "/attestation/options", map[string]string{
		"email":       "alice@example.com",
		"displayName": "Alice",
	}, nil)
	if regOpts.Code != http.StatusOK {
		t.Fatalf("Want 200 from attestation options, got %d: %s", regOpts.Code, regOpts.Body.String())
	}
	creation := vouch.PublicKeyCredentialCreationOptions{}
	if err := json.Unmarshal(regOpts.Body.Bytes(), &creation); err != nil {
		t.Fatal(err)
	}

	clientDataJSON, attestationObject := dev.attestation(t, creation.Challenge)
	regResult := postJSON(t, app, "/attestation/result", map[string]interface{}{
		"id":   vouch.Buffer(dev.credentialID),
		"type": "public-key",
		"response": map[string]interface{}{
			"clientDataJSON":    vouch.Buffer(clientDataJSON),
			"attestationObject": vouch.Buffer(attestationObject),
		},
	}, regOpts.Result().Cookies())
	if regResult.Code != http.StatusOK {
		t.Fatalf("Want 200 from attestation result, got %d: %s", regResult.Code, regResult.Body.String())
	}

	loginOpts := postJSON(t, app, "/assertion/options", map[string]string{"email": "alice@example.com"}, nil)
	if loginOpts.Code != http.StatusOK {
		t.Fatalf("Want 200 from assertion options, got %d: %s", loginOpts.Code, loginOpts.Body.String())
	}
	request := vouch.PublicKeyCredentialRequestOptions{}
	if err := json.Unmarshal(loginOpts.Body.Bytes(), &request); err != nil {
		t.Fatal(err)
	}

	clientDataJSON, authData, sig := dev.assertion(t, request.Challenge)
	body := map[string]interface{}{
		"id":   vouch.Buffer(dev.credentialID),
		"type": "public-key",
		"response": map[string]interface{}{
			"clientDataJSON":    vouch.Buffer(clientDataJSON),
			"authenticatorData": vouch.Buffer(authData),
			"signature":         vouch.Buffer(sig),
		},
	}
	cookies := loginOpts.Result().Cookies()

	first := postJSON(t, app, "/assertion/result", body, cookies)
	if first.Code != http.StatusOK {
		t.Fatalf("Want 200 from first assertion result, got %d: %s", first.Code, first.Body.String())
	}

	second := postJSON(t, app, "/assertion/result", body, cookies)
	if second.Code != http.StatusBadRequest {
		t.Fatalf("Want 400 from replayed assertion result, got %d: %s", second.Code, second.Body.String())
	}
	resp := statusResponse{}
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "failed" || resp.ErrorMessage != failedMessage {
		t.Errorf("Want uniform failure body, got %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Want 200, got %d", rec.Code)
	}
}
