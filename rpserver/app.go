//Package rpserver exposes the vouch ceremonies over HTTP using the message
//shapes of the FIDO conformance tools: a pair of options/result endpoints
//for each ceremony. Challenges live server-side and are consumed on first
//use; the cookie session carries only an opaque handle to them.
package rpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vouch-auth/vouch"
)

const (
	sessionName          = "vouch"
	sessionStateKey      = "ceremony-state"
	sessionMaxAgeSeconds = 120 //matches the ceremony timeout hint
)

//failedMessage is the only error text returned to clients. Validation
//failures must be indistinguishable from one another so a caller cannot
//learn which check rejected a forged response; detail goes to the log only.
const failedMessage = "Could not validate credential"

var ceremonies = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouch_ceremonies_total",
	Help: "Completed ceremony result calls by ceremony and outcome.",
}, []string{"ceremony", "result"})

//RelyingParty is a static vouch.RelyingParty configuration.
type RelyingParty struct {
	ID     string
	Name   string
	Origin string
}

func (rp RelyingParty) RelyingPartyID() string     { return rp.ID }
func (rp RelyingParty) RelyingPartyName() string   { return rp.Name }
func (rp RelyingParty) RelyingPartyOrigin() string { return rp.Origin }

type App struct {
	logger logrus.FieldLogger
	rp     vouch.RelyingParty
	store  vouch.CredentialStore
	sstore sessions.Store
	states *stateStore

	router *mux.Router
}

func NewApp(logger logrus.FieldLogger, rp vouch.RelyingParty, store vouch.CredentialStore, sstore sessions.Store) *App {
	a := &App{
		logger: logger,
		rp:     rp,
		store:  store,
		sstore: sstore,
		states: newStateStore(),
	}

	a.router = mux.NewRouter()
	a.router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir("./static"))))
	a.router.HandleFunc("/attestation/options", a.handleAttestationOptions).Methods("POST")
	a.router.HandleFunc("/attestation/result", a.handleAttestationResult).Methods("POST")
	a.router.HandleFunc("/assertion/options", a.handleAssertionOptions).Methods("POST")
	a.router.HandleFunc("/assertion/result", a.handleAssertionResult).Methods("POST")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return a
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

type attestationOptionsRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (a *App) handleAttestationOptions(w http.ResponseWriter, r *http.Request) {
	req := attestationOptionsRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		a.writeFailed(w, http.StatusBadRequest)
		return
	}

	//An existing account keeps its user handle so new credentials attach to
	//it; otherwise StartRegistration mints a fresh handle.
	user := &vouch.User{Email: req.Email, DisplayName: req.DisplayName}
	if existing, err := a.store.FindUserByEmail(req.Email); err == nil {
		user = existing
	}

	options, err := vouch.StartRegistration(a.rp, user, a.store)
	if err != nil {
		a.logger.WithError(err).Error("starting registration")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}

	session, err := a.session(r)
	if err != nil {
		a.logger.WithError(err).Error("loading session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}
	stateID, err := a.states.stash(options.Challenge, user)
	if err != nil {
		a.logger.WithError(err).Error("stashing ceremony state")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}
	session.Values[sessionStateKey] = stateID
	if err := session.Save(r, w); err != nil {
		a.logger.WithError(err).Error("saving session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusOK, options)
}

type attestationResultRequest struct {
	ID       vouch.Buffer `json:"id"`
	RawID    vouch.Buffer `json:"rawId"`
	Type     string       `json:"type"`
	Response struct {
		ClientDataJSON    vouch.Buffer `json:"clientDataJSON"`
		AttestationObject vouch.Buffer `json:"attestationObject"`
	} `json:"response"`
}

func (a *App) handleAttestationResult(w http.ResponseWriter, r *http.Request) {
	req := attestationResultRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFailed(w, http.StatusBadRequest)
		return
	}

	session, err := a.session(r)
	if err != nil {
		a.logger.WithError(err).Error("loading session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}
	challenge, user := a.consumeCeremonyState(session)
	if err := session.Save(r, w); err != nil {
		a.logger.WithError(err).Error("saving session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}

	if user == nil {
		a.failCeremony(w, "registration", vouch.ErrChallengeMissing)
		return
	}

	err = vouch.FinishRegistration(a.rp, a.store, user, challenge, req.Response.ClientDataJSON, req.Response.AttestationObject)
	if err != nil {
		a.failCeremony(w, "registration", err)
		return
	}

	ceremonies.WithLabelValues("registration", "ok").Inc()
	a.writeOK(w)
}

type assertionOptionsRequest struct {
	Email string `json:"email"`
}

func (a *App) handleAssertionOptions(w http.ResponseWriter, r *http.Request) {
	req := assertionOptionsRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		a.writeFailed(w, http.StatusBadRequest)
		return
	}

	//An unknown email still gets well-formed options with an empty allow
	//list, so account existence is not observable here.
	user, err := a.store.FindUserByEmail(req.Email)
	if err != nil {
		user = nil
	}

	options, err := vouch.StartAuthentication(a.rp, user, a.store)
	if err != nil {
		a.logger.WithError(err).Error("starting authentication")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}

	session, err := a.session(r)
	if err != nil {
		a.logger.WithError(err).Error("loading session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}
	stateID, err := a.states.stash(options.Challenge, nil)
	if err != nil {
		a.logger.WithError(err).Error("stashing ceremony state")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}
	session.Values[sessionStateKey] = stateID
	if err := session.Save(r, w); err != nil {
		a.logger.WithError(err).Error("saving session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusOK, options)
}

type assertionResultRequest struct {
	ID       vouch.Buffer `json:"id"`
	RawID    vouch.Buffer `json:"rawId"`
	Type     string       `json:"type"`
	Response struct {
		ClientDataJSON    vouch.Buffer `json:"clientDataJSON"`
		AuthenticatorData vouch.Buffer `json:"authenticatorData"`
		Signature         vouch.Buffer `json:"signature"`
		UserHandle        vouch.Buffer `json:"userHandle,omitempty"`
	} `json:"response"`
}

func (a *App) handleAssertionResult(w http.ResponseWriter, r *http.Request) {
	req := assertionResultRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFailed(w, http.StatusBadRequest)
		return
	}

	session, err := a.session(r)
	if err != nil {
		a.logger.WithError(err).Error("loading session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}
	challenge, _ := a.consumeCeremonyState(session)
	if err := session.Save(r, w); err != nil {
		a.logger.WithError(err).Error("saving session")
		a.writeFailed(w, http.StatusInternalServerError)
		return
	}

	credentialID := req.RawID
	if credentialID == nil {
		credentialID = req.ID
	}

	err = vouch.FinishAuthentication(a.rp, a.store, challenge, credentialID,
		req.Response.ClientDataJSON, req.Response.AuthenticatorData, req.Response.Signature)
	if err != nil {
		a.failCeremony(w, "authentication", err)
		return
	}

	ceremonies.WithLabelValues("authentication", "ok").Inc()
	a.writeOK(w)
}

//consumeCeremonyState resolves the session's state ID to the server-side
//challenge and user, deleting both the server-side entry and the session
//value. The server-side delete is what counts: presenting the same cookie
//again finds no state, so a challenge can never be replayed into a second
//result call.
func (a *App) consumeCeremonyState(session *sessions.Session) ([]byte, *vouch.User) {
	stateID, _ := session.Values[sessionStateKey].(string)
	delete(session.Values, sessionStateKey)
	return a.states.consume(stateID)
}

//failCeremony logs the real failure and returns the uniform error body
func (a *App) failCeremony(w http.ResponseWriter, ceremony string, err error) {
	ceremonies.WithLabelValues(ceremony, "failed").Inc()
	a.logger.WithError(err).WithField("ceremony", ceremony).Warn("ceremony failed")
	a.writeFailed(w, http.StatusBadRequest)
}

func (a *App) session(r *http.Request) (*sessions.Session, error) {
	session, err := a.sstore.Get(r, sessionName)
	if err != nil {
		if session != nil && session.IsNew {
			//A tampered or stale cookie yields both a fresh session and an
			//error; the fresh session is fine to use.
			a.logger.WithError(err).Info("Session decoding failed, a new empty session will be used")
			err = nil
		}
	}
	if session != nil {
		session.Options.MaxAge = sessionMaxAgeSeconds
		session.Options.HttpOnly = true
	}
	return session, err
}

type statusResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (a *App) writeOK(w http.ResponseWriter) {
	a.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *App) writeFailed(w http.ResponseWriter, code int) {
	a.writeJSON(w, code, statusResponse{Status: "failed", ErrorMessage: failedMessage})
}

func (a *App) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.WithError(err).Error("encoding response")
	}
}
