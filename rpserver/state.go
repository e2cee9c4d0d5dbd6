package rpserver

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vouch-auth/vouch"
)

//ceremonyState is the server-side half of an in-flight ceremony. The session
//cookie carries only the opaque ID pointing at it, so replaying a captured
//cookie cannot re-present a challenge the server has already handed out.
type ceremonyState struct {
	challenge []byte
	user      *vouch.User
	expires   time.Time
}

//stateStore holds in-flight ceremony state keyed by opaque ID. Entries are
//deleted on first read, which is what makes each challenge single-use.
type stateStore struct {
	mu     sync.Mutex
	states map[string]ceremonyState

	now func() time.Time
}

func newStateStore() *stateStore {
	return &stateStore{
		states: map[string]ceremonyState{},
		now:    time.Now,
	}
}

//stash stores the challenge and optional user under a fresh random ID and
//returns the ID. Expired entries are swept on the way in.
func (s *stateStore) stash(challenge []byte, user *vouch.User) (string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", errors.Wrap(err, "generating ceremony state ID")
	}
	id := base64.RawURLEncoding.EncodeToString(idBytes)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, st := range s.states {
		if now.After(st.expires) {
			delete(s.states, k)
		}
	}
	s.states[id] = ceremonyState{
		challenge: challenge,
		user:      user,
		expires:   now.Add(sessionMaxAgeSeconds * time.Second),
	}
	return id, nil
}

//consume removes and returns the state for id. A missing, already-consumed,
//or expired ID yields nil state.
func (s *stateStore) consume(id string) ([]byte, *vouch.User) {
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	delete(s.states, id)
	if s.now().After(st.expires) {
		return nil, nil
	}
	return st.challenge, st.user
}
