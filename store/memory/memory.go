//Package memory is an in-memory implementation of the vouch store
//contracts. It should only be used for testing or demos; all data is lost
//when the process ends.
package memory

import (
	"sync"

	"github.com/vouch-auth/vouch"
)

type Store struct {
	sync.Mutex
	usersByEmail map[string]*vouch.User
	credentials  map[string]*vouch.Credential
}

func New() *Store {
	return &Store{
		usersByEmail: make(map[string]*vouch.User),
		credentials:  make(map[string]*vouch.Credential),
	}
}

func (s *Store) FindUserByEmail(email string) (*vouch.User, error) {
	s.Lock()
	defer s.Unlock()

	u, ok := s.usersByEmail[email]
	if !ok {
		return nil, vouch.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) InsertUser(user *vouch.User) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.usersByEmail[user.Email]; ok {
		return nil
	}
	s.usersByEmail[user.Email] = cloneUser(user)
	return nil
}

func (s *Store) FindCredentialsByUser(userID []byte) ([]*vouch.Credential, error) {
	s.Lock()
	defer s.Unlock()

	creds := []*vouch.Credential{}
	for _, c := range s.credentials {
		if string(c.UserID) == string(userID) {
			creds = append(creds, cloneCredential(c))
		}
	}
	return creds, nil
}

func (s *Store) FindCredentialByID(credentialID []byte) (*vouch.Credential, error) {
	s.Lock()
	defer s.Unlock()

	c, ok := s.credentials[string(credentialID)]
	if !ok {
		return nil, vouch.ErrUnknownCredential
	}
	return cloneCredential(c), nil
}

func (s *Store) InsertCredential(cred *vouch.Credential) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.credentials[string(cred.CredentialID)]; ok {
		return vouch.ErrCredentialRegistered
	}
	s.credentials[string(cred.CredentialID)] = cloneCredential(cred)
	return nil
}

func (s *Store) UpdateSignCount(credentialID []byte, from, to uint32) error {
	s.Lock()
	defer s.Unlock()

	c, ok := s.credentials[string(credentialID)]
	if !ok {
		return vouch.ErrUnknownCredential
	}
	if c.SignCount != from {
		return vouch.ErrCounterConflict.Wrap(vouch.NewError("Stored counter is %d, expected %d", c.SignCount, from))
	}
	c.SignCount = to
	return nil
}

//values are cloned both in and out so callers can never alias store state

func cloneUser(u *vouch.User) *vouch.User {
	clone := *u
	clone.ID = append([]byte(nil), u.ID...)
	return &clone
}

func cloneCredential(c *vouch.Credential) *vouch.Credential {
	clone := *c
	clone.CredentialID = append([]byte(nil), c.CredentialID...)
	clone.UserID = append([]byte(nil), c.UserID...)
	clone.PublicKey = append([]byte(nil), c.PublicKey...)
	return &clone
}
