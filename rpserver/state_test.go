package rpserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/vouch-auth/vouch"
)

func TestStateStoreConsumeOnce(t *testing.T) {
	s := newStateStore()

	challenge := []byte("0123456789abcdef0123456789abcdef")
	user := &vouch.User{ID: []byte("alice-handle"), Email: "alice@example.com"}
	id, err := s.stash(challenge, user)
	if err != nil {
		t.Fatal(err)
	}

	gotChallenge, gotUser := s.consume(id)
	if !bytes.Equal(gotChallenge, challenge) {
		t.Errorf("Want challenge %v, got %v", challenge, gotChallenge)
	}
	if gotUser == nil || gotUser.Email != "alice@example.com" {
		t.Errorf("Want stashed user, got %+v", gotUser)
	}

	if gotChallenge, gotUser = s.consume(id); gotChallenge != nil || gotUser != nil {
		t.Error("Want nothing on second consume of the same ID")
	}
}

func TestStateStoreUnknownID(t *testing.T) {
	s := newStateStore()
	if challenge, user := s.consume("no-such-id"); challenge != nil || user != nil {
		t.Error("Want nothing for an unknown ID")
	}
	if challenge, user := s.consume(""); challenge != nil || user != nil {
		t.Error("Want nothing for an empty ID")
	}
}

func TestStateStoreExpiry(t *testing.T) {
	s := newStateStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	id, err := s.stash([]byte("0123456789abcdef0123456789abcdef"), nil)
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return now.Add(sessionMaxAgeSeconds*time.Second + time.Second) }
	if challenge, _ := s.consume(id); challenge != nil {
		t.Error("Want nothing after the ceremony window has passed")
	}
}
