//Package bolt is a bbolt-backed implementation of the vouch store contracts
//for single-node deployments.
package bolt

import (
	"bytes"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/vouch-auth/vouch"
)

var (
	bucketUsers       = []byte("users")       //user ID -> user record
	bucketEmails      = []byte("emails")      //email -> user ID
	bucketCredentials = []byte("credentials") //credential ID -> credential record
)

type userRecord struct {
	ID          []byte `cbor:"id"`
	Email       string `cbor:"email"`
	DisplayName string `cbor:"displayName"`
}

type credentialRecord struct {
	CredentialID []byte `cbor:"credentialId"`
	UserID       []byte `cbor:"userId"`
	PublicKey    []byte `cbor:"publicKey"`
	SignCount    uint32 `cbor:"signCount"`
}

type Store struct {
	db *bolt.DB
}

func New(path string, mode os.FileMode) (*Store, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketEmails, bucketCredentials} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating buckets")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindUserByEmail(email string) (*vouch.User, error) {
	var user *vouch.User
	err := s.db.View(func(tx *bolt.Tx) error {
		userID := tx.Bucket(bucketEmails).Get([]byte(email))
		if userID == nil {
			return vouch.ErrUserNotFound
		}
		raw := tx.Bucket(bucketUsers).Get(userID)
		if raw == nil {
			return vouch.ErrUserNotFound
		}
		r := userRecord{}
		if err := cbor.Unmarshal(raw, &r); err != nil {
			return errors.Wrap(err, "decoding user record")
		}
		user = &vouch.User{ID: r.ID, Email: r.Email, DisplayName: r.DisplayName}
		return nil
	})
	return user, err
}

func (s *Store) InsertUser(user *vouch.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		emails := tx.Bucket(bucketEmails)
		if emails.Get([]byte(user.Email)) != nil {
			return nil
		}

		raw, err := cbor.Marshal(userRecord{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName})
		if err != nil {
			return errors.Wrap(err, "encoding user record")
		}
		if err := tx.Bucket(bucketUsers).Put(user.ID, raw); err != nil {
			return err
		}
		return emails.Put([]byte(user.Email), user.ID)
	})
}

func (s *Store) FindCredentialsByUser(userID []byte) ([]*vouch.Credential, error) {
	creds := []*vouch.Credential{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(_, raw []byte) error {
			r := credentialRecord{}
			if err := cbor.Unmarshal(raw, &r); err != nil {
				return errors.Wrap(err, "decoding credential record")
			}
			if bytes.Equal(r.UserID, userID) {
				creds = append(creds, credentialFromRecord(&r))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *Store) FindCredentialByID(credentialID []byte) (*vouch.Credential, error) {
	var cred *vouch.Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCredentials).Get(credentialID)
		if raw == nil {
			return vouch.ErrUnknownCredential
		}
		r := credentialRecord{}
		if err := cbor.Unmarshal(raw, &r); err != nil {
			return errors.Wrap(err, "decoding credential record")
		}
		cred = credentialFromRecord(&r)
		return nil
	})
	return cred, err
}

func (s *Store) InsertCredential(cred *vouch.Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b.Get(cred.CredentialID) != nil {
			return vouch.ErrCredentialRegistered
		}
		raw, err := cbor.Marshal(credentialRecord{
			CredentialID: cred.CredentialID,
			UserID:       cred.UserID,
			PublicKey:    cred.PublicKey,
			SignCount:    cred.SignCount,
		})
		if err != nil {
			return errors.Wrap(err, "encoding credential record")
		}
		return b.Put(cred.CredentialID, raw)
	})
}

//UpdateSignCount performs the compare and the write inside one bolt write
//transaction, which serializes against every other write to the database.
func (s *Store) UpdateSignCount(credentialID []byte, from, to uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		raw := b.Get(credentialID)
		if raw == nil {
			return vouch.ErrUnknownCredential
		}
		r := credentialRecord{}
		if err := cbor.Unmarshal(raw, &r); err != nil {
			return errors.Wrap(err, "decoding credential record")
		}
		if r.SignCount != from {
			return vouch.ErrCounterConflict.Wrap(vouch.NewError("Stored counter is %d, expected %d", r.SignCount, from))
		}
		r.SignCount = to
		updated, err := cbor.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "encoding credential record")
		}
		return b.Put(credentialID, updated)
	})
}

func credentialFromRecord(r *credentialRecord) *vouch.Credential {
	return &vouch.Credential{
		CredentialID: r.CredentialID,
		UserID:       r.UserID,
		PublicKey:    r.PublicKey,
		SignCount:    r.SignCount,
	}
}
