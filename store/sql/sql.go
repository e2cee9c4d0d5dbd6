//Package sql is a PostgreSQL implementation of the vouch store contracts.
package sql

import (
	"database/sql"

	"github.com/pkg/errors"

	//registers the postgres driver
	_ "github.com/lib/pq"

	"github.com/vouch-auth/vouch"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(
		`create table if not exists migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return errors.Wrap(err, "creating migrations table")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	var maxIdx sql.NullInt64
	if err := tx.QueryRow(`select max(idx) from migrations;`).Scan(&maxIdx); err != nil {
		_ = tx.Rollback()
		return err
	}

	i := 0
	if maxIdx.Valid {
		i = int(maxIdx.Int64) + 1
	}

	for ; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "running migration %d", i)
		}
		if _, err := tx.Exec(`insert into migrations (idx, at) values ($1, now());`, i); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) FindUserByEmail(email string) (*vouch.User, error) {
	user := vouch.User{}
	err := s.db.QueryRow(
		`select id, email, display_name from users where email=$1`,
		email,
	).Scan(&user.ID, &user.Email, &user.DisplayName)
	if err == sql.ErrNoRows {
		return nil, vouch.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying user by email")
	}
	return &user, nil
}

func (s *Store) InsertUser(user *vouch.User) error {
	_, err := s.db.Exec(
		`insert into users (id, email, display_name) values ($1, $2, $3)
		on conflict (email) do nothing`,
		user.ID, user.Email, user.DisplayName,
	)
	return errors.Wrap(err, "inserting user")
}

func (s *Store) FindCredentialsByUser(userID []byte) ([]*vouch.Credential, error) {
	rows, err := s.db.Query(
		`select credential_id, user_id, public_key, sign_count
		from credentials where user_id=$1`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying credentials by user")
	}
	defer rows.Close()

	creds := []*vouch.Credential{}
	for rows.Next() {
		cred := vouch.Credential{}
		if err := rows.Scan(&cred.CredentialID, &cred.UserID, &cred.PublicKey, &cred.SignCount); err != nil {
			return nil, errors.Wrap(err, "scanning credential row")
		}
		creds = append(creds, &cred)
	}
	return creds, rows.Err()
}

func (s *Store) FindCredentialByID(credentialID []byte) (*vouch.Credential, error) {
	cred := vouch.Credential{}
	err := s.db.QueryRow(
		`select credential_id, user_id, public_key, sign_count
		from credentials where credential_id=$1`,
		credentialID,
	).Scan(&cred.CredentialID, &cred.UserID, &cred.PublicKey, &cred.SignCount)
	if err == sql.ErrNoRows {
		return nil, vouch.ErrUnknownCredential
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying credential by id")
	}
	return &cred, nil
}

func (s *Store) InsertCredential(cred *vouch.Credential) error {
	res, err := s.db.Exec(
		`insert into credentials (credential_id, user_id, public_key, sign_count)
		values ($1, $2, $3, $4)
		on conflict (credential_id) do nothing`,
		cred.CredentialID, cred.UserID, cred.PublicKey, cred.SignCount,
	)
	if err != nil {
		return errors.Wrap(err, "inserting credential")
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return vouch.ErrCredentialRegistered
	}
	return nil
}

//UpdateSignCount relies on the conditional update being atomic per row:
//the write only lands if the stored counter still holds the expected value.
func (s *Store) UpdateSignCount(credentialID []byte, from, to uint32) error {
	res, err := s.db.Exec(
		`update credentials set sign_count=$3
		where credential_id=$1 and sign_count=$2`,
		credentialID, from, to,
	)
	if err != nil {
		return errors.Wrap(err, "updating sign count")
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, err := s.FindCredentialByID(credentialID); err != nil {
			return err
		}
		return vouch.ErrCounterConflict
	}
	return nil
}

var migrations = []string{
	`create table users (
		id bytea primary key,
		email text not null unique,
		display_name text not null
	);

	create table credentials (
		credential_id bytea primary key,
		user_id bytea not null references users (id),
		public_key bytea not null,
		sign_count bigint not null
	);

	create index credentials_user_id on credentials (user_id);
	`,
}
