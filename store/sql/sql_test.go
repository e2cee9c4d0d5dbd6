package sql

import (
	"database/sql"
	"os"
	"testing"

	"github.com/vouch-auth/vouch/store"
)

//TestSQLStore runs the contract suite against a real PostgreSQL instance.
//Point VOUCH_SQL_TEST_DSN at a throwaway database to enable it.
func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("VOUCH_SQL_TEST_DSN")
	if dsn == "" {
		t.Skip("VOUCH_SQL_TEST_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s, err := New(db)
	if err != nil {
		t.Fatal(err)
	}

	store.Test(t, s)
}
