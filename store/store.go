//Package store and its subpackages provide persistence backends for the
//vouch store contracts. The memory backend is for tests and demos, bolt is a
//single-node embedded backend, and sql targets PostgreSQL.
//
//All backends return the vouch sentinel errors (vouch.ErrUserNotFound,
//vouch.ErrUnknownCredential, vouch.ErrCounterConflict) so callers can branch
//with errors.Is regardless of backend.
package store
