// Package storage provides the encrypted, file-backed credential store.
package storage

import "context"

const (
	// ErrKeyIO is returned when the encryption key file cannot be read,
	// created or parsed. It is fatal for store construction.
	ErrKeyIO Error = "key file i/o failed"
	// ErrDecrypt is returned when any credential line fails authenticated
	// decryption. The whole load is aborted.
	ErrDecrypt Error = "credential decryption failed"
	// ErrMalformedRecord is returned when a decrypted line is not a single
	// username/password pair.
	ErrMalformedRecord Error = "malformed credential record"
	// ErrFileIO is returned when the credential file cannot be read, removed
	// or written. After a failed write the in-memory table may diverge from
	// the file until the next reload.
	ErrFileIO Error = "credential file i/o failed"
	// ErrInvalidCredential is returned for usernames or passwords that the
	// line format cannot round-trip (empty, or containing a comma or
	// whitespace).
	ErrInvalidCredential Error = "username and password must be non-empty and contain no commas or whitespace"
)

// Error is an error type returned by the storage implementation.
type Error string

// Error satisfies [error].
func (e Error) Error() string { return string(e) }

// Credentials are the read methods on a credential store used to make
// authorization decisions.
type Credentials interface {
	// Reload replaces the in-memory table with the current contents of the
	// backing file. On error the previous table is kept.
	Reload(ctx context.Context) error
	// Lookup returns the password for username, and whether it exists.
	Lookup(username string) (password string, ok bool)
}

// Store is the full credential store, including mutation.
type Store interface {
	Credentials
	// Usernames returns every stored username in ascending order.
	Usernames() []string
	// Add inserts a new username. It reports false without error if the
	// username already exists.
	Add(ctx context.Context, username, password string) (bool, error)
	// Remove deletes a username. It reports false without error if the
	// username does not exist.
	Remove(ctx context.Context, username string) (bool, error)
	// Replace sets the password of an existing username. It reports false
	// without error if the username does not exist.
	Replace(ctx context.Context, username, password string) (bool, error)
}
