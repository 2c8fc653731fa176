// Package kv defines the transactional key-value backend contract this
// engine is built on (spec §6 "KV backend contract (consumed)") and ships
// two reference implementations: memkv, an in-process sorted map used by
// tests and as the default runtime backend, and boltkv, a durable
// single-node backend over go.etcd.io/bbolt.
package kv

import "context"

// Isolation selects the snapshot discipline a transaction runs under
// (spec §4.6 "Isolation levels").
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

// Entry is one key/value pair returned from a Scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator yields Scan results in key order (ascending, or descending when
// the scan was opened with Reverse). Close must be called when done.
type Iterator interface {
	Next() bool
	Entry() Entry
	Err() error
	Close() error
}

// Backend is the contract an executor depends on; it never assumes a
// single-node or in-process implementation so a real distributed KV
// cluster driver can be substituted without touching C2-C7.
type Backend interface {
	// Begin starts a new transaction at the given isolation level.
	Begin(ctx context.Context, iso Isolation) (Txn, error)
}

// Txn is a single transaction's view over the backend. All key ranges are
// compared lexicographically on raw bytes (spec §6).
type Txn interface {
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)

	// Scan returns entries in [start, end), lexicographic on raw bytes,
	// ascending or (reverse) descending. limit <= 0 means unbounded.
	Scan(ctx context.Context, start, end []byte, limit int, reverse bool) (Iterator, error)

	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Increment atomically adds delta to the counter stored at key
	// (creating it at 0 if absent) and returns the new value. Used by
	// sequence allocation (spec §5 "sequence counters ... atomic fetch-add").
	Increment(ctx context.Context, key []byte, delta int64) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Savepoint/RollbackTo/Release implement nested savepoint markers
	// (spec §4.6): ROLLBACK TO discards writes since the marker but keeps
	// earlier writes in the same transaction.
	Savepoint(ctx context.Context, id string) error
	RollbackTo(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

// ConflictError is returned by Commit when the transaction could not be
// serialized against concurrent writers; it is retryable (spec §7
// SerializationFailure), unlike a fatal backend error.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "write conflict: " + e.Reason }
