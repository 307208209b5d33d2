package datastore

import (
	"errors"
	"fmt"
)

// Error codes carried by StoreError.
const (
	CodeDuplicateKey        = "DUPLICATE_KEY"
	CodeKeyNotFound         = "KEY_NOT_FOUND"
	CodeTransactionConflict = "TRANSACTION_CONFLICT"
	CodeNoSuchTable         = "NO_SUCH_TABLE"
	CodeNoSuchIndex         = "NO_SUCH_INDEX"
	CodeNoPrimaryKey        = "NO_PRIMARY_KEY"
	CodeKeyMismatch         = "KEY_MISMATCH"
	CodeTxClosed            = "TX_CLOSED"
	CodeReadOnly            = "READ_ONLY"
	CodeSequenceExhausted   = "SEQUENCE_EXHAUSTED"
)

// Sentinels for errors.Is. A *StoreError matches the sentinel with its code.
var (
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrKeyNotFound         = errors.New("key not found")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrNoSuchTable         = errors.New("no such table")
	ErrNoSuchIndex         = errors.New("no such index")
	ErrNoPrimaryKey        = errors.New("table has no primary key")
	ErrKeyMismatch         = errors.New("row primary key does not match key")
	ErrTxClosed            = errors.New("transaction already finished")
	ErrReadOnly            = errors.New("read-only transaction")
	ErrSequenceExhausted   = errors.New("auto-increment sequence exhausted")
)

var sentinels = map[string]error{
	CodeDuplicateKey:        ErrDuplicateKey,
	CodeKeyNotFound:         ErrKeyNotFound,
	CodeTransactionConflict: ErrTransactionConflict,
	CodeNoSuchTable:         ErrNoSuchTable,
	CodeNoSuchIndex:         ErrNoSuchIndex,
	CodeNoPrimaryKey:        ErrNoPrimaryKey,
	CodeKeyMismatch:         ErrKeyMismatch,
	CodeTxClosed:            ErrTxClosed,
	CodeReadOnly:            ErrReadOnly,
	CodeSequenceExhausted:   ErrSequenceExhausted,
}

// StoreError is returned by every datastore operation that fails.
// Any StoreError from a write leaves the transaction usable, but callers
// running reducers abort on it.
type StoreError struct {
	Code    string
	Table   string
	Message string
}

func (e *StoreError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: table %s: %s", e.Code, e.Table, e.Message)
}

// Is matches the package sentinel for e.Code.
func (e *StoreError) Is(target error) bool {
	return sentinels[e.Code] == target
}

func storeErrorf(code, table, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Table: table, Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is a transaction conflict, the only
// error a caller may resolve by retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}
