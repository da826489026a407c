package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStorage marks a write the database refused.
var ErrStorage = errors.New("storage error")

// StorageError carries the PostgreSQL error code of a rejected write, when known.
type StorageError struct {
	Op   string
	Code string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (sqlstate %s): %v", ErrStorage, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var inner *StorageError
	if errors.As(err, &inner) {
		return &StorageError{Op: op, Code: inner.Code, Err: inner.Err}
	}
	out := &StorageError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		out.Code = pgErr.Code
	}
	return out
}

// IsConstraintViolation reports whether err is an integrity constraint violation
// (SQLSTATE class 23).
func IsConstraintViolation(err error) bool {
	var se *StorageError
	if errors.As(err, &se) && len(se.Code) == 5 {
		return se.Code[:2] == "23"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
	}
	return false
}
