// Package circulation holds the rules shared by the reservation queue
// and the loan ledger: the error taxonomy, the lifecycle transition
// checks, queue advancement and the periodic sweeps.
package circulation

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// errors used by controllers

type ErrCode string

const (
	ErrNotFound             ErrCode = "NOT_FOUND"
	ErrForbidden            ErrCode = "FORBIDDEN"
	ErrInvalidState         ErrCode = "INVALID_STATE"
	ErrDuplicateReservation ErrCode = "DUPLICATE_ACTIVE_RESERVATION"
	ErrReservationLimit     ErrCode = "RESERVATION_LIMIT_EXCEEDED"
	ErrLoanLimit            ErrCode = "LOAN_LIMIT_EXCEEDED"
	ErrBookUnavailable      ErrCode = "BOOK_UNAVAILABLE"
	ErrBusy                 ErrCode = "BUSY"
)

type codedError struct{ code ErrCode }

func (e codedError) Error() string { return string(e.code) }
func (e codedError) Code() ErrCode { return e.code }
func Err(c ErrCode) error          { return codedError{code: c} }

// Code extracts error code
func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

// MapLockErr converts a bounded-wait failure on a row lock into the
// retryable BUSY code. Anything else passes through untouched.
func MapLockErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.LockNotAvailable, pgerrcode.DeadlockDetected:
			return Err(ErrBusy)
		}
	}
	return err
}
