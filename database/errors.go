package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStorageUnavailable is matched when the database cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrVersionConflict is returned from a CompareAndSwap callback when the
	// row changed since it was read.
	ErrVersionConflict = errors.New("version conflict")
)

// UnavailableError wraps a connection-level failure of the store.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return ErrStorageUnavailable.Error() + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

// Classify wraps connection-class failures in UnavailableError and returns
// every other error unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	if isConnectionError(err) {
		return &UnavailableError{Err: err}
	}
	return err
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 is connection exception, 57P0x is operator intervention
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
