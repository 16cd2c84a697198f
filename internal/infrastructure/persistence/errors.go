package persistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes the accessors act on
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgConnectionClass     = "08"
	pgAdminShutdown       = "57P01"
	pgCannotConnectNow    = "57P03"
	pgTooManyConnections  = "53300"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
)

// errTransient marks an error the retry loop may retry.
type errTransient struct{ err error }

func (e *errTransient) Error() string { return e.err.Error() }
func (e *errTransient) Unwrap() error { return e.err }

// errorTarget names the record a write was about, for error context. The
// constraint names are reported when the driver does not supply one.
type errorTarget struct {
	entity    string
	id        string
	unique    string
	reference string
}

// classify maps a driver error to the shared taxonomy. Unique and foreign key
// violations become ConflictError and ReferenceError, as does a write the
// ledger's append-only trigger refused. Connectivity failures are marked
// transient. Anything else is returned unchanged.
func classify(err error, target errorTarget) error {
	if err == nil || isClassified(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return shared.NewConflictError(target.entity, target.id, orDefault(pgErr.ConstraintName, target.unique), err)
		case pgErr.Code == pgForeignKeyViolation:
			return shared.NewReferenceError(target.entity, target.id, orDefault(pgErr.ConstraintName, target.reference), err)
		case pgErr.Code == pgCheckViolation && pgErr.ConstraintName == constraintLedgerAppendOnly:
			return shared.NewConflictError(target.entity, target.id, constraintLedgerAppendOnly, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == pgConnectionClass,
			pgErr.Code == pgAdminShutdown,
			pgErr.Code == pgCannotConnectNow,
			pgErr.Code == pgTooManyConnections,
			pgErr.Code == pgSerializationFail,
			pgErr.Code == pgDeadlockDetected:
			return &errTransient{err: err}
		}
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return shared.NewConflictError(target.entity, target.id, target.unique, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return shared.NewReferenceError(target.entity, target.id, target.reference, err)
	case errors.Is(err, driver.ErrBadConn):
		return &errTransient{err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &errTransient{err: err}
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return &errTransient{err: err}
	}
	return err
}

// isTransient reports whether err was marked retryable by classify.
func isTransient(err error) bool {
	var t *errTransient
	return errors.As(err, &t)
}

func isClassified(err error) bool {
	var (
		transient *errTransient
		conflict  *shared.ConflictError
		ref       *shared.ReferenceError
	)
	return errors.As(err, &transient) || errors.As(err, &conflict) || errors.As(err, &ref)
}

func orDefault(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
