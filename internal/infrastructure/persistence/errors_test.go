package persistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	target := errorTarget{entity: "project", id: "p-1", unique: "projects_company_id_code_key", reference: "projects_company_id_fkey"}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify(nil, target))
	})

	t.Run("unique violation is a conflict with the driver's constraint", func(t *testing.T) {
		err := classify(&pgconn.PgError{Code: "23505", ConstraintName: "projects_pkey"}, target)
		var conflict *shared.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "project", conflict.Entity)
		assert.Equal(t, "p-1", conflict.ID)
		assert.Equal(t, "projects_pkey", conflict.Constraint)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
		assert.False(t, isTransient(err))
	})

	t.Run("foreign key violation is a reference error", func(t *testing.T) {
		err := classify(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), target)
		var ref *shared.ReferenceError
		require.ErrorAs(t, err, &ref)
		assert.Equal(t, "projects_company_id_fkey", ref.Constraint)
	})

	t.Run("translated gorm errors use default constraints", func(t *testing.T) {
		var conflict *shared.ConflictError
		require.ErrorAs(t, classify(gorm.ErrDuplicatedKey, target), &conflict)
		assert.Equal(t, "projects_company_id_code_key", conflict.Constraint)

		var ref *shared.ReferenceError
		require.ErrorAs(t, classify(gorm.ErrForeignKeyViolated, target), &ref)
		assert.Equal(t, "projects_company_id_fkey", ref.Constraint)
	})

	t.Run("append-only refusal is a conflict", func(t *testing.T) {
		entryTarget := errorTarget{entity: "ledger_entry", id: "e-1"}
		err := classify(fmt.Errorf("update: %w", &pgconn.PgError{Code: "23514", ConstraintName: "ledger_append_only"}), entryTarget)
		var conflict *shared.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "ledger_entry", conflict.Entity)
		assert.Equal(t, "e-1", conflict.ID)
		assert.Equal(t, constraintLedgerAppendOnly, conflict.Constraint)
		assert.False(t, isTransient(err))

		other := &pgconn.PgError{Code: "23514", ConstraintName: "ledger_entries_amount_check"}
		assert.Equal(t, error(other), classify(other, entryTarget))
	})

	t.Run("connectivity failures are transient", func(t *testing.T) {
		for _, err := range []error{
			&pgconn.PgError{Code: "08006"},
			&pgconn.PgError{Code: "57P01"},
			&pgconn.PgError{Code: "53300"},
			&pgconn.PgError{Code: "40001"},
			driver.ErrBadConn,
			&net.OpError{Op: "dial", Err: errors.New("connection refused")},
		} {
			assert.True(t, isTransient(classify(err, target)), "%v", err)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		for _, err := range []error{
			&pgconn.PgError{Code: "22P02"},
			gorm.ErrRecordNotFound,
			context.DeadlineExceeded,
			shared.ErrNotFound,
		} {
			got := classify(err, target)
			assert.Equal(t, err, got)
			assert.False(t, isTransient(got))
		}
	})

	t.Run("classified errors are not rewrapped", func(t *testing.T) {
		first := classify(&pgconn.PgError{Code: "23505"}, target)
		assert.Same(t, first, classify(first, errorTarget{entity: "other"}))
	})
}
