package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm translated", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"pg code", fmt.Errorf("put pending change: %w", &pgconn.PgError{Code: PGUniqueViolation}), true},
		{"postgres", errors.New(`ERROR: duplicate key value violates unique constraint "ux_plan_change_requests_pending" (SQLSTATE 23505)`), true},
		{"mysql", errors.New("Error 1062: Duplicate entry"), true},
		{"sqlite", errors.New("constraint failed: UNIQUE constraint failed: plan_change_requests.contract_id (2067)"), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestRetryableTxErrors(t *testing.T) {
	cases := []struct {
		name          string
		err           error
		lockTimeout   bool
		serialization bool
	}{
		{"nil", nil, false, false},
		{"pg lock not available", fmt.Errorf("lock contract: %w", &pgconn.PgError{Code: PGLockNotAvailable}), true, false},
		{"pg serialization", &pgconn.PgError{Code: PGSerializationFailure}, false, true},
		{"pg deadlock", &pgconn.PgError{Code: PGDeadlockDetected}, false, true},
		{"mysql lock wait", errors.New("Error 1205: Lock wait timeout exceeded"), true, false},
		{"mysql deadlock", errors.New("Error 1213: Deadlock found"), false, true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true, false},
		{"unique violation", &pgconn.PgError{Code: PGUniqueViolation}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.lockTimeout, IsLockTimeout(tc.err))
			assert.Equal(t, tc.serialization, IsSerializationFailure(tc.err))
			assert.Equal(t, tc.lockTimeout || tc.serialization, IsRetryableTxErr(tc.err))
		})
	}
}

func TestPGCode(t *testing.T) {
	assert.Equal(t, PGLockNotAvailable, PGCode(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: PGLockNotAvailable})))
	assert.Empty(t, PGCode(errors.New("plain")))
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)

	d, err := Dialect(Config{Type: "postgres", Host: "localhost", Port: "5432"})
	assert.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
}
