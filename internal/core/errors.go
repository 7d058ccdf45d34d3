package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidArguments       = errors.New("invalid arguments")
	ErrInvalidRetentionPolicy = errors.New("invalid retention policy")
	ErrCommandInUse           = errors.New("command is referenced by a job")
)

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps everything else.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// IsPermanent reports whether repeating the failed operation cannot
// succeed: the row is gone, or PostgreSQL rejected the statement itself
// (bad data, constraint violation, syntax). Connection failures and server
// errors of the classes below are transient.
//
//	08 connection exception     40 transaction rollback
//	53 insufficient resources   57 operator intervention
//	58 system error
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "08", "40", "53", "57", "58":
		return false
	}
	return true
}
