// Package store holds the persistence helpers every service shares:
// transactions, row locking, and translation of driver constraint errors
// into the apperr taxonomy.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/d9705996/perseo/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const postgresDialect = "postgres"

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Tx runs fn inside one database transaction bound to ctx. fn's error rolls
// the transaction back and is returned unchanged.
func Tx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}

// ForUpdate adds a row lock to the next query on Postgres. SQLite has no
// row-level locks; writers are serialised by the database lock instead.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == postgresDialect {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// IsUniqueViolation reports whether err is a unique-constraint violation on
// any supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// IsForeignKeyViolation reports whether err is a foreign-key violation on
// any supported driver.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// Translate maps store errors onto the apperr taxonomy. entity names the
// row kind for not-found and conflict messages. Errors already classified
// pass through untouched.
func Translate(err error, entity string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(entity)
	case IsUniqueViolation(err):
		e := apperr.Conflict("duplicate", entity+" already exists")
		e.Err = err
		return e
	case IsForeignKeyViolation(err):
		e := apperr.NotFound("referenced " + entity)
		e.Err = err
		return e
	default:
		return apperr.Internal(err)
	}
}
