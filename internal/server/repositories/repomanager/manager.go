// Package repomanager vends repository implementations bound to a database
// handle and exposes the schema migration hook.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/avolkau/wayfinder-auth/internal/dbx"
	"github.com/avolkau/wayfinder-auth/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to either the pooled
// connection or a transaction handle, so services can run the same repository
// code inside and outside transactions.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
