package history

import (
	"context"
	stderrors "errors"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/database"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/lib/pq"
)

type baseRepo struct {
	db database.DB
}

func (r *baseRepo) beginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := r.db.GetDB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, dbError("failed to begin transaction", err)
	}
	return tx, nil
}

func (r *baseRepo) commit(tx database.Transaction) error {
	if err := tx.Commit(); err != nil {
		return dbError("failed to commit transaction", err)
	}
	return nil
}

func (r *baseRepo) rollback(tx database.Transaction) {
	_ = tx.Rollback()
}

func (r *baseRepo) rebind(query string) string {
	return r.db.GetDB().Rebind(query)
}

func (r *baseRepo) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return dbError("failed to ping database", err)
	}
	return nil
}

func (r *baseRepo) Close() error {
	if err := r.db.Close(); err != nil {
		return dbError("failed to close database", err)
	}
	return nil
}

// dbError maps driver failures onto API errors. Postgres connection
// exceptions (SQLSTATE class 08) and shutdowns (57P) surface as 503.
func dbError(msg string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "57":
			return errors.NewUnavailableError(msg, err)
		}
	}
	return errors.NewDatabaseError(msg, err)
}
