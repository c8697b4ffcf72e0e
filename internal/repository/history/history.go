// FilePath: server/meterhub/internal/repository/history/history.go
package history

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/database"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// Repo is a HistoryRepository backed by PostgreSQL or SQLite through sqlx.
// Queries are written with ? placeholders and rebound for the driver.
type Repo struct {
	baseRepo
}

var _ repository.HistoryRepository = (*Repo)(nil)

func NewRepository(db database.DB) *Repo {
	return &Repo{baseRepo: baseRepo{db: db}}
}

func (r *Repo) Upsert(ctx context.Context, record *models.HistoryRecord) error {
	if record == nil || !record.Kind.Valid() || record.ID == "" {
		return errors.NewValidationError("history record needs a kind and id", repository.ErrInvalidInput)
	}
	if record.UpdatedAt == 0 {
		record.UpdatedAt = time.Now().UnixMilli()
	}

	query := r.rebind(`
		INSERT INTO request_history (
			kind, id, seq, state, created_at, acked_at, finished_at,
			image_ts, image_ref, duration_ms, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			state = excluded.state,
			acked_at = excluded.acked_at,
			finished_at = excluded.finished_at,
			image_ts = excluded.image_ts,
			image_ref = excluded.image_ref,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`)

	_, err := r.db.GetDB().ExecContext(ctx, query,
		record.Kind, record.ID, record.Seq, record.State, record.CreatedAt,
		record.AckedAt, record.FinishedAt, record.ImageTS, record.ImageRef,
		record.DurationMs, record.UpdatedAt,
	)
	if err != nil {
		return dbError("failed to upsert history record", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, kind models.WorkKind, id string) (*models.HistoryRecord, error) {
	record := &models.HistoryRecord{}
	query := r.rebind(`SELECT * FROM request_history WHERE kind = ? AND id = ?`)

	err := r.db.GetDB().GetContext(ctx, record, query, kind, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("history record not found", repository.ErrNotFound)
		}
		return nil, dbError("failed to get history record", err)
	}
	return record, nil
}

// List returns records of kind, newest sequence first.
func (r *Repo) List(ctx context.Context, kind models.WorkKind, offset, limit int) ([]*models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records := []*models.HistoryRecord{}
	query := r.rebind(`
		SELECT * FROM request_history
		WHERE kind = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`)

	if err := r.db.GetDB().SelectContext(ctx, &records, query, kind, limit, offset); err != nil {
		return nil, dbError("failed to list history records", err)
	}
	return records, nil
}

func (r *Repo) MaxSeq(ctx context.Context, kind models.WorkKind) (int64, error) {
	var seq int64
	query := r.rebind(`SELECT COALESCE(MAX(seq), 0) FROM request_history WHERE kind = ?`)
	if err := r.db.GetDB().GetContext(ctx, &seq, query, kind); err != nil {
		return 0, dbError("failed to read max sequence", err)
	}
	return seq, nil
}

func (r *Repo) SaveReading(ctx context.Context, reading *models.ArtifactReading) error {
	if reading == nil || reading.TS <= 0 {
		return errors.NewValidationError("reading needs an artifact timestamp", repository.ErrInvalidInput)
	}
	if reading.CreatedAt == 0 {
		reading.CreatedAt = time.Now().UnixMilli()
	}

	query := r.rebind(`
		INSERT INTO artifact_readings (ts, ref, reading, confidence, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ts) DO UPDATE SET
			ref = excluded.ref,
			reading = excluded.reading,
			confidence = excluded.confidence,
			notes = excluded.notes,
			created_at = excluded.created_at`)

	_, err := r.db.GetDB().ExecContext(ctx, query,
		reading.TS, reading.Ref, reading.Reading, reading.Confidence, reading.Notes, reading.CreatedAt,
	)
	if err != nil {
		return dbError("failed to save reading", err)
	}
	return nil
}

func (r *Repo) LatestReading(ctx context.Context) (*models.ArtifactReading, error) {
	reading := &models.ArtifactReading{}
	query := `SELECT * FROM artifact_readings ORDER BY ts DESC LIMIT 1`

	if err := r.db.GetDB().GetContext(ctx, reading, query); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("no reading stored", repository.ErrNotFound)
		}
		return nil, dbError("failed to get latest reading", err)
	}
	return reading, nil
}

// DeleteBefore prunes history rows last touched before the cutoff and
// readings older than it. The newest reading always survives.
func (r *Repo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()

	tx, err := r.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer r.rollback(tx)

	res, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM request_history WHERE updated_at < ?`), cutoff)
	if err != nil {
		return 0, dbError("failed to prune history", err)
	}
	records, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, r.rebind(`
		DELETE FROM artifact_readings
		WHERE created_at < ?
		AND ts < (SELECT MAX(ts) FROM artifact_readings)`), cutoff)
	if err != nil {
		return 0, dbError("failed to prune readings", err)
	}
	readings, _ := res.RowsAffected()

	if err := r.commit(tx); err != nil {
		return 0, err
	}

	if records+readings > 0 {
		nuts.L.Infof("[HistoryRepo] Pruned %d records and %d readings older than %v", records, readings, before)
	}
	return records + readings, nil
}
