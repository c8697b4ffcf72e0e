// FilePath: server/meterhub/internal/repository/repository.go
package repository

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
)

var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput indicates that the input data is invalid
	ErrInvalidInput = errors.New("invalid input")
)

// SequenceLedger hands out strictly increasing sequence numbers per work kind
// and remembers the highest sequence a device has acknowledged.
type SequenceLedger interface {
	// Allocate increments and returns the counter for kind.
	Allocate(ctx context.Context, kind models.WorkKind) (int64, error)
	// Poll reports pending=true, seq=current iff current > since; otherwise
	// pending=false, seq=since. It never mutates.
	Poll(ctx context.Context, kind models.WorkKind, since int64) (bool, int64, error)
	// Acknowledge raises last_seen to seq. Lower or repeated values are no-ops.
	Acknowledge(ctx context.Context, kind models.WorkKind, seq int64) error
	// Watermark returns the counter and last_seen for kind.
	Watermark(ctx context.Context, kind models.WorkKind) (current int64, lastSeen int64, err error)
	// Seed raises the counter to at least seq.
	Seed(ctx context.Context, kind models.WorkKind, seq int64) error
}

// ArtifactGate owns the latest published artifact and only lets strictly
// newer artifacts replace it.
type ArtifactGate interface {
	TryPublish(ctx context.Context, artifact models.Artifact) (bool, error)
	Latest(ctx context.Context) (models.Artifact, error)
	// Annotate attaches an OCR reading if ts is still the latest artifact.
	Annotate(ctx context.Context, ts int64, reading string, confidence float64) (bool, error)
}

// ArtifactStore keeps image payloads addressed by ref.
type ArtifactStore interface {
	Save(ctx context.Context, ref string, r io.Reader) (int64, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, ref string) error
	DeleteOldFiles(ctx context.Context, before time.Time, keep func(ref string) bool) (int, error)
}

// HistoryRepository persists capture and relay requests beyond process lifetime.
type HistoryRepository interface {
	Upsert(ctx context.Context, record *models.HistoryRecord) error
	Get(ctx context.Context, kind models.WorkKind, id string) (*models.HistoryRecord, error)
	List(ctx context.Context, kind models.WorkKind, offset, limit int) ([]*models.HistoryRecord, error)
	MaxSeq(ctx context.Context, kind models.WorkKind) (int64, error)
	SaveReading(ctx context.Context, reading *models.ArtifactReading) error
	LatestReading(ctx context.Context) (*models.ArtifactReading, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// NopHistory is the HistoryRepository used when no history driver is configured.
type NopHistory struct{}

func (NopHistory) Upsert(context.Context, *models.HistoryRecord) error { return nil }

func (NopHistory) Get(context.Context, models.WorkKind, string) (*models.HistoryRecord, error) {
	return nil, ErrNotFound
}

func (NopHistory) List(context.Context, models.WorkKind, int, int) ([]*models.HistoryRecord, error) {
	return nil, nil
}

func (NopHistory) MaxSeq(context.Context, models.WorkKind) (int64, error) { return 0, nil }

func (NopHistory) SaveReading(context.Context, *models.ArtifactReading) error { return nil }

func (NopHistory) LatestReading(context.Context) (*models.ArtifactReading, error) {
	return nil, ErrNotFound
}

func (NopHistory) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (NopHistory) Close() error { return nil }
