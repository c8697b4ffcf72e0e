// FilePath: server/meterhub/internal/models/models.history.go
package models

// HistoryRecord is the persisted form of a capture or relay request.
// Timestamps are unix milliseconds; nil means the stage was never reached.
type HistoryRecord struct {
	Kind       WorkKind `json:"kind" db:"kind"`
	ID         string   `json:"id" db:"id"`
	Seq        int64    `json:"seq" db:"seq"`
	State      string   `json:"state" db:"state"`
	CreatedAt  int64    `json:"created_at" db:"created_at"`
	AckedAt    *int64   `json:"acked_at,omitempty" db:"acked_at"`
	FinishedAt *int64   `json:"finished_at,omitempty" db:"finished_at"`
	ImageTS    *int64   `json:"image_ts,omitempty" db:"image_ts"`
	ImageRef   *string  `json:"image_ref,omitempty" db:"image_ref"`
	DurationMs *int64   `json:"duration_ms,omitempty" db:"duration_ms"`
	UpdatedAt  int64    `json:"updated_at" db:"updated_at"`
}

// ArtifactReading is an OCR result stored against an artifact timestamp.
type ArtifactReading struct {
	TS         int64   `json:"ts" db:"ts"`
	Ref        string  `json:"ref" db:"ref"`
	Reading    string  `json:"reading" db:"reading"`
	Confidence float64 `json:"confidence" db:"confidence"`
	Notes      string  `json:"notes" db:"notes"`
	CreatedAt  int64   `json:"created_at" db:"created_at"`
}
