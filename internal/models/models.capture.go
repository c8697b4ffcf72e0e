// FilePath: server/meterhub/internal/models/models.capture.go
package models

import "time"

// WorkKind names one of the two independent sequence-numbered work queues.
type WorkKind string

const (
	KindCapture WorkKind = "capture"
	KindRelay   WorkKind = "relay"
)

// Valid reports whether k is a known work kind.
func (k WorkKind) Valid() bool {
	return k == KindCapture || k == KindRelay
}

type CaptureState string

const (
	CaptureRequested CaptureState = "REQUESTED"
	CaptureAcked     CaptureState = "ACKED"
	CapturePublished CaptureState = "PUBLISHED"
	CaptureTimedOut  CaptureState = "TIMED_OUT"
)

// IsTerminal reports whether no further transition can leave s.
func (s CaptureState) IsTerminal() bool {
	return s == CapturePublished || s == CaptureTimedOut
}

// CaptureRequest is a single operator-initiated capture tracked by token.
// Zero timestamps mean the stage has not been reached.
type CaptureRequest struct {
	Token       string       `json:"token"`
	Seq         int64        `json:"seq"`
	State       CaptureState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	AckedAt     time.Time    `json:"acked_at,omitempty"`
	PublishedAt time.Time    `json:"published_at,omitempty"`
	TimedOutAt  time.Time    `json:"timed_out_at,omitempty"`
	Deadline    time.Time    `json:"deadline"`
	ImageTS     int64        `json:"image_ts,omitempty"`
	ImageRef    string       `json:"image_ref,omitempty"`
}

// PublishOutcome is the result of handing an uploaded artifact to a capture.
type PublishOutcome int

const (
	// PublishAccepted means the artifact became the latest and the capture is PUBLISHED.
	PublishAccepted PublishOutcome = iota
	// PublishSuperseded means a newer artifact was already published; the upload is discarded.
	PublishSuperseded
	// PublishInvalidState means the token is unknown or not ACKED.
	PublishInvalidState
)

func (o PublishOutcome) String() string {
	switch o {
	case PublishAccepted:
		return "accepted"
	case PublishSuperseded:
		return "superseded"
	case PublishInvalidState:
		return "invalid-state"
	default:
		return "unknown"
	}
}
