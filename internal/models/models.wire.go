// FilePath: server/meterhub/internal/models/models.wire.go
package models

// APIPrefix is where the hub's HTTP API is mounted.
const APIPrefix = "/api/v1"

// WorkNotice answers a device poll: is there work newer than the device's since?
type WorkNotice struct {
	Kind       WorkKind
	Pending    bool
	Seq        int64
	Token      string
	DurationMs int64
}

// CaptureNextResponse is the device-facing wire form of a capture WorkNotice.
type CaptureNextResponse struct {
	Capture bool   `json:"capture"`
	Seq     int64  `json:"seq"`
	Token   string `json:"token,omitempty"`
}

// RelayNextResponse is the device-facing wire form of a relay WorkNotice.
type RelayNextResponse struct {
	Activate   bool  `json:"activate"`
	Seq        int64 `json:"seq"`
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// TriggerResponse answers POST /capture and POST /relay/activate.
type TriggerResponse struct {
	OK         bool   `json:"ok"`
	Token      string `json:"token,omitempty"`
	Seq        int64  `json:"seq"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// AckResponse answers device acknowledgements.
type AckResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// StateResponse is the client-facing view of a capture or relay request.
// Capture and relay share it so a single wait-loop can follow either.
type StateResponse struct {
	OK          bool   `json:"ok"`
	Token       string `json:"token,omitempty"`
	Seq         int64  `json:"seq"`
	State       string `json:"state"`
	TSRequested int64  `json:"ts_requested"`
	TSAcked     int64  `json:"ts_acked,omitempty"`
	TSPublished int64  `json:"ts_published,omitempty"`
	TSCompleted int64  `json:"ts_completed,omitempty"`
	ImageTS     int64  `json:"image_ts,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	LatestTS    int64  `json:"latest_ts"`
	Reason      string `json:"reason,omitempty"`
}

// UploadResponse answers POST /upload. A superseded upload is not an error:
// OK is true and Accepted is false.
type UploadResponse struct {
	OK       bool   `json:"ok"`
	Accepted bool   `json:"accepted"`
	TS       int64  `json:"ts"`
	ImageURL string `json:"image_url,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// LatestResponse answers GET /latest.
type LatestResponse struct {
	HasImage bool         `json:"hasImage"`
	ImageURL *string      `json:"imageUrl"`
	Result   LatestResult `json:"result"`
}

type LatestResult struct {
	TS         int64   `json:"ts"`
	Reading    string  `json:"reading,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}
