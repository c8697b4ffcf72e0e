// FilePath: server/meterhub/internal/models/models.relay.go
package models

import "time"

type RelayState string

const (
	RelayRequested RelayState = "REQUESTED"
	RelayDone      RelayState = "DONE"
	RelayTimedOut  RelayState = "TIMED_OUT"
)

func (s RelayState) IsTerminal() bool {
	return s == RelayDone || s == RelayTimedOut
}

// RelayRequest asks the device to energize its relay (the pump) for Duration.
// The device reports completion directly, there is no separate ack stage.
type RelayRequest struct {
	ID          string        `json:"id"`
	Seq         int64         `json:"seq"`
	State       RelayState    `json:"state"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	TimedOutAt  time.Time     `json:"timed_out_at,omitempty"`
	Deadline    time.Time     `json:"deadline"`
}
