package device

import (
	"bytes"
	"encoding/json"
	"io"
)

// captureNotice and relayNotice use pointer fields so a missing key can be
// told apart from a zero value.
type captureNotice struct {
	Capture *bool   `json:"capture"`
	Seq     *int64  `json:"seq"`
	Token   *string `json:"token"`
}

type relayNotice struct {
	Activate   *bool  `json:"activate"`
	Seq        *int64 `json:"seq"`
	DurationMs *int64 `json:"duration_ms"`
}

// Work is a decoded, pending work item.
type Work struct {
	Seq        int64
	Token      string
	DurationMs int64
}

// DecodeCaptureNext parses a capture poll answer. It reports ok only for a
// well-formed answer with capture=true and a positive seq; anything else
// means "no action".
func DecodeCaptureNext(body []byte) (Work, bool) {
	var n captureNotice
	if !decodeStrict(body, &n) || n.Capture == nil || n.Seq == nil {
		return Work{}, false
	}
	if !*n.Capture || *n.Seq <= 0 {
		return Work{}, false
	}
	w := Work{Seq: *n.Seq}
	if n.Token != nil {
		w.Token = *n.Token
	}
	return w, true
}

// DecodeRelayNext parses a relay poll answer with the same fail-closed rules.
func DecodeRelayNext(body []byte) (Work, bool) {
	var n relayNotice
	if !decodeStrict(body, &n) || n.Activate == nil || n.Seq == nil {
		return Work{}, false
	}
	if !*n.Activate || *n.Seq <= 0 {
		return Work{}, false
	}
	w := Work{Seq: *n.Seq}
	if n.DurationMs != nil && *n.DurationMs > 0 {
		w.DurationMs = *n.DurationMs
	}
	return w, true
}

// decodeStrict accepts exactly one JSON object, surrounding whitespace
// allowed. Wrong field types fail the decode.
func decodeStrict(body []byte, v any) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return false
	}
	// More reports false on a stray closing delimiter, so read to EOF instead.
	return dec.Decode(&json.RawMessage{}) == io.EOF
}
