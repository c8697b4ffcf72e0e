// Package devicepoll answers the device's differential polls ("anything newer
// than since?") and records its acknowledgements.
package devicepoll

import (
	"context"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/capture"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/relay"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

type Handler struct {
	ledger   repository.SequenceLedger
	captures *capture.Machine
	relays   *relay.Book
}

func NewHandler(ledger repository.SequenceLedger, captures *capture.Machine, relays *relay.Book) *Handler {
	return &Handler{ledger: ledger, captures: captures, relays: relays}
}

// Next is side-effect free. The token or duration of the newest work item is
// attached when it is still known; a device that receives pending without a
// token can still acknowledge by seq.
func (h *Handler) Next(ctx context.Context, kind models.WorkKind, since int64) (models.WorkNotice, error) {
	if !kind.Valid() {
		return models.WorkNotice{}, errors.NewValidationError("unknown work kind: "+string(kind), nil)
	}
	if since < 0 {
		since = 0
	}
	pending, seq, err := h.ledger.Poll(ctx, kind, since)
	if err != nil {
		return models.WorkNotice{}, err
	}
	notice := models.WorkNotice{Kind: kind, Pending: pending, Seq: seq}
	if pending {
		switch kind {
		case models.KindCapture:
			notice.Token, _ = h.captures.TokenForSeq(seq)
		case models.KindRelay:
			if req, ok := h.relays.Peek(seq); ok {
				notice.DurationMs = req.Duration.Milliseconds()
			}
		}
	}
	nuts.L.Debugf("[DevicePoll] %s since=%d -> pending=%v seq=%d", kind, since, pending, seq)
	return notice, nil
}

// Ack records that the device acted on seq. It returns false when the ack
// changed no request state (a replay, an unknown token, a late ack). The
// ledger watermark is raised whenever seq is given, whatever the outcome.
func (h *Handler) Ack(ctx context.Context, kind models.WorkKind, seq int64, token string) (bool, error) {
	switch kind {
	case models.KindCapture:
		if token == "" && seq <= 0 {
			return false, errors.NewValidationError("token or seq is required", nil)
		}
		if seq > 0 {
			if err := h.ledger.Acknowledge(ctx, kind, seq); err != nil {
				return false, err
			}
		}
		if token != "" {
			return h.captures.Ack(ctx, token), nil
		}
		if token, ok := h.captures.TokenForSeq(seq); ok {
			return h.captures.Ack(ctx, token), nil
		}
		return false, nil
	case models.KindRelay:
		if seq <= 0 {
			return false, errors.NewValidationError("seq is required", nil)
		}
		return h.relays.Complete(ctx, seq), nil
	default:
		return false, errors.NewValidationError("unknown work kind: "+string(kind), nil)
	}
}
