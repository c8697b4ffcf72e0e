package hubservice

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// ReasonBadTokenOrState is reported when an ack or upload does not match a
// request in the expected state.
const ReasonBadTokenOrState = "bad-token-or-state"

// RequestCapture registers a new capture request for the device to pick up.
func (s *HubService) RequestCapture(ctx context.Context) (models.TriggerResponse, error) {
	req, err := s.Captures.Create(ctx)
	if err != nil {
		return models.TriggerResponse{}, errors.NewUnavailableError("failed to create capture request", err)
	}
	return models.TriggerResponse{OK: true, Token: req.Token, Seq: req.Seq}, nil
}

// NextCapture answers the device's capture poll.
func (s *HubService) NextCapture(ctx context.Context, since int64) (models.CaptureNextResponse, error) {
	notice, err := s.Poll.Next(ctx, models.KindCapture, since)
	if err != nil {
		return models.CaptureNextResponse{}, err
	}
	return models.CaptureNextResponse{Capture: notice.Pending, Seq: notice.Seq, Token: notice.Token}, nil
}

// AckCapture records the device's acknowledgement. OK is false when the ack
// did not move a request from REQUESTED to ACKED.
func (s *HubService) AckCapture(ctx context.Context, token string, seq int64) (models.AckResponse, error) {
	ok, err := s.Poll.Ack(ctx, models.KindCapture, seq, strings.TrimSpace(token))
	if err != nil {
		return models.AckResponse{}, err
	}
	if !ok {
		return models.AckResponse{OK: false, Reason: ReasonBadTokenOrState}, nil
	}
	return models.AckResponse{OK: true}, nil
}

// CaptureState reports where a capture request is in its lifecycle. Records
// already dropped from memory are answered from history when available.
func (s *HubService) CaptureState(ctx context.Context, token string) (models.StateResponse, error) {
	if token == "" {
		return models.StateResponse{}, errors.NewValidationError("token is required", nil)
	}
	latest, err := s.Gate.Latest(ctx)
	if err != nil {
		return models.StateResponse{}, err
	}

	if req, ok := s.Captures.Query(token); ok {
		return captureStateResponse(req, latest.TS), nil
	}

	rec, err := s.History.Get(ctx, models.KindCapture, token)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return models.StateResponse{}, errors.NewNotFoundError("unknown-token", err)
		}
		return models.StateResponse{}, err
	}
	return historyStateResponse(rec, latest.TS), nil
}

func captureStateResponse(req models.CaptureRequest, latestTS int64) models.StateResponse {
	resp := models.StateResponse{
		OK:          true,
		Token:       req.Token,
		Seq:         req.Seq,
		State:       string(req.State),
		TSRequested: unixMilli(req.CreatedAt),
		TSAcked:     unixMilli(req.AckedAt),
		TSPublished: unixMilli(req.PublishedAt),
		ImageTS:     req.ImageTS,
		LatestTS:    latestTS,
	}
	if req.ImageRef != "" {
		resp.ImageURL = ArtifactURL(req.ImageRef)
	}
	if req.State == models.CaptureTimedOut {
		resp.Reason = "timed-out"
	}
	return resp
}

func historyStateResponse(rec *models.HistoryRecord, latestTS int64) models.StateResponse {
	resp := models.StateResponse{
		OK:          true,
		Token:       rec.ID,
		Seq:         rec.Seq,
		State:       rec.State,
		TSRequested: rec.CreatedAt,
		LatestTS:    latestTS,
	}
	if rec.AckedAt != nil {
		resp.TSAcked = *rec.AckedAt
	}
	if rec.FinishedAt != nil && rec.State == string(models.CapturePublished) {
		resp.TSPublished = *rec.FinishedAt
	}
	if rec.ImageTS != nil {
		resp.ImageTS = *rec.ImageTS
	}
	if rec.ImageRef != nil {
		resp.ImageURL = ArtifactURL(*rec.ImageRef)
	}
	if rec.State == string(models.CaptureTimedOut) {
		resp.Reason = "timed-out"
	}
	return resp
}

// onCaptureTransition mirrors every capture transition into history and
// the event counters.
func (s *HubService) onCaptureTransition(req models.CaptureRequest) {
	s.Monitoring.RecordEvent("capture_"+strings.ToLower(string(req.State)), map[string]string{"token": req.Token})

	rec := &models.HistoryRecord{
		Kind:      models.KindCapture,
		ID:        req.Token,
		Seq:       req.Seq,
		State:     string(req.State),
		CreatedAt: unixMilli(req.CreatedAt),
		AckedAt:   optMilli(req.AckedAt),
		UpdatedAt: unixMilli(s.now()),
	}
	switch req.State {
	case models.CapturePublished:
		rec.FinishedAt = optMilli(req.PublishedAt)
		rec.ImageTS = &req.ImageTS
		rec.ImageRef = &req.ImageRef
	case models.CaptureTimedOut:
		rec.FinishedAt = optMilli(req.TimedOutAt)
	}

	ctx, cancel := historyContext()
	defer cancel()
	if err := s.History.Upsert(ctx, rec); err != nil {
		nuts.L.Errorf("[HubService] Failed to record capture %s: %v", req.Token, err)
	}
}
